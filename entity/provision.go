package entity

// ProvisionAction names what the external client script is asked to do.
type ProvisionAction string

const (
	ActionCreate ProvisionAction = "create"
	ActionDelete ProvisionAction = "delete"
)

// Protocol is one VPN protocol the gateway manages client configs for.
// Code is the short tag passed to the provisioning scripts; FileExt is the
// extension of the config file the script drops into the client directory.
type Protocol struct {
	Code    string
	Name    string
	FileExt string
}

var defaultProtocols = []Protocol{
	{Code: "ov", Name: "OpenVPN", FileExt: ".ovpn"},
	{Code: "wg", Name: "WireGuard", FileExt: ".conf"},
	{Code: "am", Name: "AmneziaWG", FileExt: ".conf"},
	{Code: "vl", Name: "VLESS", FileExt: ".json"},
}

// DefaultProtocols returns the full supported protocol set.
func DefaultProtocols() []Protocol {
	result := make([]Protocol, len(defaultProtocols))
	copy(result, defaultProtocols)
	return result
}

// ProtocolByCode resolves a configured protocol code, ok=false for unknown.
func ProtocolByCode(code string) (Protocol, bool) {
	for _, p := range defaultProtocols {
		if p.Code == code {
			return p, true
		}
	}
	return Protocol{}, false
}

// ProtocolResult is the outcome of one script invocation for one protocol.
type ProtocolResult struct {
	Protocol string          `json:"protocol"`
	Action   ProvisionAction `json:"action"`
	ExitCode int             `json:"exit_code"`
	Stdout   string          `json:"stdout,omitempty"`
	Stderr   string          `json:"stderr,omitempty"`
	Ok       bool            `json:"ok"`
}

// FailedResults filters the create/delete results that actually matter:
// a failed delete of a config that never existed is not a failure, so the
// gateway only marks create failures (and requested revokes) as not ok.
func FailedResults(results []ProtocolResult) []ProtocolResult {
	var failed []ProtocolResult
	for _, r := range results {
		if !r.Ok {
			failed = append(failed, r)
		}
	}
	return failed
}
