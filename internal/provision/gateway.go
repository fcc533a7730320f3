// Package provision wraps the external client-config scripts. It is a pure
// side-effecting executor: whether to provision is decided by impl/core,
// which also serializes calls per user.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"matrixvpn/entity"
	"matrixvpn/internal/config"
	"matrixvpn/lib/sl"
)

// clientIdPattern is the allow-list for identifiers placed in the argument
// vector. The scripts are invoked without a shell, but the pattern keeps a
// corrupted id from ever reaching them.
var clientIdPattern = regexp.MustCompile(`^n[0-9]+$`)

type Gateway struct {
	createScript string
	deleteScript string
	configPath   string
	protocols    []entity.Protocol
	timeout      time.Duration
	log          *slog.Logger
}

func New(conf config.ProvisionConfig, log *slog.Logger) (*Gateway, error) {
	protocols := make([]entity.Protocol, 0, len(conf.Protocols))
	for _, code := range conf.Protocols {
		p, ok := entity.ProtocolByCode(code)
		if !ok {
			return nil, fmt.Errorf("unknown protocol code: %s", code)
		}
		protocols = append(protocols, p)
	}
	if len(protocols) == 0 {
		return nil, fmt.Errorf("no protocols configured")
	}
	timeout := time.Duration(conf.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Gateway{
		createScript: conf.CreateScript,
		deleteScript: conf.DeleteScript,
		configPath:   conf.ConfigPath,
		protocols:    protocols,
		timeout:      timeout,
		log:          log.With(sl.Module("provision")),
	}, nil
}

// ClientId maps the internal user id to the identifier the scripts key
// their per-client directory by. The mapping is stable: delete targets
// exactly what create produced.
func (g *Gateway) ClientId(userId int64) string {
	return "n" + strconv.FormatInt(userId, 10)
}

// ClientDir is the directory the scripts drop config files into.
func (g *Gateway) ClientDir(userId int64) string {
	return filepath.Join(g.configPath, g.ClientId(userId))
}

func (g *Gateway) Protocols() []entity.Protocol {
	result := make([]entity.Protocol, len(g.protocols))
	copy(result, g.protocols)
	return result
}

// Provision creates client configs for every configured protocol. Each
// protocol gets a best-effort delete first (stale configs from an earlier
// grant must not survive), then a create with the duration; only the create
// outcome decides the result's ok flag.
func (g *Gateway) Provision(ctx context.Context, userId int64, days int) []entity.ProtocolResult {
	clientId := g.ClientId(userId)
	results := make([]entity.ProtocolResult, 0, len(g.protocols))
	for _, proto := range g.protocols {
		// stale config cleanup, failure here is expected on first grant
		_ = g.invoke(ctx, g.deleteScript, proto.Code, clientId)

		r := g.invoke(ctx, g.createScript, proto.Code, clientId, strconv.Itoa(days))
		r.Action = entity.ActionCreate
		results = append(results, r)
	}
	return results
}

// Revoke deletes client configs for every configured protocol.
func (g *Gateway) Revoke(ctx context.Context, userId int64) []entity.ProtocolResult {
	clientId := g.ClientId(userId)
	results := make([]entity.ProtocolResult, 0, len(g.protocols))
	for _, proto := range g.protocols {
		r := g.invoke(ctx, g.deleteScript, proto.Code, clientId)
		r.Action = entity.ActionDelete
		results = append(results, r)
	}
	return results
}

// invoke runs one script with an argument vector (never a shell) and a
// bounded timeout. A timed-out invocation comes back as a failed result,
// not a hang.
func (g *Gateway) invoke(ctx context.Context, script string, args ...string) entity.ProtocolResult {
	result := entity.ProtocolResult{Protocol: args[0]}

	if len(args) > 1 && !clientIdPattern.MatchString(args[1]) {
		result.ExitCode = -1
		result.Stderr = "client id rejected: " + args[1]
		g.log.Error("invalid client id", slog.String("client_id", args[1]))
		return result
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, script, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case err == nil:
		result.Ok = true
	case runCtx.Err() == context.DeadlineExceeded:
		result.ExitCode = -1
		result.Stderr = "timeout after " + g.timeout.String()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}

	g.log.With(
		slog.String("script", script),
		slog.Any("args", args),
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("ok", result.Ok),
	).Debug("script invocation")
	return result
}
