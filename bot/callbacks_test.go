package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCbDecode(t *testing.T) {
	cmd := cbDecode("a:42:30")
	assert.Equal(t, cbApprove, cmd.action)
	id, ok := cmd.int64Arg(0)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	days, ok := cmd.intArg(1)
	assert.True(t, ok)
	assert.Equal(t, 30, days)

	cmd = cbDecode("rq")
	assert.Equal(t, cbRequest, cmd.action)
	assert.Empty(t, cmd.args)

	cmd = cbDecode("c:wg")
	assert.Equal(t, cbConfig, cmd.action)
	assert.Equal(t, []string{"wg"}, cmd.args)
}

func TestCbDecodeMalformed(t *testing.T) {
	cmd := cbDecode("a:notanumber")
	_, ok := cmd.int64Arg(0)
	assert.False(t, ok)

	// missing argument index
	cmd = cbDecode("d:1")
	_, ok = cmd.intArg(1)
	assert.False(t, ok)

	cmd = cbDecode("")
	assert.Equal(t, "", cmd.action)
}

func TestCallbackRoundTrip(t *testing.T) {
	kb := reviewKeyboard(42, 30)
	row := kb.InlineKeyboard[0]

	approve := cbDecode(row[0].CallbackData)
	assert.Equal(t, cbApprove, approve.action)
	id, _ := approve.int64Arg(0)
	days, _ := approve.intArg(1)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 30, days)

	deny := cbDecode(row[1].CallbackData)
	assert.Equal(t, cbDeny, deny.action)
	id, _ = deny.int64Arg(0)
	assert.Equal(t, int64(42), id)
}
