package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, `user\_name`, Sanitize("user_name"))
	assert.Equal(t, `\(42\)`, Sanitize("(42)"))
	assert.Equal(t, "plain text", Sanitize("plain text"))
	assert.Equal(t, `a\.b\-c\!`, Sanitize("a.b-c!"))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "3d 4h", formatRemaining(3*24*time.Hour+4*time.Hour+30*time.Minute))
	assert.Equal(t, "12h", formatRemaining(12*time.Hour+5*time.Minute))
	assert.Equal(t, "less than an hour", formatRemaining(30*time.Minute))
}

func TestSplitMessage(t *testing.T) {
	short := "hello"
	assert.Equal(t, []string{short}, splitMessage(short, 100))

	// splits at newlines when possible
	long := strings.Repeat("line one\n", 30)
	parts := splitMessage(long, 100)
	assert.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 100)
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}
