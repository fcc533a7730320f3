package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC)
	s := Format(in)
	assert.Equal(t, "2026-03-01T15:04:05Z", s)

	out, err := Parse(s)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	// non-UTC input is normalized
	loc := time.FixedZone("CET", 3600)
	assert.Equal(t, "2026-03-01T14:04:05Z", Format(time.Date(2026, 3, 1, 15, 4, 5, 0, loc)))

	_, err = Parse("01.03.2026")
	assert.Error(t, err)
}

func TestWholeDays(t *testing.T) {
	assert.Equal(t, 3, WholeDays(3*24*time.Hour+23*time.Hour))
	assert.Equal(t, 0, WholeDays(23*time.Hour))
	assert.Equal(t, -1, WholeDays(-time.Minute))
}

func TestWholeHours(t *testing.T) {
	assert.Equal(t, 23, WholeHours(3*24*time.Hour+23*time.Hour+59*time.Minute))
	assert.Equal(t, 0, WholeHours(59*time.Minute))
	assert.Equal(t, -1, WholeHours(-time.Minute))
}
