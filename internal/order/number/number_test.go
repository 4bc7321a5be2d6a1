package number

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFormat(t *testing.T) {
	gen := NewGenerator()
	now := time.Date(2025, 3, 9, 22, 0, 0, 0, time.UTC)

	value, err := gen.Next(now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^ORD250309\d{6}$`), value)
}

func TestNextUsesUTCDate(t *testing.T) {
	gen := NewGenerator()
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2025, 3, 10, 2, 0, 0, 0, loc)

	value, err := gen.Next(now)
	require.NoError(t, err)
	assert.Equal(t, "ORD250309", value[:9])
}

func TestNextFailsWhenEntropyIsExhausted(t *testing.T) {
	gen := NewGeneratorWithSource(bytes.NewReader(nil))
	_, err := gen.Next(time.Now())
	assert.Error(t, err)
}

func TestNextVaries(t *testing.T) {
	gen := NewGenerator()
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		value, err := gen.Next(time.Now())
		require.NoError(t, err)
		seen[value] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}
