// Package number issues human readable order numbers.
package number

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	Prefix      = "ORD"
	suffixSpace = 1000000
)

// Generator produces ORD + YYMMDD + six random digits. Uniqueness is
// enforced by the database; callers retry with a fresh number on conflict.
type Generator struct {
	random io.Reader
}

func NewGenerator() *Generator {
	return &Generator{random: rand.Reader}
}

// NewGeneratorWithSource is used by tests to make numbers predictable.
func NewGeneratorWithSource(r io.Reader) *Generator {
	return &Generator{random: r}
}

func (g *Generator) Next(now time.Time) (string, error) {
	n, err := rand.Int(g.random, big.NewInt(suffixSpace))
	if err != nil {
		return "", fmt.Errorf("order number suffix: %w", err)
	}
	return fmt.Sprintf("%s%s%06d", Prefix, now.UTC().Format("060102"), n.Int64()), nil
}
