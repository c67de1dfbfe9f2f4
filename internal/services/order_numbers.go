package services

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	orderNumberPrefix = "ORD-"
	orderNumberLength = 6
	// orderNumberAlphabet omits 0/O and 1/I so numbers survive being read
	// aloud or handwritten. 32 symbols divide the byte range evenly, so
	// modulo mapping is unbiased.
	orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// orderNumberAttempts bounds the uniqueness retry loop at creation time.
	orderNumberAttempts = 5
)

// OrderNumberGenerator produces candidate customer-facing order numbers.
// Uniqueness is enforced by the caller against the order store.
type OrderNumberGenerator interface {
	Generate() (string, error)
}

type orderNumberGenerator struct {
	random io.Reader
}

// NewOrderNumberGenerator returns a generator backed by crypto/rand.
func NewOrderNumberGenerator() OrderNumberGenerator {
	return &orderNumberGenerator{random: rand.Reader}
}

// NewOrderNumberGeneratorFromReader returns a generator drawing randomness
// from the supplied reader. Tests inject deterministic sources here.
func NewOrderNumberGeneratorFromReader(random io.Reader) OrderNumberGenerator {
	if random == nil {
		random = rand.Reader
	}
	return &orderNumberGenerator{random: random}
}

func (g *orderNumberGenerator) Generate() (string, error) {
	buf := make([]byte, orderNumberLength)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("order number: read randomness: %w", err)
	}
	out := make([]byte, 0, len(orderNumberPrefix)+orderNumberLength)
	out = append(out, orderNumberPrefix...)
	for _, b := range buf {
		out = append(out, orderNumberAlphabet[int(b)%len(orderNumberAlphabet)])
	}
	return string(out), nil
}
