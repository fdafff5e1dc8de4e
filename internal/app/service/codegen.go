package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeAlphabet is the 62-character alphabet generated codes are drawn from.
const CodeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultCodeLength is the length of generated short codes.
const DefaultCodeLength = 6

var alphabetSize = big.NewInt(int64(len(CodeAlphabet)))

// CodeGenerator produces candidate short codes. Implementations must be safe
// for concurrent use.
type CodeGenerator interface {
	NewCode() (string, error)
}

// RandomCodeGenerator samples each character uniformly, with replacement,
// from CodeAlphabet using crypto/rand. It holds no mutable state.
type RandomCodeGenerator struct {
	length int
}

// NewRandomCodeGenerator returns a generator for codes of the given length
// (DefaultCodeLength when length <= 0).
func NewRandomCodeGenerator(length int) *RandomCodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &RandomCodeGenerator{length: length}
}

// Length returns the length of generated codes.
func (g *RandomCodeGenerator) Length() int { return g.length }

func (g *RandomCodeGenerator) NewCode() (string, error) {
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate short code: %w", err)
		}
		b.WriteByte(CodeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

var _ CodeGenerator = (*RandomCodeGenerator)(nil)
