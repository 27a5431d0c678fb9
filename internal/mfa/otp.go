// Package mfa generates one-time codes for the SMS and email factors.
package mfa

import (
	"crypto/rand"
	"errors"
)

// DefaultLength is the number of digits in a generated OTP.
const DefaultLength = 6

// Generator produces a numeric OTP.
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator draws digits from crypto/rand.
type RandomGenerator struct {
	Length int
}

// NewRandomGenerator returns a generator for codes of length digits (DefaultLength if <= 0).
func NewRandomGenerator(length int) *RandomGenerator {
	if length <= 0 {
		length = DefaultLength
	}
	return &RandomGenerator{Length: length}
}

// Generate returns Length uniformly distributed digits (e.g. "042917").
func (g *RandomGenerator) Generate() (string, error) {
	out := make([]byte, 0, g.Length)
	buf := make([]byte, g.Length*2)
	for len(out) < g.Length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// 250 is the largest multiple of 10 below 256; rejecting above it avoids modulo bias.
			if b >= 250 {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == g.Length {
				break
			}
		}
	}
	return string(out), nil
}

// FixedGenerator always returns the same code. Development only; config refuses it in production.
type FixedGenerator struct {
	Code string
}

var errEmptyFixedCode = errors.New("mfa: fixed OTP code is empty")

func (g FixedGenerator) Generate() (string, error) {
	if g.Code == "" {
		return "", errEmptyFixedCode
	}
	return g.Code, nil
}

// SMSGenerator returns the fixed development generator when fixedCode is set, otherwise a random one.
func SMSGenerator(fixedCode string, length int) Generator {
	if fixedCode != "" {
		return FixedGenerator{Code: fixedCode}
	}
	return NewRandomGenerator(length)
}
