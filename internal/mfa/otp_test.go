package mfa

import (
	"testing"
)

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func TestRandomGenerator_LengthAndCharset(t *testing.T) {
	for _, n := range []int{4, 6, 8, 10} {
		g := NewRandomGenerator(n)
		otp, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(otp) != n {
			t.Errorf("OTP length = %d, want %d", len(otp), n)
		}
		if !isDigits(otp) {
			t.Errorf("OTP contains non-digit: %s", otp)
		}
	}
	if g := NewRandomGenerator(0); g.Length != DefaultLength {
		t.Errorf("default length = %d, want %d", g.Length, DefaultLength)
	}
}

func TestRandomGenerator_Randomness(t *testing.T) {
	g := NewRandomGenerator(8)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		otp, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if seen[otp] {
			t.Errorf("duplicate OTP generated: %s", otp)
		}
		seen[otp] = true
	}
}

func TestRandomGenerator_AllDigitsAppear(t *testing.T) {
	g := NewRandomGenerator(10)
	counts := make(map[rune]int)
	for i := 0; i < 200; i++ {
		otp, _ := g.Generate()
		for _, c := range otp {
			counts[c]++
		}
	}
	for d := '0'; d <= '9'; d++ {
		if counts[d] == 0 {
			t.Errorf("digit %c never generated in 2000 draws", d)
		}
	}
}

func TestFixedGenerator(t *testing.T) {
	otp, err := FixedGenerator{Code: "123456"}.Generate()
	if err != nil || otp != "123456" {
		t.Errorf("Generate = %q, %v", otp, err)
	}
	if _, err := (FixedGenerator{}).Generate(); err == nil {
		t.Error("empty fixed code should fail")
	}
}

func TestSMSGenerator(t *testing.T) {
	if _, ok := SMSGenerator("123456", 6).(FixedGenerator); !ok {
		t.Error("fixed code should select FixedGenerator")
	}
	if _, ok := SMSGenerator("", 6).(*RandomGenerator); !ok {
		t.Error("empty fixed code should select RandomGenerator")
	}
}
