package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/platform/apperr"
	"authgate/internal/platform/clock"
)

var testIdentity = Identity{
	UserID:  "u1",
	Subject: "alice@example.com",
	Roles:   []string{"admin"},
	Profile: "default",
}

func newCodec(t *testing.T) (*TokenCodec, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	c, err := NewTestTokenCodec(clk)
	if err != nil {
		t.Fatalf("NewTestTokenCodec: %v", err)
	}
	return c, clk
}

func TestTokenCodec_MintAndParse(t *testing.T) {
	c, clk := newCodec(t)

	access, exp, err := c.Mint(KindAccess, testIdentity, 15*time.Minute)
	if err != nil {
		t.Fatalf("Mint access: %v", err)
	}
	if !exp.Equal(clk.Now().Add(15 * time.Minute)) {
		t.Errorf("expiresAt = %v, want now+15m", exp)
	}
	claims, err := c.Parse(access)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Subject != "alice@example.com" || claims.TokenType != KindAccess {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" || claims.Profile != "default" {
		t.Errorf("access token should carry roles and profile, got %v / %q", claims.Roles, claims.Profile)
	}

	refresh, _, err := c.Mint(KindRefresh, testIdentity, time.Hour)
	if err != nil {
		t.Fatalf("Mint refresh: %v", err)
	}
	rc, err := c.Parse(refresh)
	if err != nil {
		t.Fatalf("Parse refresh: %v", err)
	}
	if rc.TokenType != KindRefresh || len(rc.Roles) != 0 || rc.Profile != "" {
		t.Errorf("refresh token should carry only identity claims, got %+v", rc)
	}
}

func TestTokenCodec_MintIsUnique(t *testing.T) {
	c, _ := newCodec(t)
	a, _, _ := c.Mint(KindRefresh, testIdentity, time.Hour)
	b, _, _ := c.Mint(KindRefresh, testIdentity, time.Hour)
	if a == b {
		t.Fatal("tokens minted at the same instant must differ")
	}
}

func TestTokenCodec_ParseFailures(t *testing.T) {
	c, clk := newCodec(t)

	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	foreign := NewTokenCodec(otherKey, otherKey.Public(), "test-issuer", "test-audience", clk)
	foreignToken, _, _ := foreign.Mint(KindAccess, testIdentity, time.Hour)

	wrongAud := NewTokenCodec(c.privateKey, c.publicKey, "test-issuer", "someone-else", clk)
	wrongAudToken, _, _ := wrongAud.Mint(KindAccess, testIdentity, time.Hour)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice@example.com"})
	hsToken, _ := hs.SignedString([]byte("secret"))

	valid, _, _ := c.Mint(KindAccess, testIdentity, time.Hour)
	tampered := valid[:len(valid)-4] + "AAAA"
	if tampered == valid {
		tampered = valid[:len(valid)-4] + "BBBB"
	}

	testCases := []struct {
		name  string
		token string
		want  apperr.Kind
	}{
		{"garbage", "not-a-token", apperr.TokenMalformed},
		{"empty", "", apperr.TokenMalformed},
		{"foreign key", foreignToken, apperr.SignatureInvalid},
		{"wrong audience", wrongAudToken, apperr.SignatureInvalid},
		{"hmac algorithm", hsToken, apperr.SignatureInvalid},
		{"tampered signature", tampered, apperr.SignatureInvalid},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Parse(tc.token)
			if got := apperr.KindOf(err); got != tc.want {
				t.Errorf("Parse kind = %v, want %v (err %v)", got, tc.want, err)
			}
		})
	}
}

func TestTokenCodec_Expiry(t *testing.T) {
	c, clk := newCodec(t)
	tok, _, err := c.Mint(KindAccess, testIdentity, time.Minute)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	expired, err := c.IsExpired(tok)
	if err != nil || expired {
		t.Fatalf("IsExpired fresh = %v, %v; want false, nil", expired, err)
	}
	left, _ := c.TimeUntilExpiration(tok)
	if left != time.Minute {
		t.Errorf("TimeUntilExpiration = %v, want 1m", left)
	}

	clk.Advance(time.Minute)
	if expired, _ := c.IsExpired(tok); !expired {
		t.Error("token should be expired exactly at exp")
	}

	clk.Advance(30 * time.Second)
	left, _ = c.TimeUntilExpiration(tok)
	if left != -30*time.Second {
		t.Errorf("TimeUntilExpiration after expiry = %v, want -30s", left)
	}
	if _, err := c.IsExpired("garbage"); err == nil {
		t.Error("IsExpired on garbage should fail")
	}
}

func TestTokenCodec_Validate(t *testing.T) {
	c, clk := newCodec(t)
	tok, _, _ := c.Mint(KindAccess, testIdentity, time.Minute)

	if _, err := c.Validate(tok, "alice@example.com"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := c.Validate(tok, "bob@example.com"); !errors.Is(err, apperr.ErrSubjectMismatch) {
		t.Errorf("Validate wrong subject: got %v", err)
	}
	clk.Advance(2 * time.Minute)
	if _, err := c.Validate(tok, "alice@example.com"); !errors.Is(err, apperr.ErrTokenExpired) {
		t.Errorf("Validate expired: got %v", err)
	}
}

func TestTokenCodec_ValidateKind(t *testing.T) {
	c, _ := newCodec(t)
	access, _, _ := c.Mint(KindAccess, testIdentity, time.Minute)
	refresh, _, _ := c.Mint(KindRefresh, testIdentity, time.Minute)

	if _, err := c.ValidateKind(refresh, KindRefresh); err != nil {
		t.Fatalf("ValidateKind refresh: %v", err)
	}
	if _, err := c.ValidateKind(access, KindRefresh); !errors.Is(err, apperr.ErrTokenMalformed) {
		t.Errorf("access presented as refresh: got %v", err)
	}
}
