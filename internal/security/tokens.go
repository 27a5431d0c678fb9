package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authgate/internal/platform/apperr"
	"authgate/internal/platform/clock"
)

// ErrUnsupportedKey is returned when the signing key is neither RSA nor ECDSA.
var ErrUnsupportedKey = errors.New("unsupported signing key")

// TokenKind distinguishes access from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Identity is what a token is minted for. Roles and Profile are only embedded in access tokens.
type Identity struct {
	UserID  string
	Subject string // email
	Roles   []string
	Profile string
}

// Claims are the JWT claims carried by both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string    `json:"uid"`
	TokenType TokenKind `json:"token_type"`
	Roles     []string  `json:"roles,omitempty"`
	Profile   string    `json:"profile,omitempty"`
}

// TokenCodec mints and decodes signed tokens using RS256 or ES256 (private/public key).
// It holds no session state; revocation is the session manager's job.
type TokenCodec struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	clock      clock.Clock
}

// NewTokenCodec returns a TokenCodec that signs with privateKey and verifies with publicKey.
// issuer and audience are set on claims and checked on parse.
func NewTokenCodec(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, clk clock.Clock) *TokenCodec {
	return &TokenCodec{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		clock:      clock.OrSystem(clk),
	}
}

// Mint signs a token of the given kind for id, valid for ttl from now.
// Every token carries a random jti so two tokens minted in the same second never collide.
func (c *TokenCodec) Mint(kind TokenKind, id Identity, ttl time.Duration) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := c.clock.Now()
	expiresAt = now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   id.Subject,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:    id.UserID,
		TokenType: kind,
	}
	if kind == KindAccess {
		claims.Roles = id.Roles
		claims.Profile = id.Profile
	}
	token, err = c.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt.Truncate(time.Second), nil
}

func (c *TokenCodec) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch c.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrUnsupportedKey
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(c.privateKey)
}

// Parse verifies the signature, issuer and audience and returns the claims. Expiry is not checked.
// Fails with TokenMalformed or SignatureInvalid.
func (c *TokenCodec) Parse(tokenString string) (*Claims, error) {
	const op = "token.Parse"
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return c.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, apperr.Wrap(apperr.SignatureInvalid, op, err)
		}
		return nil, apperr.Wrap(apperr.TokenMalformed, op, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.E(apperr.TokenMalformed, op)
	}
	if claims.ExpiresAt == nil || claims.UserID == "" {
		return nil, apperr.E(apperr.TokenMalformed, op)
	}
	// A token we did not issue for this audience is treated like a foreign signature.
	if claims.Issuer != c.issuer || !audienceContains(claims.Audience, c.audience) {
		return nil, apperr.E(apperr.SignatureInvalid, op)
	}
	return claims, nil
}

// IsExpired reports whether the token's expiry is at or before now.
func (c *TokenCodec) IsExpired(tokenString string) (bool, error) {
	d, err := c.TimeUntilExpiration(tokenString)
	if err != nil {
		return false, err
	}
	return d <= 0, nil
}

// TimeUntilExpiration returns the time left before expiry. The result is negative once expired;
// callers treat anything <= 0 as expired.
func (c *TokenCodec) TimeUntilExpiration(tokenString string) (time.Duration, error) {
	claims, err := c.Parse(tokenString)
	if err != nil {
		return 0, err
	}
	return claims.ExpiresAt.Time.Sub(c.clock.Now()), nil
}

// Validate fails unless the signature is valid, the subject equals expectedSubject and the
// token is not expired.
func (c *TokenCodec) Validate(tokenString, expectedSubject string) (*Claims, error) {
	const op = "token.Validate"
	claims, err := c.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != expectedSubject {
		return nil, apperr.E(apperr.SubjectMismatch, op)
	}
	if !c.clock.Now().Before(claims.ExpiresAt.Time) {
		return nil, apperr.E(apperr.TokenExpired, op)
	}
	return claims, nil
}

// ValidateKind parses the token, requires the given kind and rejects expired tokens.
// A token of the wrong kind fails as TokenMalformed.
func (c *TokenCodec) ValidateKind(tokenString string, kind TokenKind) (*Claims, error) {
	const op = "token.ValidateKind"
	claims, err := c.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != kind {
		return nil, apperr.E(apperr.TokenMalformed, op)
	}
	if !c.clock.Now().Before(claims.ExpiresAt.Time) {
		return nil, apperr.E(apperr.TokenExpired, op)
	}
	return claims, nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
