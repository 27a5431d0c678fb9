// Package device derives the coarse device identity used to bind sessions: a fingerprint hash of
// client metadata and a human-readable label.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DisabledFingerprint is returned for every client when fingerprinting is turned off,
// so a user's logins all collapse into one device.
const DisabledFingerprint = "fingerprint-disabled"

// Fingerprinter hashes (ip, user agent, salt) into a stable device fingerprint.
type Fingerprinter struct {
	enabled bool
	salt    string
}

// NewFingerprinter returns a Fingerprinter. salt may be empty.
func NewFingerprinter(enabled bool, salt string) *Fingerprinter {
	return &Fingerprinter{enabled: enabled, salt: salt}
}

// Fingerprint returns the hex SHA-256 of ip|userAgent|salt. The concatenation is order-sensitive.
func (f *Fingerprinter) Fingerprint(ip, userAgent string) string {
	if f == nil || !f.enabled {
		return DisabledFingerprint
	}
	return Fingerprint(ip, userAgent, f.salt)
}

// Fingerprint is the salted hash used by Fingerprinter.
func Fingerprint(ip, userAgent, salt string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(ip))
	b.WriteByte('|')
	b.WriteString(strings.TrimSpace(userAgent))
	b.WriteByte('|')
	b.WriteString(salt)
	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:])
}
