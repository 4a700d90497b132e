package services

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// secretAlphabet holds 32 lowercase characters with look-alikes (0, 1, l, o)
// removed. 256 is a multiple of 32, so byte%32 is unbiased.
const secretAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// DefaultClaimSecretLength is the length of generated claim secrets.
const DefaultClaimSecretLength = 12

const qrDelimiter = ":"

// Scan failures. Messages are shown to visitors as-is.
var (
	ErrQrMalformed     = errors.New("This doesn't appear to be a valid badge QR code")
	ErrQrWrongPassport = errors.New("This QR code is for a different event")
	ErrQrWrongBadge    = errors.New("This QR code is for a different badge")
	ErrQrWrongSecret   = errors.New("Invalid QR code")
)

// ClaimToken is the decoded content of a badge QR code.
type ClaimToken struct {
	PassportID string `json:"passportId"`
	BadgeID    string `json:"badgeId"`
	Secret     string `json:"secret"`
}

// GenerateClaimSecret returns a random secret drawn from crypto/rand. A
// non-positive length falls back to DefaultClaimSecretLength.
func GenerateClaimSecret(length int) (string, error) {
	if length <= 0 {
		length = DefaultClaimSecretLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(buf), nil
}

// BuildQrData encodes a claim token as "{passportId}:{badgeId}:{secret}".
// Fields are not escaped; ids are slugs and secrets never contain ':'.
func BuildQrData(passportID, badgeID, secret string) string {
	return strings.Join([]string{passportID, badgeID, secret}, qrDelimiter)
}

// ParseQrData decodes scanned data. It fails with ErrQrMalformed unless the
// input splits into exactly three non-empty parts.
func ParseQrData(data string) (ClaimToken, error) {
	parts := strings.Split(data, qrDelimiter)
	if len(parts) != 3 {
		return ClaimToken{}, ErrQrMalformed
	}
	for _, p := range parts {
		if p == "" {
			return ClaimToken{}, ErrQrMalformed
		}
	}
	return ClaimToken{PassportID: parts[0], BadgeID: parts[1], Secret: parts[2]}, nil
}

// ValidateQrScan checks scanned data against the badge being claimed. The
// checks run in a fixed order so the visitor is told the most useful reason:
// parse, then passport, then badge, then secret.
func ValidateQrScan(data string, expected ClaimToken) error {
	token, err := ParseQrData(data)
	if err != nil {
		return err
	}
	if token.PassportID != expected.PassportID {
		return ErrQrWrongPassport
	}
	if token.BadgeID != expected.BadgeID {
		return ErrQrWrongBadge
	}
	if subtle.ConstantTimeCompare([]byte(token.Secret), []byte(expected.Secret)) != 1 {
		return ErrQrWrongSecret
	}
	return nil
}

// IsQrScanError reports whether err is one of the visitor-facing scan errors.
func IsQrScanError(err error) bool {
	return errors.Is(err, ErrQrMalformed) ||
		errors.Is(err, ErrQrWrongPassport) ||
		errors.Is(err, ErrQrWrongBadge) ||
		errors.Is(err, ErrQrWrongSecret)
}
