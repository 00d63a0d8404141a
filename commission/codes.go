package commission

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"
	"strings"
)

// =============================================================================
// REFERRAL / ORDER CODES
// =============================================================================

var (
	orderCodeRe    = regexp.MustCompile(`^[A-Za-z0-9_-]{12}$`)
	mechanicCodeRe = regexp.MustCompile(`^[A-Z0-9_-]{8}$`)
)

// GenerateOrderCode returns a 12-character URL-safe order code for QR
// sharing.
func GenerateOrderCode() string {
	b := make([]byte, 9)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)[:12]
}

// GenerateMechanicCode returns an 8-character uppercase referral code.
func GenerateMechanicCode() string {
	b := make([]byte, 6)
	rand.Read(b)
	return strings.ToUpper(base64.RawURLEncoding.EncodeToString(b))[:8]
}

func IsValidOrderCode(code string) bool    { return orderCodeRe.MatchString(code) }
func IsValidMechanicCode(code string) bool { return mechanicCodeRe.MatchString(code) }
