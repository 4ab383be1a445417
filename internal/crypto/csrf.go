package crypto

import (
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CSRFProtection issues and checks stateless anti-forgery tokens of the form
// nonce.unixSeconds.signature. The token travels in a JavaScript-readable
// cookie and must be echoed back in a header or form field.
type CSRFProtection struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewCSRFProtection creates a new CSRF protection instance
func NewCSRFProtection(signingKey []byte, ttl time.Duration) CSRFProtection {
	return CSRFProtection{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Generate creates a new CSRF token
func (c *CSRFProtection) Generate() (string, error) {
	nonce, err := GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	data := nonce + "." + strconv.FormatInt(c.now().Unix(), 10)
	return data + "." + SignData(data, c.signingKey), nil
}

// Validate checks that token is well formed, correctly signed and unexpired
func (c *CSRFProtection) Validate(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return false
	}
	if c.now().Sub(time.Unix(issued, 0)) > c.ttl {
		return false
	}
	return ValidateSignedData(parts[0]+"."+parts[1], parts[2], c.signingKey)
}

// Matches implements the double-submit check: the submitted value must equal
// the cookie value and the cookie value must itself be valid.
func (c *CSRFProtection) Matches(cookieValue, submitted string) bool {
	if cookieValue == "" || submitted == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(cookieValue), []byte(submitted)) != 1 {
		return false
	}
	return c.Validate(cookieValue)
}
