// Package session issues and validates the bridge's bearer credential.
//
// Exactly one token is live per bridge process. The token is issued at
// transport start and handed to the remote caller out of band (printed in
// direct mode, carried by the relay handshake in relay mode).
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/fogha/raiken-sub000/internal/errs"
)

// TTL is the implicit token lifetime, computed at validation time.
const TTL = 24 * time.Hour

var tokenPattern = regexp.MustCompile(`^([0-9a-z]+)-([0-9a-f]{64})$`)

// Validation failures.
var (
	ErrInvalidFormat = fmt.Errorf("%w: malformed token", errs.ErrSecurity)
	ErrExpired       = fmt.Errorf("%w: token expired", errs.ErrSecurity)
	ErrMismatch      = fmt.Errorf("%w: token mismatch", errs.ErrSecurity)
)

// Session is the single live credential for a bridge process. It is owned
// by the transport layer and passed by reference into auth checks.
type Session struct {
	Token    string
	IssuedAt time.Time
}

// Issue generates a fresh session. The token is a base-36 millisecond
// timestamp joined with 32 bytes of hex-encoded randomness.
func Issue() (*Session, error) {
	now := time.Now()

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	token := strconv.FormatInt(now.UnixMilli(), 36) + "-" + hex.EncodeToString(buf)
	return &Session{Token: token, IssuedAt: now}, nil
}

// Validate checks a presented token against the session. It is a pure
// check with no side effects.
func (s *Session) Validate(token string) error {
	m := tokenPattern.FindStringSubmatch(token)
	if m == nil {
		return ErrInvalidFormat
	}

	issuedMs, err := strconv.ParseInt(m[1], 36, 64)
	if err != nil {
		return ErrInvalidFormat
	}
	if time.Since(time.UnixMilli(issuedMs)) > TTL {
		return ErrExpired
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		return ErrMismatch
	}
	return nil
}
