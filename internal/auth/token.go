// Package auth signs and checks the short-lived tokens a browser presents
// when it opens the voice socket for an interview session.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenSID    = errors.New("session id mismatch")
	ErrNoSecret    = errors.New("token secret not configured")
)

func sign(secret, msg string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// SessionToken returns base64url(session_id "." exp "." hex(hmac_sha256(secret, session_id "." exp))).
func SessionToken(secret, sessionID string, exp time.Time) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	msg := sessionID + "." + strconv.FormatInt(exp.Unix(), 10)
	raw := msg + "." + hex.EncodeToString(sign(secret, msg))
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// ValidateSessionToken checks the signature, that the token was issued for
// expectSessionID, and that it has not expired beyond skew.
func ValidateSessionToken(secret, token, expectSessionID string, now time.Time, skew time.Duration) (time.Time, error) {
	if secret == "" {
		return time.Time{}, ErrNoSecret
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, ErrTokenFormat
	}
	parts := strings.Split(string(b), ".")
	if len(parts) != 3 {
		return time.Time{}, ErrTokenFormat
	}
	sid, expStr, sigHex := parts[0], parts[1], parts[2]
	expUnix, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return time.Time{}, ErrTokenFormat
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return time.Time{}, ErrTokenFormat
	}
	if !hmac.Equal(sign(secret, sid+"."+expStr), got) {
		return time.Time{}, ErrTokenSig
	}
	if sid != expectSessionID {
		return time.Time{}, ErrTokenSID
	}
	exp := time.Unix(expUnix, 0)
	if now.After(exp.Add(skew)) {
		return time.Time{}, ErrTokenExp
	}
	return exp, nil
}
