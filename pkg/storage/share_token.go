package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ShareSigner issues and verifies HMAC tokens referencing an archived
// document. The token itself is the access grant; the download route
// needs no other authentication.
type ShareSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewShareSigner constructs a signer with the given secret and token TTL.
func NewShareSigner(secret string, ttl time.Duration) *ShareSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ShareSigner{secret: []byte(secret), ttl: ttl}
}

// Issue returns a share token for the archived document path.
func (s *ShareSigner) Issue(relPath string) (string, time.Time, error) {
	if relPath == "" {
		return "", time.Time{}, fmt.Errorf("document path required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	payload := fmt.Sprintf("%d|%s", expiresAt.Unix(), encodedPath)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	token := strings.Join([]string{strconv.FormatInt(expiresAt.Unix(), 10), encodedPath, signature}, ".")
	return token, expiresAt, nil
}

// Verify validates a share token and returns the document path it grants.
func (s *ShareSigner) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid token format")
	}
	ts, encodedPath, signature := parts[0], parts[1], parts[2]

	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return "", fmt.Errorf("decode document path: %w", err)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp")
	}

	payload := fmt.Sprintf("%s|%s", ts, encodedPath)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", fmt.Errorf("invalid token signature")
	}
	if time.Now().After(time.Unix(expUnix, 0)) {
		return "", fmt.Errorf("token expired")
	}
	return string(rawPath), nil
}
