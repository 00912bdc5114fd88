// Package auth issues and verifies the signed bearer credentials that bind
// every request to exactly one customer identity.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Identity is the single trusted customer id derived from a verified
// credential. It is valid for one request lifetime.
type Identity struct {
	CustomerID string
}

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type tokenClaims struct {
	Sub string `json:"sub"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// IssueToken creates an HS256-signed bearer token for subject, expiring
// ttl after now.
func IssueToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is required")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	claims, err := json.Marshal(tokenClaims{
		Sub: subject,
		Iat: now.Unix(),
		Exp: now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(claims)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyToken checks signature and expiry. Malformed input of any shape
// yields ErrInvalidToken, never a panic; callers surface it as a 401 with
// no further detail.
func VerifyToken(token, secret string, now time.Time) (Identity, error) {
	if secret == "" {
		return Identity{}, errors.New("signing secret is required")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Identity{}, ErrInvalidToken
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if strings.ToUpper(header.Alg) != "HS256" {
		return Identity{}, ErrInvalidToken
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Identity{}, ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if claims.Sub == "" {
		return Identity{}, ErrInvalidToken
	}
	if claims.Exp == 0 || now.Unix() >= claims.Exp {
		return Identity{}, ErrInvalidToken
	}
	return Identity{CustomerID: claims.Sub}, nil
}
