package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
)

// UserStore resolves login credentials to a customer id.
type UserStore interface {
	Authenticate(username, password string) (string, error)
}

type userRecord struct {
	Password   string `json:"password"`
	CustomerID string `json:"customer_id"`
}

// StaticUsers is a fixed in-memory credential store. Entries are immutable
// after construction, so lookups need no locking.
type StaticUsers struct {
	users map[string]userRecord
}

// NewStaticUsers builds the built-in demo credential set, optionally
// extended or overridden by a JSON object of the form
// {"username": {"password": "...", "customer_id": "..."}}.
func NewStaticUsers(extraJSON string) (*StaticUsers, error) {
	users := map[string]userRecord{
		"user123": {Password: "password123", CustomerID: "user123"},
		"user456": {Password: "pass456", CustomerID: "user456"},
	}
	if raw := strings.TrimSpace(extraJSON); raw != "" {
		var extra map[string]userRecord
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return nil, fmt.Errorf("parse user store json: %w", err)
		}
		for name, rec := range extra {
			if rec.CustomerID == "" {
				rec.CustomerID = name
			}
			users[name] = rec
		}
	}
	return &StaticUsers{users: users}, nil
}

// Authenticate returns the customer id on success. The failure mode never
// distinguishes unknown user from wrong password.
func (s *StaticUsers) Authenticate(username, password string) (string, error) {
	rec, ok := s.users[username]
	if !ok {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(rec.Password), []byte(password)) != 1 {
		return "", ErrInvalidCredentials
	}
	return rec.CustomerID, nil
}
