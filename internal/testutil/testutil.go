package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mcpresso/mcpresso-oauth/security"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64url string of length characters
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// NewPublicClient returns a public client allowed every grant type.
func NewPublicClient(id string, redirectURIs ...string) *storage.Client {
	if len(redirectURIs) == 0 {
		redirectURIs = []string{"https://app.example.com/callback"}
	}
	return &storage.Client{
		ID:           id,
		Name:         "Test Client " + id,
		Type:         storage.ClientTypePublic,
		RedirectURIs: redirectURIs,
		Scopes:       []string{"read", "write"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

// NewConfidentialClient returns a confidential client whose secret hashes to secret.
func NewConfidentialClient(t *testing.T, id, secret string, redirectURIs ...string) *storage.Client {
	t.Helper()

	hash, err := security.HashClientSecret(secret)
	if err != nil {
		t.Fatalf("HashClientSecret() error = %v", err)
	}
	c := NewPublicClient(id, redirectURIs...)
	c.Type = storage.ClientTypeConfidential
	c.SecretHash = hash
	c.GrantTypes = []string{"authorization_code", "refresh_token", "client_credentials"}
	return c
}

// NewUser returns a user with read and write as maximum scopes.
func NewUser(id string) *storage.User {
	return &storage.User{
		ID:        id,
		Username:  id + "-name",
		Email:     id + "@example.com",
		Scopes:    []string{"read", "write"},
		Profile:   map[string]string{"name": "Test " + id},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}
