// Package mock provides a storage.Store for testing failure paths.
//
// Store delegates to a backing store (in-memory by default) and can be told
// to fail individual operations, which lets server tests exercise storage
// fault handling without a broken database.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/storage/memory"
)

// Operation names accepted by FailOn and CallCount.
const (
	OpCreateClient                     = "CreateClient"
	OpGetClient                        = "GetClient"
	OpListClients                      = "ListClients"
	OpUpdateClient                     = "UpdateClient"
	OpDeleteClient                     = "DeleteClient"
	OpCreateUser                       = "CreateUser"
	OpGetUser                          = "GetUser"
	OpGetUserByUsername                = "GetUserByUsername"
	OpListUsers                        = "ListUsers"
	OpUpdateUser                       = "UpdateUser"
	OpDeleteUser                       = "DeleteUser"
	OpCreateAuthorizationCode          = "CreateAuthorizationCode"
	OpGetAuthorizationCode             = "GetAuthorizationCode"
	OpConsumeAuthorizationCode         = "ConsumeAuthorizationCode"
	OpDeleteAuthorizationCode          = "DeleteAuthorizationCode"
	OpCleanupExpiredAuthorizationCodes = "CleanupExpiredAuthorizationCodes"
	OpCreateAccessToken                = "CreateAccessToken"
	OpGetAccessToken                   = "GetAccessToken"
	OpDeleteAccessToken                = "DeleteAccessToken"
	OpCleanupExpiredAccessTokens       = "CleanupExpiredAccessTokens"
	OpCreateRefreshToken               = "CreateRefreshToken"
	OpGetRefreshToken                  = "GetRefreshToken"
	OpConsumeRefreshToken              = "ConsumeRefreshToken"
	OpDeleteRefreshToken               = "DeleteRefreshToken"
	OpDeleteRefreshTokensByAccessToken = "DeleteRefreshTokensByAccessToken"
	OpCleanupExpiredRefreshTokens      = "CleanupExpiredRefreshTokens"
	OpStats                            = "Stats"
)

// Store is a storage.Store with injectable failures and call counting.
type Store struct {
	backend storage.Store

	mu         sync.Mutex
	failures   map[string]error
	callCounts map[string]int
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New wraps backend. A nil backend uses a fresh in-memory store.
func New(backend storage.Store) *Store {
	if backend == nil {
		backend = memory.New(nil)
	}
	return &Store{
		backend:    backend,
		failures:   make(map[string]error),
		callCounts: make(map[string]int),
	}
}

// FailOn makes every subsequent call to op return err. A nil err clears it.
func (m *Store) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Reset clears all injected failures and call counts.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[string]error)
	m.callCounts = make(map[string]int)
}

// CallCount returns how many times op was called, including failed calls.
func (m *Store) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[op]
}

// Backend returns the wrapped store, for seeding and inspection.
func (m *Store) Backend() storage.Store {
	return m.backend
}

func (m *Store) before(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[op]++
	return m.failures[op]
}

// ============================================================
// ClientStore
// ============================================================

func (m *Store) CreateClient(ctx context.Context, client *storage.Client) error {
	if err := m.before(OpCreateClient); err != nil {
		return err
	}
	return m.backend.CreateClient(ctx, client)
}

func (m *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := m.before(OpGetClient); err != nil {
		return nil, err
	}
	return m.backend.GetClient(ctx, clientID)
}

func (m *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	if err := m.before(OpListClients); err != nil {
		return nil, err
	}
	return m.backend.ListClients(ctx)
}

func (m *Store) UpdateClient(ctx context.Context, client *storage.Client) error {
	if err := m.before(OpUpdateClient); err != nil {
		return err
	}
	return m.backend.UpdateClient(ctx, client)
}

func (m *Store) DeleteClient(ctx context.Context, clientID string) error {
	if err := m.before(OpDeleteClient); err != nil {
		return err
	}
	return m.backend.DeleteClient(ctx, clientID)
}

// ============================================================
// UserStore
// ============================================================

func (m *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if err := m.before(OpCreateUser); err != nil {
		return err
	}
	return m.backend.CreateUser(ctx, user)
}

func (m *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	if err := m.before(OpGetUser); err != nil {
		return nil, err
	}
	return m.backend.GetUser(ctx, userID)
}

func (m *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	if err := m.before(OpGetUserByUsername); err != nil {
		return nil, err
	}
	return m.backend.GetUserByUsername(ctx, username)
}

func (m *Store) ListUsers(ctx context.Context) ([]*storage.User, error) {
	if err := m.before(OpListUsers); err != nil {
		return nil, err
	}
	return m.backend.ListUsers(ctx)
}

func (m *Store) UpdateUser(ctx context.Context, user *storage.User) error {
	if err := m.before(OpUpdateUser); err != nil {
		return err
	}
	return m.backend.UpdateUser(ctx, user)
}

func (m *Store) DeleteUser(ctx context.Context, userID string) error {
	if err := m.before(OpDeleteUser); err != nil {
		return err
	}
	return m.backend.DeleteUser(ctx, userID)
}

// ============================================================
// AuthorizationCodeStore
// ============================================================

func (m *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if err := m.before(OpCreateAuthorizationCode); err != nil {
		return err
	}
	return m.backend.CreateAuthorizationCode(ctx, code)
}

func (m *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := m.before(OpGetAuthorizationCode); err != nil {
		return nil, err
	}
	return m.backend.GetAuthorizationCode(ctx, code)
}

func (m *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if err := m.before(OpConsumeAuthorizationCode); err != nil {
		return nil, err
	}
	return m.backend.ConsumeAuthorizationCode(ctx, code)
}

func (m *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := m.before(OpDeleteAuthorizationCode); err != nil {
		return err
	}
	return m.backend.DeleteAuthorizationCode(ctx, code)
}

func (m *Store) CleanupExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int, error) {
	if err := m.before(OpCleanupExpiredAuthorizationCodes); err != nil {
		return 0, err
	}
	return m.backend.CleanupExpiredAuthorizationCodes(ctx, now)
}

// ============================================================
// AccessTokenStore
// ============================================================

func (m *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if err := m.before(OpCreateAccessToken); err != nil {
		return err
	}
	return m.backend.CreateAccessToken(ctx, token)
}

func (m *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if err := m.before(OpGetAccessToken); err != nil {
		return nil, err
	}
	return m.backend.GetAccessToken(ctx, token)
}

func (m *Store) DeleteAccessToken(ctx context.Context, token string) error {
	if err := m.before(OpDeleteAccessToken); err != nil {
		return err
	}
	return m.backend.DeleteAccessToken(ctx, token)
}

func (m *Store) CleanupExpiredAccessTokens(ctx context.Context, now time.Time) (int, error) {
	if err := m.before(OpCleanupExpiredAccessTokens); err != nil {
		return 0, err
	}
	return m.backend.CleanupExpiredAccessTokens(ctx, now)
}

// ============================================================
// RefreshTokenStore
// ============================================================

func (m *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if err := m.before(OpCreateRefreshToken); err != nil {
		return err
	}
	return m.backend.CreateRefreshToken(ctx, token)
}

func (m *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	if err := m.before(OpGetRefreshToken); err != nil {
		return nil, err
	}
	return m.backend.GetRefreshToken(ctx, token)
}

func (m *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	if err := m.before(OpConsumeRefreshToken); err != nil {
		return nil, err
	}
	return m.backend.ConsumeRefreshToken(ctx, token)
}

func (m *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := m.before(OpDeleteRefreshToken); err != nil {
		return err
	}
	return m.backend.DeleteRefreshToken(ctx, token)
}

func (m *Store) DeleteRefreshTokensByAccessToken(ctx context.Context, accessToken string) (int, error) {
	if err := m.before(OpDeleteRefreshTokensByAccessToken); err != nil {
		return 0, err
	}
	return m.backend.DeleteRefreshTokensByAccessToken(ctx, accessToken)
}

func (m *Store) CleanupExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error) {
	if err := m.before(OpCleanupExpiredRefreshTokens); err != nil {
		return 0, err
	}
	return m.backend.CleanupExpiredRefreshTokens(ctx, now)
}

// Stats delegates to the backend.
func (m *Store) Stats(ctx context.Context) (storage.Stats, error) {
	if err := m.before(OpStats); err != nil {
		return storage.Stats{}, err
	}
	return m.backend.Stats(ctx)
}
