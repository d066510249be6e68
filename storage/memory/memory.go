package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

// tokenIDLogLength is the number of characters to include when logging token IDs
const tokenIDLogLength = 8

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.RWMutex

	clients   map[string]*storage.Client
	users     map[string]*storage.User
	usernames map[string]string // username -> user ID

	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	// access token -> refresh tokens referencing it
	refreshByAccess map[string]map[string]struct{}

	tracker instrumentation.StorageTracker

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCount       atomic.Int64
	usersCount         atomic.Int64
	codesCount         atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64

	logger *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates an empty store. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		usernames:       make(map[string]string),
		codes:           make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		refreshByAccess: make(map[string]map[string]struct{}),
		logger:          logger,
	}
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation enables storage spans, operation metrics and size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.tracker = instrumentation.NewStorageTracker(inst, "memory")
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(instrumentation.StorageSizeCallbacks{
		Clients:            s.clientsCount.Load,
		Users:              s.usersCount.Load,
		AuthorizationCodes: s.codesCount.Load,
		AccessTokens:       s.accessTokensCount.Load,
		RefreshTokens:      s.refreshTokensCount.Load,
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) track(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	tracker := s.tracker
	s.mu.RUnlock()
	return tracker.Start(ctx, operation)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// CreateClient stores a new client.
func (s *Store) CreateClient(ctx context.Context, client *storage.Client) (err error) {
	_, done := s.track(ctx, "create_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client id is required", storage.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		return fmt.Errorf("%w: client %s", storage.ErrAlreadyExists, client.ID)
	}
	s.clients[client.ID] = cloneClient(client)
	s.clientsCount.Add(1)

	s.logger.Debug("Created client", "client_id", client.ID, "client_type", client.Type)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	_, done := s.track(ctx, "get_client")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}
	return cloneClient(client), nil
}

// ListClients returns all clients ordered by ID.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	_, done := s.track(ctx, "list_clients")
	defer done(nil)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateClient replaces an existing client.
func (s *Store) UpdateClient(ctx context.Context, client *storage.Client) (err error) {
	_, done := s.track(ctx, "update_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client id is required", storage.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; !ok {
		return fmt.Errorf("%w: client %s", storage.ErrNotFound, client.ID)
	}
	s.clients[client.ID] = cloneClient(client)
	return nil
}

// DeleteClient removes a client.
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	_, done := s.track(ctx, "delete_client")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}
	delete(s.clients, clientID)
	s.clientsCount.Add(-1)
	return nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// CreateUser stores a new user. Usernames are unique.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) (err error) {
	_, done := s.track(ctx, "create_user")
	defer func() { done(err) }()

	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("%w: user %s", storage.ErrAlreadyExists, user.ID)
	}
	if _, taken := s.usernames[user.Username]; taken && user.Username != "" {
		return fmt.Errorf("%w: username %s", storage.ErrAlreadyExists, user.Username)
	}

	s.users[user.ID] = cloneUser(user)
	if user.Username != "" {
		s.usernames[user.Username] = user.ID
	}
	s.usersCount.Add(1)
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (_ *storage.User, err error) {
	_, done := s.track(ctx, "get_user")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", storage.ErrNotFound, userID)
	}
	return cloneUser(user), nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	_, done := s.track(ctx, "get_user_by_username")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, fmt.Errorf("%w: username %s", storage.ErrNotFound, username)
	}
	return cloneUser(s.users[id]), nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]*storage.User, error) {
	_, done := s.track(ctx, "list_users")
	defer done(nil)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateUser replaces an existing user, keeping the username index current.
func (s *Store) UpdateUser(ctx context.Context, user *storage.User) (err error) {
	_, done := s.track(ctx, "update_user")
	defer func() { done(err) }()

	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[user.ID]
	if !ok {
		return fmt.Errorf("%w: user %s", storage.ErrNotFound, user.ID)
	}
	if owner, taken := s.usernames[user.Username]; taken && owner != user.ID {
		return fmt.Errorf("%w: username %s", storage.ErrAlreadyExists, user.Username)
	}

	delete(s.usernames, old.Username)
	if user.Username != "" {
		s.usernames[user.Username] = user.ID
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, userID string) (err error) {
	_, done := s.track(ctx, "delete_user")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", storage.ErrNotFound, userID)
	}
	delete(s.usernames, user.Username)
	delete(s.users, userID)
	s.usersCount.Add(-1)
	return nil
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// CreateAuthorizationCode stores a newly minted code.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, done := s.track(ctx, "create_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: authorization code is required", storage.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return fmt.Errorf("%w: authorization code", storage.ErrAlreadyExists)
	}
	c := *code
	s.codes[code.Code] = &c
	s.codesCount.Add(1)

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	_, done := s.track(ctx, "get_authorization_code")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrNotFound)
	}
	out := *c
	return &out, nil
}

// ConsumeAuthorizationCode removes and returns a code under the write lock.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	_, done := s.track(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	s.mu.Lock() // MUST use write lock for atomic get-and-delete
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", storage.ErrNotFound)
	}
	delete(s.codes, code)
	s.codesCount.Add(-1)

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return c, nil
}

// DeleteAuthorizationCode removes a code if present.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	_, done := s.track(ctx, "delete_authorization_code")
	defer done(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; ok {
		delete(s.codes, code)
		s.codesCount.Add(-1)
	}
	return nil
}

// CleanupExpiredAuthorizationCodes deletes codes that expired at or before now.
func (s *Store) CleanupExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int, error) {
	_, done := s.track(ctx, "cleanup_authorization_codes")
	defer done(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, c := range s.codes {
		if c.IsExpired(now) {
			delete(s.codes, k)
			removed++
		}
	}
	s.codesCount.Add(int64(-removed))
	return removed, nil
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// CreateAccessToken stores an issued access token.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	_, done := s.track(ctx, "create_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("%w: access token is required", storage.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[token.Token]; exists {
		return fmt.Errorf("%w: access token", storage.ErrAlreadyExists)
	}
	t := *token
	s.accessTokens[token.Token] = &t
	s.accessTokensCount.Add(1)
	return nil
}

// GetAccessToken retrieves an access token.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	_, done := s.track(ctx, "get_access_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.accessTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: access token", storage.ErrNotFound)
	}
	out := *t
	return &out, nil
}

// DeleteAccessToken removes an access token if present.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	_, done := s.track(ctx, "delete_access_token")
	defer done(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[token]; ok {
		delete(s.accessTokens, token)
		s.accessTokensCount.Add(-1)
	}
	return nil
}

// CleanupExpiredAccessTokens deletes access tokens that expired at or before now.
func (s *Store) CleanupExpiredAccessTokens(ctx context.Context, now time.Time) (int, error) {
	_, done := s.track(ctx, "cleanup_access_tokens")
	defer done(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, t := range s.accessTokens {
		if t.IsExpired(now) {
			delete(s.accessTokens, k)
			removed++
		}
	}
	s.accessTokensCount.Add(int64(-removed))
	return removed, nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// CreateRefreshToken stores a refresh token and indexes it by access token.
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	_, done := s.track(ctx, "create_refresh_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("%w: refresh token is required", storage.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Token]; exists {
		return fmt.Errorf("%w: refresh token", storage.ErrAlreadyExists)
	}
	t := *token
	s.refreshTokens[token.Token] = &t
	if t.AccessTokenID != "" {
		set, ok := s.refreshByAccess[t.AccessTokenID]
		if !ok {
			set = make(map[string]struct{})
			s.refreshByAccess[t.AccessTokenID] = set
		}
		set[t.Token] = struct{}{}
	}
	s.refreshTokensCount.Add(1)

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength),
		"client_id", token.ClientID)
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	_, done := s.track(ctx, "get_refresh_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refreshTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrNotFound)
	}
	out := *t
	return &out, nil
}

// ConsumeRefreshToken removes and returns a refresh token under the write lock.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	_, done := s.track(ctx, "consume_refresh_token")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refreshTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token not found or already used", storage.ErrNotFound)
	}
	s.deleteRefreshLocked(t)
	return t, nil
}

// DeleteRefreshToken removes a refresh token if present.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	_, done := s.track(ctx, "delete_refresh_token")
	defer done(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.refreshTokens[token]; ok {
		s.deleteRefreshLocked(t)
	}
	return nil
}

// DeleteRefreshTokensByAccessToken removes all refresh tokens paired with accessToken.
func (s *Store) DeleteRefreshTokensByAccessToken(ctx context.Context, accessToken string) (int, error) {
	_, done := s.track(ctx, "delete_refresh_tokens_by_access_token")
	defer done(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for tok := range s.refreshByAccess[accessToken] {
		if t, ok := s.refreshTokens[tok]; ok {
			s.deleteRefreshLocked(t)
			removed++
		}
	}
	delete(s.refreshByAccess, accessToken)
	return removed, nil
}

// CleanupExpiredRefreshTokens deletes refresh tokens that expired at or before now.
func (s *Store) CleanupExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error) {
	_, done := s.track(ctx, "cleanup_refresh_tokens")
	defer done(nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, t := range s.refreshTokens {
		if t.IsExpired(now) {
			s.deleteRefreshLocked(t)
			removed++
		}
	}
	return removed, nil
}

// deleteRefreshLocked removes t and its index entry. Caller holds mu.
func (s *Store) deleteRefreshLocked(t *storage.RefreshToken) {
	delete(s.refreshTokens, t.Token)
	if set, ok := s.refreshByAccess[t.AccessTokenID]; ok {
		delete(set, t.Token)
		if len(set) == 0 {
			delete(s.refreshByAccess, t.AccessTokenID)
		}
	}
	s.refreshTokensCount.Add(-1)
}

// ============================================================
// Stats
// ============================================================

// Stats returns record counts.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return storage.Stats{
		Clients:            len(s.clients),
		Users:              len(s.users),
		AuthorizationCodes: len(s.codes),
		AccessTokens:       len(s.accessTokens),
		RefreshTokens:      len(s.refreshTokens),
	}, nil
}

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.Scopes = slices.Clone(c.Scopes)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	return &out
}

func cloneUser(u *storage.User) *storage.User {
	out := *u
	out.Scopes = slices.Clone(u.Scopes)
	out.Profile = maps.Clone(u.Profile)
	return &out
}
