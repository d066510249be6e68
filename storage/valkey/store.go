package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "mcpresso:"

	// DefaultExpiredRetention is how long expired records stay readable
	// before Valkey evicts them on its own.
	DefaultExpiredRetention = 24 * time.Hour

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength is the maximum allowed length for token strings (512 bytes)
	MaxTokenLength = 512

	// MaxIDLength is the maximum allowed length for identifiers (userID, clientID)
	MaxIDLength = 256
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "mcpresso:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// ExpiredRetention keeps codes and tokens in Valkey past their expiry so
	// that Get still returns them until cleanup runs. Default: 24h.
	ExpiredRetention time.Duration
}

// Store is a Valkey-backed implementation of storage.Store.
//
// Every code and token is indexed in a sorted set scored by its expiry
// (Unix milliseconds). Clients and users are indexed in plain sets. The
// indexes drive List, Stats and cleanup without SCAN.
type Store struct {
	client    valkeygo.Client
	prefix    string
	logger    *slog.Logger
	retention time.Duration
	tracker   instrumentation.StorageTracker
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	store := NewWithClient(client, cfg)
	store.logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", store.prefix)
	return store, nil
}

// NewWithClient wraps an existing client. Address, Password, DB and TLS
// in cfg are ignored.
func NewWithClient(client valkeygo.Client, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.ExpiredRetention
	if retention <= 0 {
		retention = DefaultExpiredRetention
	}

	return &Store{
		client:    client,
		prefix:    prefix,
		logger:    logger,
		retention: retention,
	}
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation enables storage spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.tracker = instrumentation.NewStorageTracker(inst, "valkey")
}

// ============================================================
// Key helpers
// ============================================================

func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) clientsIndexKey() string {
	return s.prefix + "idx:clients"
}

func (s *Store) userKey(userID string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, userID)
}

func (s *Store) usernamePrefix() string {
	return s.prefix + "username:"
}

func (s *Store) usernameKey(username string) string {
	return s.usernamePrefix() + username
}

func (s *Store) usersIndexKey() string {
	return s.prefix + "idx:users"
}

func (s *Store) codePrefix() string {
	return s.prefix + "code:"
}

func (s *Store) codeKey(code string) string {
	return s.codePrefix() + code
}

func (s *Store) codesIndexKey() string {
	return s.prefix + "idx:codes"
}

func (s *Store) accessTokenPrefix() string {
	return s.prefix + "access:"
}

func (s *Store) accessTokenKey(token string) string {
	return s.accessTokenPrefix() + token
}

func (s *Store) accessTokensIndexKey() string {
	return s.prefix + "idx:access"
}

func (s *Store) refreshTokenPrefix() string {
	return s.prefix + "refresh:"
}

func (s *Store) refreshTokenKey(token string) string {
	return s.refreshTokenPrefix() + token
}

func (s *Store) refreshTokensIndexKey() string {
	return s.prefix + "idx:refresh"
}

// refreshByAccessPrefix prefixes the set of refresh tokens issued with an access token
func (s *Store) refreshByAccessPrefix() string {
	return s.prefix + "access_refresh:"
}

func (s *Store) refreshByAccessKey(accessToken string) string {
	return s.refreshByAccessPrefix() + accessToken
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Record writes and their index updates happen in one script so an index
// never references a record that was not written, and consume operations
// return the record to exactly one caller.

// luaCreateIndexed stores a record only if its key is free and adds it to
// the expiry index. When KEYS[3] is given the member is also added to that
// set, whose TTL is extended to cover the record.
//
// KEYS[1] = record key
// KEYS[2] = expiry index (sorted set)
// KEYS[3] = optional link set
// ARGV[1] = JSON data
// ARGV[2] = TTL in milliseconds
// ARGV[3] = expiry score (Unix milliseconds)
// ARGV[4] = index member
//
// Returns 1 if stored, 0 if the key already exists.
const luaCreateIndexed = `
if not redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
    return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
if KEYS[3] then
    redis.call('SADD', KEYS[3], ARGV[4])
    if redis.call('PTTL', KEYS[3]) < tonumber(ARGV[2]) then
        redis.call('PEXPIRE', KEYS[3], ARGV[2])
    end
end
return 1
`

// luaConsumeIndexed atomically gets and deletes a record and drops it from
// its index. For refresh tokens (ARGV[2] set) the member is also removed
// from the access token's link set.
//
// KEYS[1] = record key
// KEYS[2] = expiry index
// ARGV[1] = index member
// ARGV[2] = optional link set prefix
//
// Returns the JSON data, or nil if the key does not exist.
const luaConsumeIndexed = `
local data = redis.call('GET', KEYS[1])
if not data then
    return false
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if ARGV[2] and ARGV[2] ~= '' then
    local rec = cjson.decode(data)
    if rec.access_token_id and rec.access_token_id ~= '' then
        redis.call('SREM', ARGV[2] .. rec.access_token_id, ARGV[1])
    end
end
return data
`

// luaCleanupExpired deletes every indexed record scored at or below now.
//
// KEYS[1] = expiry index
// ARGV[1] = now (Unix milliseconds)
// ARGV[2] = record key prefix
// ARGV[3] = optional link set prefix (refresh tokens)
//
// Returns the number of records deleted.
const luaCleanupExpired = `
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local removed = 0
for _, m in ipairs(members) do
    local key = ARGV[2] .. m
    if ARGV[3] and ARGV[3] ~= '' then
        local data = redis.call('GET', key)
        if data then
            local rec = cjson.decode(data)
            if rec.access_token_id and rec.access_token_id ~= '' then
                redis.call('SREM', ARGV[3] .. rec.access_token_id, m)
            end
        end
    end
    removed = removed + redis.call('DEL', key)
    redis.call('ZREM', KEYS[1], m)
end
return removed
`

// luaDeleteRefreshByAccess deletes all refresh tokens linked to an access token.
//
// KEYS[1] = link set
// KEYS[2] = refresh token expiry index
// ARGV[1] = refresh token key prefix
//
// Returns the number of refresh tokens deleted.
const luaDeleteRefreshByAccess = `
local members = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, m in ipairs(members) do
    removed = removed + redis.call('DEL', ARGV[1] .. m)
    redis.call('ZREM', KEYS[2], m)
end
redis.call('DEL', KEYS[1])
return removed
`

// ============================================================
// Helper methods
// ============================================================

// recordTTL keeps a record alive until expiresAt plus the retention window.
func (s *Store) recordTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + s.retention
}

// createIndexed runs luaCreateIndexed. linkKey may be empty.
func (s *Store) createIndexed(ctx context.Context, key, indexKey, linkKey, member string, expiresAt time.Time, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	keys := []string{key, indexKey}
	if linkKey != "" {
		keys = append(keys, linkKey)
	}

	stored, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCreateIndexed).
			Numkeys(int64(len(keys))).
			Key(keys...).
			Arg(string(data)).
			Arg(strconv.FormatInt(s.recordTTL(expiresAt).Milliseconds(), 10)).
			Arg(strconv.FormatInt(expiresAt.UnixMilli(), 10)).
			Arg(member).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	if stored == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

// consumeIndexed runs luaConsumeIndexed and unmarshals the result into v.
// Returns storage.ErrNotFound if the record is absent.
func (s *Store) consumeIndexed(ctx context.Context, key, indexKey, member, linkPrefix string, v any) error {
	data, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeIndexed).
			Numkeys(2).
			Key(key, indexKey).
			Arg(member).
			Arg(linkPrefix).
			Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to execute atomic consume: %w", err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

func (s *Store) cleanupExpired(ctx context.Context, indexKey, recordPrefix, linkPrefix string, now time.Time) (int, error) {
	n, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCleanupExpired).
			Numkeys(1).
			Key(indexKey).
			Arg(strconv.FormatInt(now.UnixMilli(), 10)).
			Arg(recordPrefix).
			Arg(linkPrefix).
			Build(),
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired records: %w", err)
	}
	return int(n), nil
}

// getJSON fetches key and unmarshals it into v. Returns storage.ErrNotFound
// when the key is absent.
func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to get data: %w", err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// members returns the members of the set at key.
func (s *Store) members(ctx context.Context, key string) ([]string, error) {
	return s.client.Do(ctx, s.client.B().Smembers().Key(key).Build()).AsStrSlice()
}

func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s", errInputTooLarge, fieldName)
	}
	return nil
}

// isNilError checks if the error indicates a nil/not-found result from Valkey.
// Uses the valkey-go library's built-in nil detection for robustness.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// ============================================================
// Stats
// ============================================================

// Stats returns record counts from the indexes.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	count := func(cmd valkeygo.Completed) (int, error) {
		n, err := s.client.Do(ctx, cmd).AsInt64()
		if err != nil {
			return 0, fmt.Errorf("failed to read stats: %w", err)
		}
		return int(n), nil
	}

	var (
		stats storage.Stats
		err   error
	)
	if stats.Clients, err = count(s.client.B().Scard().Key(s.clientsIndexKey()).Build()); err != nil {
		return storage.Stats{}, err
	}
	if stats.Users, err = count(s.client.B().Scard().Key(s.usersIndexKey()).Build()); err != nil {
		return storage.Stats{}, err
	}
	if stats.AuthorizationCodes, err = count(s.client.B().Zcard().Key(s.codesIndexKey()).Build()); err != nil {
		return storage.Stats{}, err
	}
	if stats.AccessTokens, err = count(s.client.B().Zcard().Key(s.accessTokensIndexKey()).Build()); err != nil {
		return storage.Stats{}, err
	}
	if stats.RefreshTokens, err = count(s.client.B().Zcard().Key(s.refreshTokensIndexKey()).Build()); err != nil {
		return storage.Stats{}, err
	}
	return stats, nil
}
