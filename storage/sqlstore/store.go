package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mcpresso/mcpresso-oauth/instrumentation"
	"github.com/mcpresso/mcpresso-oauth/internal/util"
	"github.com/mcpresso/mcpresso-oauth/storage"
)

const (
	// DriverSQLite selects the pure Go SQLite dialect.
	DriverSQLite = "sqlite"

	// DriverPostgres selects the PostgreSQL dialect.
	DriverPostgres = "postgres"

	tokenIDLogLength = 8
)

// DialectorOpener returns a gorm.Dialector for a DSN.
type DialectorOpener = func(string) gorm.Dialector

var dialectors = map[string]DialectorOpener{
	DriverSQLite:   sqlite.Open,
	DriverPostgres: postgres.Open,
}

// Store is a gorm-backed implementation of storage.Store.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	tracker instrumentation.StorageTracker
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// Open connects to the database named by driver and dsn and migrates the schema.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	opener, ok := dialectors[driver]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown driver %q", driver)
	}

	db, err := gorm.Open(opener(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; serialising through one connection
		// also keeps ":memory:" databases alive and shared.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: failed to access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, logger)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("sqlstore: failed to migrate schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// SetInstrumentation enables storage spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.tracker = instrumentation.NewStorageTracker(inst, "sql")
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// mapError converts gorm errors into storage sentinels.
func mapError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", storage.ErrNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, what)
	default:
		return fmt.Errorf("sqlstore: %s: %w", what, err)
	}
}

// create inserts model unless a row with the same primary key exists.
// The explicit check keeps duplicate detection uniform across dialects
// whose drivers do not translate constraint errors.
func create(ctx context.Context, db *gorm.DB, model any, keyColumn, key, what string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(model).Where(keyColumn+" = ?", key).Count(&n).Error; err != nil {
			return mapError(err, what)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, what)
		}
		return mapError(tx.Create(model).Error, what)
	})
}

// ============================================================
// ClientStore Implementation
// ============================================================

// CreateClient stores a new client.
func (s *Store) CreateClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.tracker.Start(ctx, "create_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client id is required", storage.ErrInvalidRecord)
	}
	return create(ctx, s.db, fromStorageClient(client), "id", client.ID, "client "+client.ID)
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.tracker.Start(ctx, "get_client")
	defer func() { done(err) }()

	var m clientModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", clientID).Error; err != nil {
		return nil, mapError(err, "client "+clientID)
	}
	return toStorageClient(&m), nil
}

// ListClients returns all clients ordered by ID.
func (s *Store) ListClients(ctx context.Context) (_ []*storage.Client, err error) {
	ctx, done := s.tracker.Start(ctx, "list_clients")
	defer func() { done(err) }()

	var models []clientModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, mapError(err, "clients")
	}
	out := make([]*storage.Client, 0, len(models))
	for i := range models {
		out = append(out, toStorageClient(&models[i]))
	}
	return out, nil
}

// UpdateClient replaces an existing client.
func (s *Store) UpdateClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.tracker.Start(ctx, "update_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client id is required", storage.ErrInvalidRecord)
	}
	what := "client " + client.ID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing clientModel
		if err := tx.First(&existing, "id = ?", client.ID).Error; err != nil {
			return mapError(err, what)
		}
		return mapError(tx.Save(fromStorageClient(client)).Error, what)
	})
}

// DeleteClient removes a client.
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_client")
	defer func() { done(err) }()

	res := s.db.WithContext(ctx).Delete(&clientModel{}, "id = ?", clientID)
	if res.Error != nil {
		return mapError(res.Error, "client "+clientID)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}
	return nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// CreateUser stores a new user. Non-empty usernames are unique.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) (err error) {
	ctx, done := s.tracker.Start(ctx, "create_user")
	defer func() { done(err) }()

	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidRecord)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUsernameFree(tx, user); err != nil {
			return err
		}
		return create(ctx, tx, fromStorageUser(user), "id", user.ID, "user "+user.ID)
	})
}

func checkUsernameFree(tx *gorm.DB, user *storage.User) error {
	if user.Username == "" {
		return nil
	}
	var n int64
	err := tx.Model(&userModel{}).
		Where("username = ? AND id <> ?", user.Username, user.ID).
		Count(&n).Error
	if err != nil {
		return mapError(err, "username "+user.Username)
	}
	if n > 0 {
		return fmt.Errorf("%w: username %s", storage.ErrAlreadyExists, user.Username)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (_ *storage.User, err error) {
	ctx, done := s.tracker.Start(ctx, "get_user")
	defer func() { done(err) }()

	var m userModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", userID).Error; err != nil {
		return nil, mapError(err, "user "+userID)
	}
	return toStorageUser(&m), nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	ctx, done := s.tracker.Start(ctx, "get_user_by_username")
	defer func() { done(err) }()

	var m userModel
	if err := s.db.WithContext(ctx).First(&m, "username = ?", username).Error; err != nil {
		return nil, mapError(err, "username "+username)
	}
	return toStorageUser(&m), nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) (_ []*storage.User, err error) {
	ctx, done := s.tracker.Start(ctx, "list_users")
	defer func() { done(err) }()

	var models []userModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, mapError(err, "users")
	}
	out := make([]*storage.User, 0, len(models))
	for i := range models {
		out = append(out, toStorageUser(&models[i]))
	}
	return out, nil
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *storage.User) (err error) {
	ctx, done := s.tracker.Start(ctx, "update_user")
	defer func() { done(err) }()

	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidRecord)
	}
	what := "user " + user.ID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing userModel
		if err := tx.First(&existing, "id = ?", user.ID).Error; err != nil {
			return mapError(err, what)
		}
		if err := checkUsernameFree(tx, user); err != nil {
			return err
		}
		return mapError(tx.Save(fromStorageUser(user)).Error, what)
	})
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, userID string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_user")
	defer func() { done(err) }()

	res := s.db.WithContext(ctx).Delete(&userModel{}, "id = ?", userID)
	if res.Error != nil {
		return mapError(res.Error, "user "+userID)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", storage.ErrNotFound, userID)
	}
	return nil
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// CreateAuthorizationCode stores a newly minted code.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.tracker.Start(ctx, "create_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("%w: authorization code is required", storage.ErrInvalidRecord)
	}
	if err := create(ctx, s.db, fromStorageCode(code), "code", code.Code, "authorization code"); err != nil {
		return err
	}
	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.tracker.Start(ctx, "get_authorization_code")
	defer func() { done(err) }()

	var m authorizationCodeModel
	if err := s.db.WithContext(ctx).First(&m, "code = ?", code).Error; err != nil {
		return nil, mapError(err, "authorization code")
	}
	return toStorageCode(&m), nil
}

// ConsumeAuthorizationCode selects and deletes a code in one transaction.
// Only the caller whose DELETE affects the row receives it.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.tracker.Start(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	var m authorizationCodeModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, "code = ?", code).Error; err != nil {
			return mapError(err, "authorization code")
		}
		res := tx.Delete(&authorizationCodeModel{}, "code = ?", code)
		if res.Error != nil {
			return mapError(res.Error, "authorization code")
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: authorization code already consumed", storage.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return toStorageCode(&m), nil
}

// DeleteAuthorizationCode removes a code if present.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_authorization_code")
	defer func() { done(err) }()

	return mapError(s.db.WithContext(ctx).Delete(&authorizationCodeModel{}, "code = ?", code).Error, "authorization code")
}

// CleanupExpiredAuthorizationCodes deletes codes that expired at or before now.
func (s *Store) CleanupExpiredAuthorizationCodes(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, done := s.tracker.Start(ctx, "cleanup_authorization_codes")
	defer func() { done(err) }()

	return deleteExpired(ctx, s.db, &authorizationCodeModel{}, now)
}

func deleteExpired(ctx context.Context, db *gorm.DB, model any, now time.Time) (int, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(model)
	if res.Error != nil {
		return 0, mapError(res.Error, "cleanup")
	}
	return int(res.RowsAffected), nil
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// CreateAccessToken stores an issued access token.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.tracker.Start(ctx, "create_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("%w: access token is required", storage.ErrInvalidRecord)
	}
	return create(ctx, s.db, fromStorageAccessToken(token), "token", token.Token, "access token")
}

// GetAccessToken retrieves an access token.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, done := s.tracker.Start(ctx, "get_access_token")
	defer func() { done(err) }()

	var m accessTokenModel
	if err := s.db.WithContext(ctx).First(&m, "token = ?", token).Error; err != nil {
		return nil, mapError(err, "access token")
	}
	return toStorageAccessToken(&m), nil
}

// DeleteAccessToken removes an access token if present.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_access_token")
	defer func() { done(err) }()

	return mapError(s.db.WithContext(ctx).Delete(&accessTokenModel{}, "token = ?", token).Error, "access token")
}

// CleanupExpiredAccessTokens deletes access tokens that expired at or before now.
func (s *Store) CleanupExpiredAccessTokens(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, done := s.tracker.Start(ctx, "cleanup_access_tokens")
	defer func() { done(err) }()

	return deleteExpired(ctx, s.db, &accessTokenModel{}, now)
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// CreateRefreshToken stores a refresh token.
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, done := s.tracker.Start(ctx, "create_refresh_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("%w: refresh token is required", storage.ErrInvalidRecord)
	}
	return create(ctx, s.db, fromStorageRefreshToken(token), "token", token.Token, "refresh token")
}

// GetRefreshToken retrieves a refresh token without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	ctx, done := s.tracker.Start(ctx, "get_refresh_token")
	defer func() { done(err) }()

	var m refreshTokenModel
	if err := s.db.WithContext(ctx).First(&m, "token = ?", token).Error; err != nil {
		return nil, mapError(err, "refresh token")
	}
	return toStorageRefreshToken(&m), nil
}

// ConsumeRefreshToken selects and deletes a refresh token in one transaction.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	ctx, done := s.tracker.Start(ctx, "consume_refresh_token")
	defer func() { done(err) }()

	var m refreshTokenModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, "token = ?", token).Error; err != nil {
			return mapError(err, "refresh token")
		}
		res := tx.Delete(&refreshTokenModel{}, "token = ?", token)
		if res.Error != nil {
			return mapError(res.Error, "refresh token")
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: refresh token already used", storage.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toStorageRefreshToken(&m), nil
}

// DeleteRefreshToken removes a refresh token if present.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_refresh_token")
	defer func() { done(err) }()

	return mapError(s.db.WithContext(ctx).Delete(&refreshTokenModel{}, "token = ?", token).Error, "refresh token")
}

// DeleteRefreshTokensByAccessToken removes all refresh tokens paired with accessToken.
func (s *Store) DeleteRefreshTokensByAccessToken(ctx context.Context, accessToken string) (_ int, err error) {
	ctx, done := s.tracker.Start(ctx, "delete_refresh_tokens_by_access_token")
	defer func() { done(err) }()

	res := s.db.WithContext(ctx).Delete(&refreshTokenModel{}, "access_token_id = ?", accessToken)
	if res.Error != nil {
		return 0, mapError(res.Error, "refresh tokens")
	}
	return int(res.RowsAffected), nil
}

// CleanupExpiredRefreshTokens deletes refresh tokens that expired at or before now.
func (s *Store) CleanupExpiredRefreshTokens(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, done := s.tracker.Start(ctx, "cleanup_refresh_tokens")
	defer func() { done(err) }()

	return deleteExpired(ctx, s.db, &refreshTokenModel{}, now)
}

// ============================================================
// Stats
// ============================================================

// Stats returns record counts.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	db := s.db.WithContext(ctx)
	count := func(model any) (int, error) {
		var n int64
		if err := db.Model(model).Count(&n).Error; err != nil {
			return 0, mapError(err, "stats")
		}
		return int(n), nil
	}

	var (
		stats storage.Stats
		err   error
	)
	if stats.Clients, err = count(&clientModel{}); err != nil {
		return storage.Stats{}, err
	}
	if stats.Users, err = count(&userModel{}); err != nil {
		return storage.Stats{}, err
	}
	if stats.AuthorizationCodes, err = count(&authorizationCodeModel{}); err != nil {
		return storage.Stats{}, err
	}
	if stats.AccessTokens, err = count(&accessTokenModel{}); err != nil {
		return storage.Stats{}, err
	}
	if stats.RefreshTokens, err = count(&refreshTokenModel{}); err != nil {
		return storage.Stats{}, err
	}
	return stats, nil
}
