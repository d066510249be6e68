package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mcpresso/mcpresso-oauth/storage"
)

// luaCreateUser stores a user, its username lookup and its index entry.
//
// KEYS[1] = user key
// KEYS[2] = username key
// KEYS[3] = users index set
// ARGV[1] = JSON data
// ARGV[2] = user id
// ARGV[3] = username (may be empty)
//
// Returns "OK", "EXISTS" or "USERNAME_TAKEN".
const luaCreateUser = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 'EXISTS'
end
if ARGV[3] ~= '' and redis.call('EXISTS', KEYS[2]) == 1 then
    return 'USERNAME_TAKEN'
end
redis.call('SET', KEYS[1], ARGV[1])
if ARGV[3] ~= '' then
    redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('SADD', KEYS[3], ARGV[2])
return 'OK'
`

// luaUpdateUser replaces a user and moves its username lookup.
//
// KEYS[1] = user key
// KEYS[2] = new username key
// ARGV[1] = JSON data
// ARGV[2] = user id
// ARGV[3] = new username (may be empty)
// ARGV[4] = username key prefix
//
// Returns "OK", "NOT_FOUND" or "USERNAME_TAKEN".
const luaUpdateUser = `
local old = redis.call('GET', KEYS[1])
if not old then
    return 'NOT_FOUND'
end
if ARGV[3] ~= '' then
    local owner = redis.call('GET', KEYS[2])
    if owner and owner ~= ARGV[2] then
        return 'USERNAME_TAKEN'
    end
end
local prev = cjson.decode(old)
if prev.username and prev.username ~= '' then
    redis.call('DEL', ARGV[4] .. prev.username)
end
redis.call('SET', KEYS[1], ARGV[1])
if ARGV[3] ~= '' then
    redis.call('SET', KEYS[2], ARGV[2])
end
return 'OK'
`

// luaDeleteUser removes a user, its username lookup and its index entry.
//
// KEYS[1] = user key
// KEYS[2] = users index set
// ARGV[1] = user id
// ARGV[2] = username key prefix
//
// Returns 1 if deleted, 0 if absent.
const luaDeleteUser = `
local old = redis.call('GET', KEYS[1])
if not old then
    return 0
end
local prev = cjson.decode(old)
if prev.username and prev.username ~= '' then
    redis.call('DEL', ARGV[2] .. prev.username)
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return 1
`

// userJSON is the JSON representation of a user
type userJSON struct {
	ID        string            `json:"id"`
	Username  string            `json:"username"`
	Email     string            `json:"email,omitempty"`
	Scopes    []string          `json:"scopes"`
	Profile   map[string]string `json:"profile,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func toUserJSON(u *storage.User) *userJSON {
	return &userJSON{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Scopes:    u.Scopes,
		Profile:   u.Profile,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func fromUserJSON(j *userJSON) *storage.User {
	return &storage.User{
		ID:        j.ID,
		Username:  j.Username,
		Email:     j.Email,
		Scopes:    j.Scopes,
		Profile:   j.Profile,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
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
	if err := validateStringLength(user.ID, MaxIDLength, "user_id"); err != nil {
		return err
	}

	data, err := json.Marshal(toUserJSON(user))
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCreateUser).
			Numkeys(3).
			Key(s.userKey(user.ID), s.usernameKey(user.Username), s.usersIndexKey()).
			Arg(string(data)).
			Arg(user.ID).
			Arg(user.Username).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	switch result {
	case "EXISTS":
		return fmt.Errorf("%w: user %s", storage.ErrAlreadyExists, user.ID)
	case "USERNAME_TAKEN":
		return fmt.Errorf("%w: username %s", storage.ErrAlreadyExists, user.Username)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (_ *storage.User, err error) {
	ctx, done := s.tracker.Start(ctx, "get_user")
	defer func() { done(err) }()

	return s.getUser(ctx, userID)
}

func (s *Store) getUser(ctx context.Context, userID string) (*storage.User, error) {
	var j userJSON
	if err := s.getJSON(ctx, s.userKey(userID), &j); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", storage.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return fromUserJSON(&j), nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	ctx, done := s.tracker.Start(ctx, "get_user_by_username")
	defer func() { done(err) }()

	if username == "" {
		return nil, fmt.Errorf("%w: empty username", storage.ErrNotFound)
	}

	userID, err := s.client.Do(ctx, s.client.B().Get().Key(s.usernameKey(username)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: username %s", storage.ErrNotFound, username)
		}
		return nil, fmt.Errorf("failed to get username lookup: %w", err)
	}
	return s.getUser(ctx, userID)
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) (_ []*storage.User, err error) {
	ctx, done := s.tracker.Start(ctx, "list_users")
	defer func() { done(err) }()

	ids, err := s.members(ctx, s.usersIndexKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	sort.Strings(ids)

	users := make([]*storage.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.getUser(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *storage.User) (err error) {
	ctx, done := s.tracker.Start(ctx, "update_user")
	defer func() { done(err) }()

	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user id is required", storage.ErrInvalidRecord)
	}

	data, err := json.Marshal(toUserJSON(user))
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaUpdateUser).
			Numkeys(2).
			Key(s.userKey(user.ID), s.usernameKey(user.Username)).
			Arg(string(data)).
			Arg(user.ID).
			Arg(user.Username).
			Arg(s.usernamePrefix()).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return fmt.Errorf("%w: user %s", storage.ErrNotFound, user.ID)
	case "USERNAME_TAKEN":
		return fmt.Errorf("%w: username %s", storage.ErrAlreadyExists, user.Username)
	}
	return nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, userID string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_user")
	defer func() { done(err) }()

	removed, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaDeleteUser).
			Numkeys(2).
			Key(s.userKey(userID), s.usersIndexKey()).
			Arg(userID).
			Arg(s.usernamePrefix()).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: user %s", storage.ErrNotFound, userID)
	}
	return nil
}
