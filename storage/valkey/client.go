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

// luaCreateMember stores a record only if its key is free and adds id to
// the index set.
//
// KEYS[1] = record key
// KEYS[2] = index set
// ARGV[1] = JSON data
// ARGV[2] = id
const luaCreateMember = `
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
    return 0
end
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`

// luaDeleteMember deletes a record and removes id from the index set.
// Returns the number of records deleted.
const luaDeleteMember = `
local removed = redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return removed
`

// clientJSON is the JSON representation of a client
type clientJSON struct {
	ID           string    `json:"id"`
	SecretHash   string    `json:"secret_hash,omitempty"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes"`
	GrantTypes   []string  `json:"grant_types"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ID:           c.ID,
		SecretHash:   c.SecretHash,
		Name:         c.Name,
		Type:         string(c.Type),
		RedirectURIs: c.RedirectURIs,
		Scopes:       c.Scopes,
		GrantTypes:   c.GrantTypes,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ID:           j.ID,
		SecretHash:   j.SecretHash,
		Name:         j.Name,
		Type:         storage.ClientType(j.Type),
		RedirectURIs: j.RedirectURIs,
		Scopes:       j.Scopes,
		GrantTypes:   j.GrantTypes,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
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
	if err := validateStringLength(client.ID, MaxIDLength, "client_id"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	stored, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCreateMember).
			Numkeys(2).
			Key(s.clientKey(client.ID), s.clientsIndexKey()).
			Arg(string(data)).
			Arg(client.ID).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	if stored == 0 {
		return fmt.Errorf("%w: client %s", storage.ErrAlreadyExists, client.ID)
	}

	s.logger.Debug("Saved client", "client_id", client.ID, "client_type", client.Type)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.tracker.Start(ctx, "get_client")
	defer func() { done(err) }()

	var j clientJSON
	if err := s.getJSON(ctx, s.clientKey(clientID), &j); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return fromClientJSON(&j), nil
}

// ListClients returns all clients ordered by ID.
func (s *Store) ListClients(ctx context.Context) (_ []*storage.Client, err error) {
	ctx, done := s.tracker.Start(ctx, "list_clients")
	defer func() { done(err) }()

	ids, err := s.members(ctx, s.clientsIndexKey())
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	sort.Strings(ids)

	clients := make([]*storage.Client, 0, len(ids))
	for _, id := range ids {
		var j clientJSON
		if err := s.getJSON(ctx, s.clientKey(id), &j); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // Deleted between SMEMBERS and GET
			}
			return nil, fmt.Errorf("failed to get client %s: %w", id, err)
		}
		clients = append(clients, fromClientJSON(&j))
	}
	return clients, nil
}

// UpdateClient replaces an existing client.
func (s *Store) UpdateClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.tracker.Start(ctx, "update_client")
	defer func() { done(err) }()

	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client id is required", storage.ErrInvalidRecord)
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	// XX only overwrites an existing key
	err = s.client.Do(ctx,
		s.client.B().Set().Key(s.clientKey(client.ID)).Value(string(data)).Xx().Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			return fmt.Errorf("%w: client %s", storage.ErrNotFound, client.ID)
		}
		return fmt.Errorf("failed to update client: %w", err)
	}
	return nil
}

// DeleteClient removes a client.
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	ctx, done := s.tracker.Start(ctx, "delete_client")
	defer func() { done(err) }()

	removed, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaDeleteMember).
			Numkeys(2).
			Key(s.clientKey(clientID), s.clientsIndexKey()).
			Arg(clientID).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
	}
	return nil
}
