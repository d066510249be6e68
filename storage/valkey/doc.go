// Package valkey provides a Valkey storage backend for mcpresso-oauth.
//
// Valkey is a high-performance key-value store that is wire-compatible with
// Redis. The Store type implements [storage.Store], so several authorization
// server replicas can share clients, users, codes and tokens.
//
// # Key Schema
//
// All keys use a configurable prefix (default "mcpresso:"):
//
//	{prefix}client:{clientID}             -> JSON(Client)
//	{prefix}idx:clients                   -> SET of client IDs
//	{prefix}user:{userID}                 -> JSON(User)
//	{prefix}username:{username}           -> userID
//	{prefix}idx:users                     -> SET of user IDs
//	{prefix}code:{code}                   -> JSON(AuthorizationCode) (with TTL)
//	{prefix}idx:codes                     -> ZSET code by expiry (ms)
//	{prefix}access:{token}                -> JSON(AccessToken) (with TTL)
//	{prefix}idx:access                    -> ZSET token by expiry (ms)
//	{prefix}refresh:{token}               -> JSON(RefreshToken) (with TTL)
//	{prefix}idx:refresh                   -> ZSET token by expiry (ms)
//	{prefix}access_refresh:{accessToken}  -> SET of refresh tokens
//
// Codes and tokens carry a Valkey TTL of their remaining lifetime plus
// Config.ExpiredRetention. Until that lapses an expired record is still
// returned by Get, matching the other backends; the server decides what an
// expired record means. The cleanup operations delete expired records
// eagerly through the expiry indexes.
//
// # Atomic Operations
//
// Creates, consumes and cleanups run as Lua scripts, so a record and its
// index entries change together and a consumed code or refresh token is
// returned to exactly one caller:
//
//   - ConsumeAuthorizationCode: prevents authorization code replay
//   - ConsumeRefreshToken: makes refresh token rotation exactly-once
//
// The scripts build some key names from prefixes passed as arguments, so
// the store targets standalone or sentinel deployments rather than Valkey
// Cluster.
//
// # Configuration
//
// Basic usage:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "mcpresso:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "valkey.example.com:6379",
//	    Password:  os.Getenv("VALKEY_PASSWORD"),
//	    TLS:       &tls.Config{MinVersion: tls.VersionTLS12},
//	    KeyPrefix: "mcpresso:",
//	})
//
// # Security Considerations
//
//   - Client secrets are stored as bcrypt hashes only
//   - TLS support enables encrypted connections to Valkey servers
//   - Input size validation rejects oversized identifiers and tokens
package valkey
