// Package memory provides an in-memory implementation of storage.Store.
//
// All state lives in the Store value returned by New; there are no package
// level maps, so independent stores (one per test, one per server) never
// share data. Operations are guarded by a sync.RWMutex, and the consume
// operations run under the write lock, which makes them atomic.
//
// Records are copied on the way in and out, so callers cannot mutate stored
// state through a returned pointer.
//
// Example usage:
//
//	store := memory.New(logger)
//	srv, err := server.New(store, cfg, logger)
package memory
