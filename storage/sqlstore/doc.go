// Package sqlstore implements storage.Store on a relational database
// through gorm. SQLite (pure Go, via github.com/glebarez/sqlite) and
// PostgreSQL dialects are registered.
//
// Tables are created with AutoMigrate when the store is opened. Consume
// operations run inside a transaction whose DELETE decides the winner: a
// caller that deletes zero rows lost the race and gets storage.ErrNotFound.
//
// Example usage:
//
//	store, err := sqlstore.Open("sqlite", "file:oauth.db", logger)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package sqlstore
