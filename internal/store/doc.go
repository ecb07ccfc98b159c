// Package store persists tenant configuration using SQLite.
//
// # Data Model
//
// A Tenant records who owns a hosted bot, its credential, the generated
// behavior profile and an active flag. The active flag is the operator's
// intent; whether a worker is actually running is tracked separately by the
// tenant supervisor, and the two are reconciled at process start.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go, no cgo) in WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Credentials are unique; registering one twice returns
// ErrDuplicateCredential.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for integration tests.
package store
