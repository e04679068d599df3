package lookup

import "errors"

var (
	// ErrInitialized is returned when Init is called twice.
	ErrInitialized = errors.New("lookup: index already initialized")

	// ErrNotInitialized is returned when the index is used before Init.
	ErrNotInitialized = errors.New("lookup: index not initialized")

	// ErrMigrated is returned when MigrateToDynamic is called a second time.
	ErrMigrated = errors.New("lookup: index already migrated")
)
