package vault

import "errors"

// Sentinel errors returned by vault operations. Callers (and the HTTP
// layer) match these with errors.Is to pick status codes and recovery
// behavior.
var (
	// ErrNotFound: the id is neither live nor archived.
	ErrNotFound = errors.New("snapshot not found")

	// ErrArchived: the id sits in the archive tier; Restore rehydrates it.
	ErrArchived = errors.New("snapshot is archived")

	// ErrCorrupted: stored bytes do not match the recorded checksum, or the
	// manifest failed authentication.
	ErrCorrupted = errors.New("snapshot data corrupted")

	// ErrLocked: another process holds the vault write lock.
	ErrLocked = errors.New("vault is locked by another process")

	// ErrInvalidID: the snapshot id fails syntax validation.
	ErrInvalidID = errors.New("invalid snapshot id")

	// ErrInvalidPayload: the payload is empty or not valid JSON.
	ErrInvalidPayload = errors.New("invalid snapshot payload")

	// ErrSealRequired: the snapshot is sealed but the vault has no key.
	ErrSealRequired = errors.New("snapshot is sealed and no vault key is configured")
)
