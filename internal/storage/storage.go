// Package storage persists the client's small key/value state, most
// importantly the identity secret. Values are opaque strings; callers decide
// their encoding.
package storage

// Store is the persistence surface the keystore depends on. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it exists. A missing key is
	// not an error.
	Get(key string) (string, bool, error)
	// Set writes the value for key, creating or replacing it.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is a no-op.
	Remove(key string) error
}
