// Package store is the device-local persistence adapter: a durable key/value
// store for encrypted blobs and the last-used credentials pointer. Local disk
// only — no network, no eviction. It is the offline-first cache: every save
// writes here before any remote push is attempted.
package store

// KV is a durable per-device key/value store. Get returns ok=false when the
// key is absent; absence is not an error.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

const prefix = "famtable"

// BlobKey returns the storage key for a family's latest encrypted blob.
func BlobKey(familyID string) string { return prefix + ":blob:" + familyID }

// LastUsedKey is the fixed key for the last active credentials pointer.
const LastUsedKey = prefix + ":last"

// EndpointKey is the fixed key for the configured relay endpoint.
const EndpointKey = prefix + ":endpoint"
