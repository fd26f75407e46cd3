package events

// CacheError is published when a cache read or write fails. Cache
// failures are absorbed by the pipeline and never surfaced to clients;
// this event is the only place they become visible.
type CacheError struct {
	Cache string // "persisted-query" or "document"
	Op    string // "get" or "set"
	Key   string
	Err   error
}
