// Package cache implements a transparent cache for outbound HTTP requests.
//
// A request is identified by its normalized URL (see Keyer). The Engine decides
// per request whether the cache is consulted, serves found records even when
// they are stale (stale-while-revalidate), and persists cacheable responses
// through a single write path. Stale records are flagged for the background
// refresh job in package maintenance; nothing in this package blocks on it.
//
// Persistence is abstracted by the Store interface. MemoryStore is the in-process
// implementation; durable stores live in the sqlite and postgres subpackages and
// share the storetest contract suite.
//
// Transport wires the Engine into an http.Client as a RoundTripper. Any failure
// inside the cache falls back to the live call.
package cache
