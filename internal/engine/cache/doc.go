// Package cache provides a persistent, time-boxed response cache for API calls.
//
// Responses are stored as JSON envelopes ({"data": ..., "expiry": <unix ms>})
// under namespaced keys in a synchronous key-value backend. Key features:
//   - Pluggable backends (files, SQLite via gorm, memory) behind an Adapter that
//     never surfaces storage failures to callers
//   - Deterministic keys derived from the request identity and canonicalized params
//   - Default expiry windows chosen per endpoint class (signals, sentiment, overview)
//   - Hit/miss statistics per cache instance, optionally exported to Prometheus
//   - A background Sweeper that purges expired envelopes on an interval
//   - WithCache, a cache-aside helper that coalesces concurrent misses
//
// The worst outcome of any internal failure is a cache miss; WithCache then
// falls back to the caller's fetch function.
package cache
