// Package credential holds the client-side session: the access/refresh token pair and
// the identity record derived from it.
//
// # Architecture boundaries
//
// [Store] owns the in-memory view and is the only writer of it. Persistence is
// delegated to a [Backend] ([MemoryBackend] or [RedisBackend]) so a session survives
// process restarts.
//
// # Invariants
//
//   - A pair is written whole or not at all. Readers observe an immutable [Session]
//     snapshot swapped atomically, never a half-updated pair.
//   - On restore, a record is a session only when identity, access token and refresh
//     token are all present. Anything less is cleared.
//
// # What this package must NOT do
//
//   - Perform network calls other than backend persistence.
//   - Import authgate, jwt, or internal/flows.
package credential
