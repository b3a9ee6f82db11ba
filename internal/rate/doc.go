// Package rate keeps Redis-backed failed-login counters for the gateway.
//
// # Window semantics
//
// Fixed-window counters: INCR plus EXPIRE on the first hit. Keys are
// "<prefix>:login_attempts:<lowercased email>", sharing the session key prefix.
//
// # What this package must NOT do
//
//   - Decide what happens when Redis is down. The gateway lets the login through.
//   - Be imported outside the authgate module.
package rate
