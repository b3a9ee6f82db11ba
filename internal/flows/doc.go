// Package flows contains pure-function orchestrators for the gateway's auth wire calls.
//
// Each flow function (RunRefresh, RunTokenExchange) accepts a typed dependency struct
// and returns a Result carrying either the issued credential or a Failure kind. The
// root package maps Failure kinds onto its error sentinels, metrics and audit events.
//
// # Architecture boundaries
//
// Flows build request bodies and interpret response envelopes. Sending is mediated by
// the Send dependency so the gateway's dispatcher stays the only HTTP client.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authgate (to avoid import cycles).
//   - Touch the credential store; writing the result is the caller's job.
package flows
