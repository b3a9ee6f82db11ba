// Package jwt reads identity claims out of access tokens and, for fake upstreams and
// load tests, issues them.
//
// # Architecture boundaries
//
// The gateway is a client: it usually cannot verify the server's signature. A
// [Decoder] built without keys reads claims unverified and only uses them to label the
// session. When a verification key is configured the signature, algorithm and
// registered claims are enforced.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Import authgate or credential.
package jwt
