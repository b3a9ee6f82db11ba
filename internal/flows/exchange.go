package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/credential"
)

// ExchangeFailureKind classifies token-exchange failures.
type ExchangeFailureKind int

const (
	ExchangeFailureNone ExchangeFailureKind = iota
	ExchangeFailureEncode
	ExchangeFailureTransport
	ExchangeFailureRejected
	ExchangeFailureStatus
	ExchangeFailureDecode
	ExchangeFailureMissingToken
)

// ExchangeResult carries the issued pair or failure metadata.
type ExchangeResult struct {
	Failure    ExchangeFailureKind
	Err        error
	StatusCode int
	Payload    []byte
	Credential credential.Credential
	Identity   credential.Identity
}

// RunTokenExchange posts request to path and interprets the response as a token
// envelope. A 4xx answer is a rejection of the user's input (bad password, stale
// activation code); other non-2xx answers are server failures.
func RunTokenExchange(ctx context.Context, path string, request any, deps ExchangeDeps) ExchangeResult {
	body, err := marshalBody(request)
	if err != nil {
		return ExchangeResult{Failure: ExchangeFailureEncode, Err: err}
	}

	status, payload, err := deps.Send(ctx, path, body)
	if err != nil {
		return ExchangeResult{Failure: ExchangeFailureTransport, Err: err}
	}
	if !isSuccess(status) {
		kind := ExchangeFailureStatus
		if status >= 400 && status < 500 {
			kind = ExchangeFailureRejected
		}
		return ExchangeResult{
			Failure:    kind,
			Err:        errors.New("token exchange rejected"),
			StatusCode: status,
			Payload:    payload,
		}
	}

	env, err := decodeEnvelope(payload)
	if err != nil {
		return ExchangeResult{Failure: ExchangeFailureDecode, Err: err, StatusCode: status}
	}
	cred, err := env.credential()
	if err != nil {
		return ExchangeResult{Failure: ExchangeFailureMissingToken, Err: err, StatusCode: status}
	}

	return ExchangeResult{
		StatusCode: status,
		Credential: cred,
		Identity:   resolveIdentity(env, deps.IdentityFromToken, credential.Identity{Provider: deps.DefaultProvider}),
	}
}
