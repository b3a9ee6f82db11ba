package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/credential"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNoSession
	RefreshFailureEncode
	RefreshFailureTransport
	RefreshFailureStatus
	RefreshFailureDecode
	RefreshFailureMissingToken
)

// String returns a stable label used in logs and audit metadata.
func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureNoSession:
		return "no_session"
	case RefreshFailureEncode:
		return "encode"
	case RefreshFailureTransport:
		return "transport"
	case RefreshFailureStatus:
		return "status"
	case RefreshFailureDecode:
		return "decode"
	case RefreshFailureMissingToken:
		return "missing_token"
	default:
		return "unknown"
	}
}

// ErrNoRefreshToken is reported when there is no refresh token to exchange.
var ErrNoRefreshToken = errors.New("no refresh token")

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	StatusCode int
	Credential credential.Credential
	Identity   credential.Identity
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RunRefresh exchanges the current refresh token for a new pair.
//
// Any transport error, any non-2xx status (401 included), an undecodable body, or a
// body missing either token counts as failure.
func RunRefresh(ctx context.Context, deps RefreshDeps) RefreshResult {
	refreshToken := ""
	if deps.RefreshToken != nil {
		refreshToken = deps.RefreshToken()
	}
	if refreshToken == "" {
		return RefreshResult{Failure: RefreshFailureNoSession, Err: ErrNoRefreshToken}
	}

	body, err := marshalBody(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureEncode, Err: err}
	}

	status, payload, err := deps.Send(ctx, deps.Path, body)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureTransport, Err: err}
	}
	if !isSuccess(status) {
		return RefreshResult{Failure: RefreshFailureStatus, StatusCode: status, Err: errors.New("refresh rejected")}
	}

	env, err := decodeEnvelope(payload)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, StatusCode: status, Err: err}
	}
	cred, err := env.credential()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureMissingToken, StatusCode: status, Err: err}
	}

	var current credential.Identity
	if deps.CurrentIdentity != nil {
		current = deps.CurrentIdentity()
	}

	return RefreshResult{
		StatusCode: status,
		Credential: cred,
		Identity:   resolveIdentity(env, deps.IdentityFromToken, current),
	}
}
