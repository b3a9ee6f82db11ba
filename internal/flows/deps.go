package flows

import (
	"context"

	"github.com/MrEthical07/authgate/credential"
)

// SendFunc posts body to path and returns the raw status and payload. err is non-nil
// only when no HTTP response was received.
type SendFunc func(ctx context.Context, path string, body []byte) (status int, payload []byte, err error)

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Path              string
	Send              SendFunc
	RefreshToken      func() string
	CurrentIdentity   func() credential.Identity
	IdentityFromToken func(accessToken string) (credential.Identity, error)
}

// ExchangeDeps captures dependencies for flows that trade user input for a new token
// pair (password login, account activation).
type ExchangeDeps struct {
	Send              SendFunc
	IdentityFromToken func(accessToken string) (credential.Identity, error)
	DefaultProvider   string
}

// Deps groups flow dependency sets. The gateway builds this once and delegates to the
// matching flow implementation.
type Deps struct {
	Refresh  RefreshDeps
	Exchange ExchangeDeps
}
