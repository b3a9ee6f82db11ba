package flows

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/MrEthical07/authgate/credential"
)

var (
	errMissingToken = errors.New("response missing token or refreshToken")
	errEmptyPayload = errors.New("empty response payload")
)

// tokenEnvelope is the body returned by authenticate, activate-account and
// refresh-token.
type tokenEnvelope struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	User         *userPayload `json:"user,omitempty"`
}

type userPayload struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Provider    string `json:"provider"`
}

func decodeEnvelope(payload []byte) (tokenEnvelope, error) {
	var env tokenEnvelope
	if len(strings.TrimSpace(string(payload))) == 0 {
		return env, errEmptyPayload
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, err
	}
	return env, nil
}

func (e tokenEnvelope) credential() (credential.Credential, error) {
	cred := credential.Credential{AccessToken: e.Token, RefreshToken: e.RefreshToken}
	if !cred.Complete() {
		return credential.Credential{}, errMissingToken
	}
	return cred, nil
}

func (u *userPayload) identity() (credential.Identity, bool) {
	if u == nil {
		return credential.Identity{}, false
	}
	name := u.DisplayName
	if name == "" {
		name = u.Name
	}
	id := credential.Identity{
		Email:       u.Email,
		DisplayName: name,
		Role:        u.Role,
		Provider:    u.Provider,
	}
	return id, !id.IsZero()
}

// resolveIdentity prefers the response's user object, then the access token claims,
// then fallback.
func resolveIdentity(
	env tokenEnvelope,
	fromToken func(string) (credential.Identity, error),
	fallback credential.Identity,
) credential.Identity {
	if id, ok := env.User.identity(); ok {
		if id.Provider == "" {
			id.Provider = fallback.Provider
		}
		return id
	}
	if fromToken != nil {
		if id, err := fromToken(env.Token); err == nil && !id.IsZero() {
			if id.Provider == "" {
				id.Provider = fallback.Provider
			}
			return id
		}
	}
	return fallback
}

func marshalBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
