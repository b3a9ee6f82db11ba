package credential

import "strings"

// Credential is the bearer token pair issued by the auth endpoints.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both tokens are present.
func (c Credential) Complete() bool {
	return strings.TrimSpace(c.AccessToken) != "" && strings.TrimSpace(c.RefreshToken) != ""
}

// Identity is the user record derived from login and refresh responses.
type Identity struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Provider    string `json:"provider"`
}

// IsZero reports whether no identity field is set.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

// Session is an immutable snapshot of the current credential and identity.
type Session struct {
	Credential
	Identity Identity
}

// Record is what a [Backend] holds. Fields may be individually missing when the
// persisted state was damaged or partially written by an older client.
type Record struct {
	Identity     *Identity
	AccessToken  string
	RefreshToken string
}

// Complete reports whether all three fields are present.
func (r Record) Complete() bool {
	return r.Identity != nil && r.AccessToken != "" && r.RefreshToken != ""
}

// Empty reports whether no field is present.
func (r Record) Empty() bool {
	return r.Identity == nil && r.AccessToken == "" && r.RefreshToken == ""
}
