package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod names a supported JWS algorithm.
type SigningMethod string

const (
	// MethodEd25519 selects EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 selects HMAC-SHA256 with a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// ErrMalformedToken is returned when a token cannot be parsed at all.
var ErrMalformedToken = errors.New("malformed token")

// Claims is the access-token payload the storefront API issues.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// Config configures a [Decoder] or an [Issuer].
//
// A Decoder with an empty SigningMethod parses without verifying.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	AccessTTL     time.Duration
	KeyID         string
}

// Decoder extracts [Claims] from access tokens.
type Decoder struct {
	config Config
	verify bool
}

// NewDecoder validates cfg and returns a Decoder.
func NewDecoder(cfg Config) (*Decoder, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case "":
		return &Decoder{config: cfg}, nil
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires shared secret")
		}
	case MethodEd25519:
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Decoder{config: cfg, verify: true}, nil
}

// Verifying reports whether signatures are checked.
func (d *Decoder) Verifying() bool {
	return d != nil && d.verify
}

// Decode parses tokenStr and returns its claims.
//
// Without a verification key only the structure is checked. Expiry is never enforced
// in that mode because an expired access token is exactly what the gateway refreshes.
func (d *Decoder) Decode(tokenStr string) (*Claims, error) {
	if d == nil {
		return nil, errors.New("nil decoder")
	}
	if strings.TrimSpace(tokenStr) == "" {
		return nil, ErrMalformedToken
	}

	if !d.verify {
		claims := &Claims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		return claims, nil
	}

	method := methodFor(d.config.SigningMethod)
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
	}
	if d.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(d.config.Leeway))
	}
	if d.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(d.config.Issuer))
	}
	if d.config.Audience != "" {
		options = append(options, jwt.WithAudience(d.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if d.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != d.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return verifyKey(d.config)
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Issuer signs access tokens. The gateway never issues tokens itself; Issuer backs
// fake upstreams in tests and the load-test harness.
type Issuer struct {
	config Config
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires shared secret")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Issuer{config: cfg}, nil
}

// Issue signs claims, filling registered time claims from the configured TTL.
func (i *Issuer) Issue(claims Claims) (string, error) {
	now := time.Now()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.config.AccessTTL))
	}
	if claims.Issuer == "" {
		claims.Issuer = i.config.Issuer
	}
	if i.config.Audience != "" && len(claims.Audience) == 0 {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	token := jwt.NewWithClaims(methodFor(i.config.SigningMethod), claims)
	if i.config.KeyID != "" {
		token.Header["kid"] = i.config.KeyID
	}

	key, err := signKey(i.config)
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

func methodFor(m SigningMethod) jwt.SigningMethod {
	switch m {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func signKey(cfg Config) (interface{}, error) {
	switch cfg.SigningMethod {
	case MethodHS256:
		return cfg.PrivateKey, nil
	default:
		return parseEdPrivateKey(cfg.PrivateKey)
	}
}

func verifyKey(cfg Config) (interface{}, error) {
	switch cfg.SigningMethod {
	case MethodHS256:
		return cfg.PrivateKey, nil
	default:
		return parseEdPublicKey(cfg.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
