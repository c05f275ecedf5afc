// Package capability mints and verifies signed, time-boxed, single-operation
// object store URLs. A capability token is an HS256 JWT signed with the
// account key and carried in the "sig" query parameter.
package capability

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fruitsalade/blobfm/pkg/protocol"
)

// Operation is the single operation a capability grants.
type Operation string

const (
	List   Operation = "l"
	Create Operation = "c"
	Write  Operation = "w"
	Delete Operation = "d"
	Read   Operation = "r"
)

func (o Operation) String() string {
	switch o {
	case List:
		return "list"
	case Create:
		return "create"
	case Write:
		return "write"
	case Delete:
		return "delete"
	case Read:
		return "read"
	}
	return string(o)
}

// Scope is the resource kind a capability is bound to.
type Scope string

const (
	ScopeContainer Scope = "c"
	ScopeBlob      Scope = "b"
)

var (
	// ErrNoKey means the signer holds no account key and cannot mint.
	ErrNoKey = errors.New("no account key configured")
	// ErrAuthentication means the token is malformed, forged, expired or foreign.
	ErrAuthentication = errors.New("capability authentication failed")
	// ErrExpired is wrapped together with ErrAuthentication for expired tokens.
	ErrExpired = errors.New("capability expired")
	// ErrPermissionMismatch means the token grants a different operation.
	ErrPermissionMismatch = errors.New("capability does not grant this operation")
	// ErrResourceMismatch means the token is bound to a different resource.
	ErrResourceMismatch = errors.New("capability is bound to a different resource")
)

// Capability is a minted, signed access URL.
type Capability struct {
	Scope     Scope
	Resource  string
	Operation Operation
	Expiry    time.Time
	URL       string
}

// Claims are the signed contents of a capability token.
type Claims struct {
	Account   string    `json:"acc"`
	Container string    `json:"ctr"`
	Scope     Scope     `json:"sr"`
	Resource  string    `json:"res,omitempty"`
	Operation Operation `json:"sp"`
	jwt.RegisteredClaims
}

// Account identifies the store account capabilities are minted for.
type Account struct {
	Name      string
	Key       string
	Container string
	BaseURL   string
}

// EscapeName path-escapes each segment of an object name.
func EscapeName(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ResourceURL returns the unsigned URL of the container (empty name) or an object.
func ResourceURL(baseURL, container, name string) string {
	u := strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(container)
	if name != "" {
		u += "/" + EscapeName(name)
	}
	return u
}

// Signer mints capabilities with the account key.
type Signer struct {
	account Account
	now     func() time.Time
}

// NewSigner returns a Signer for account.
func NewSigner(account Account) *Signer {
	return &Signer{account: account, now: time.Now}
}

// Sign mints a capability for one operation on a container or object.
func (s *Signer) Sign(scope Scope, resource string, op Operation, expiry time.Time) (*Capability, error) {
	if s.account.Key == "" {
		return nil, ErrNoKey
	}
	if scope == ScopeBlob && resource == "" {
		return nil, fmt.Errorf("blob capability requires a resource name")
	}
	if scope == ScopeContainer {
		resource = ""
	}

	claims := Claims{
		Account:   s.account.Name,
		Container: s.account.Container,
		Scope:     scope,
		Resource:  resource,
		Operation: op,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.account.Name,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.account.Key))
	if err != nil {
		return nil, fmt.Errorf("sign capability: %w", err)
	}

	return &Capability{
		Scope:     scope,
		Resource:  resource,
		Operation: op,
		Expiry:    expiry,
		URL:       ResourceURL(s.account.BaseURL, s.account.Container, resource) + "?" + protocol.SignatureParam + "=" + url.QueryEscape(token),
	}, nil
}

// Verifier checks capability tokens presented to the store.
type Verifier struct {
	account   string
	container string
	key       []byte
	now       func() time.Time
}

// NewVerifier returns a Verifier for account.
func NewVerifier(account Account) *Verifier {
	return &Verifier{
		account:   account.Name,
		container: account.Container,
		key:       []byte(account.Key),
		now:       time.Now,
	}
}

// Verify parses token and checks signature, issuer, container and expiry.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrAuthentication)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.account),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrAuthentication, ErrExpired)
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if claims.Account != v.account || claims.Container != v.container {
		return nil, fmt.Errorf("%w: foreign account or container", ErrAuthentication)
	}
	return claims, nil
}

// Allows checks that the claims cover resource at scope with one of ops.
func (c *Claims) Allows(scope Scope, resource string, ops ...Operation) error {
	if c.Scope != scope || (scope == ScopeBlob && c.Resource != resource) {
		return ErrResourceMismatch
	}
	for _, op := range ops {
		if c.Operation == op {
			return nil
		}
	}
	return ErrPermissionMismatch
}
