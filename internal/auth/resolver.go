// Package auth resolves the calling principal from an HTTP request. The
// mediator trusts an upstream front end to have authenticated the user; the
// front end forwards the result in X-Principal-* headers and, when a shared
// token is configured, proves itself with a bearer token.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// Headers the front end sets on every request.
const (
	HeaderPrincipalID        = "X-Principal-Id"
	HeaderPrincipalRole      = "X-Principal-Role"
	HeaderPrincipalNamespace = "X-Principal-Namespace"
	HeaderPrincipalTeams     = "X-Principal-Teams"
)

// Resolver turns a request into the principal it acts for.
type Resolver interface {
	Resolve(r *http.Request) (model.Principal, error)
}

// HeaderResolver reads the X-Principal-* headers. With a non-empty Token the
// request must also carry "Authorization: Bearer <Token>".
type HeaderResolver struct {
	Token string
}

// NewHeaderResolver returns a HeaderResolver guarded by token.
func NewHeaderResolver(token string) *HeaderResolver {
	return &HeaderResolver{Token: token}
}

func (h *HeaderResolver) Resolve(r *http.Request) (model.Principal, error) {
	if h.Token != "" {
		tok, err := ExtractBearer(r)
		if err != nil {
			return model.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		if subtle.ConstantTimeCompare([]byte(tok), []byte(h.Token)) != 1 {
			return model.Principal{}, ErrUnauthenticated
		}
	}

	id := strings.TrimSpace(r.Header.Get(HeaderPrincipalID))
	if id == "" {
		return model.Principal{}, ErrMissingPrincipal
	}
	role, err := model.ParseRole(strings.TrimSpace(r.Header.Get(HeaderPrincipalRole)))
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidPrincipal, err)
	}
	p := model.Principal{
		ID:        id,
		Role:      role,
		Namespace: strings.TrimSpace(r.Header.Get(HeaderPrincipalNamespace)),
		Teams:     splitTeams(r.Header.Get(HeaderPrincipalTeams)),
	}
	if err := p.Validate(); err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidPrincipal, err)
	}
	return p, nil
}

// SetHeaders writes p onto an outgoing request the way HeaderResolver reads it.
func SetHeaders(h http.Header, p model.Principal) {
	h.Set(HeaderPrincipalID, p.ID)
	h.Set(HeaderPrincipalRole, string(p.Role))
	h.Set(HeaderPrincipalNamespace, p.Namespace)
	if len(p.Teams) > 0 {
		h.Set(HeaderPrincipalTeams, strings.Join(p.Teams, ","))
	}
}
