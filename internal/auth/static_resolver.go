package auth

import (
	"net/http"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// StaticResolver resolves every request to the same principal.
// Used by tests and local tooling.
type StaticResolver struct {
	Principal model.Principal
}

func (s StaticResolver) Resolve(*http.Request) (model.Principal, error) {
	return s.Principal, nil
}
