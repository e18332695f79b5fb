// Package access evaluates the static role policy. Evaluation is a pure
// function of its input: no I/O, no clock, no mutable state.
package access

import (
	"fmt"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// Request is a single authorization question.
type Request struct {
	Role      model.Role
	Type      model.MemoryType
	Operation model.Operation
	// Relation is how the target namespace relates to the principal
	// (see model.Principal.Relation).
	Relation model.Scope
}

// Decision is the evaluator's answer. Scope is the widest relation the
// matching grant covers, ScopeNone when no grant exists.
type Decision struct {
	Allowed bool
	Scope   model.Scope
	Reason  string
}

type key struct {
	role model.Role
	typ  model.MemoryType
	op   model.Operation
}

// policy maps (role, type, operation) to the widest granted scope.
// Triples that are absent are denied.
var policy = buildPolicy()

func buildPolicy() map[key]model.Scope {
	p := make(map[key]model.Scope)
	grant := func(role model.Role, op model.Operation, scope model.Scope, types ...model.MemoryType) {
		for _, t := range types {
			p[key{role, t, op}] = scope
		}
	}
	all := model.AllTypes
	curated := []model.MemoryType{model.TypeEvent, model.TypeInsight, model.TypeContext, model.TypeConversationTurn}

	grant(model.RoleReadOnly, model.OpRead, model.ScopeTeam, all...)

	grant(model.RoleContributor, model.OpRead, model.ScopeTeam, all...)
	grant(model.RoleContributor, model.OpWrite, model.ScopeOwn, curated...)
	grant(model.RoleContributor, model.OpDelete, model.ScopeOwn, curated...)

	grant(model.RoleManager, model.OpRead, model.ScopeGlobal, all...)
	grant(model.RoleManager, model.OpWrite, model.ScopeTeam, all...)
	grant(model.RoleManager, model.OpDelete, model.ScopeTeam, all...)
	grant(model.RoleManager, model.OpStats, model.ScopeGlobal, model.AnyType)

	grant(model.RoleExecutive, model.OpRead, model.ScopeGlobal, all...)
	grant(model.RoleExecutive, model.OpWrite, model.ScopeGlobal, all...)
	grant(model.RoleExecutive, model.OpDelete, model.ScopeGlobal, all...)
	grant(model.RoleExecutive, model.OpStats, model.ScopeGlobal, model.AnyType)
	grant(model.RoleExecutive, model.OpPurge, model.ScopeGlobal, model.AnyType)
	return p
}

// Evaluate answers req against the static policy. Unknown triples and
// relations wider than the grant are denied.
func Evaluate(req Request) Decision {
	scope, ok := policy[key{req.Role, req.Type, req.Operation}]
	if !ok {
		return Decision{Reason: fmt.Sprintf("no grant for %s/%s/%s", req.Role, req.Type, req.Operation)}
	}
	if req.Relation == model.ScopeNone || req.Relation > scope {
		return Decision{Scope: scope, Reason: fmt.Sprintf("%s scope required, %s granted", req.Relation, scope)}
	}
	return Decision{Allowed: true, Scope: scope}
}

// Granted returns the widest scope granted for the triple without judging a
// concrete relation. Used to narrow queries before they reach a tier.
func Granted(role model.Role, typ model.MemoryType, op model.Operation) model.Scope {
	return policy[key{role, typ, op}]
}

// Check evaluates req and converts a deny into a model.AuthorizationError.
func Check(req Request) error {
	d := Evaluate(req)
	if d.Allowed {
		return nil
	}
	return model.AuthorizationError{Role: req.Role, Type: req.Type, Operation: req.Operation, Reason: d.Reason}
}
