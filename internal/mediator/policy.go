package mediator

import (
	"github.com/ai-cherry/memory-mediator/internal/access"
	"github.com/ai-cherry/memory-mediator/internal/model"
)

func accessGranted(role model.Role, t model.MemoryType, op model.Operation) bool {
	return access.Granted(role, t, op) != model.ScopeNone
}

func accessAllowed(role model.Role, t model.MemoryType, op model.Operation, relation model.Scope) bool {
	return access.Evaluate(access.Request{Role: role, Type: t, Operation: op, Relation: relation}).Allowed
}

// grantedAny reports whether role may perform op on at least one type, at
// any scope. It decides denials that need no record.
func grantedAny(role model.Role, op model.Operation) bool {
	for _, t := range model.AllTypes {
		if accessGranted(role, t, op) {
			return true
		}
	}
	return false
}
