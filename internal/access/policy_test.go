package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

var (
	roles     = []model.Role{model.RoleReadOnly, model.RoleContributor, model.RoleManager, model.RoleExecutive}
	ops       = []model.Operation{model.OpRead, model.OpWrite, model.OpDelete, model.OpStats, model.OpPurge}
	relations = []model.Scope{model.ScopeNone, model.ScopeOwn, model.ScopeTeam, model.ScopeGlobal}
)

func allTypes() []model.MemoryType {
	return append(append([]model.MemoryType{}, model.AllTypes...), model.AnyType, "Unknown")
}

// Every combination yields the same decision on repeated calls.
func TestEvaluate_Deterministic(t *testing.T) {
	for _, r := range roles {
		for _, typ := range allTypes() {
			for _, op := range ops {
				for _, rel := range relations {
					req := Request{Role: r, Type: typ, Operation: op, Relation: rel}
					first := Evaluate(req)
					for i := 0; i < 3; i++ {
						require.Equal(t, first, Evaluate(req), "%+v", req)
					}
				}
			}
		}
	}
}

// Higher roles never receive a narrower scope than lower ones.
func TestPolicy_MonotonicByRole(t *testing.T) {
	for _, typ := range allTypes() {
		for _, op := range ops {
			prev := model.ScopeNone
			for _, r := range roles {
				got := Granted(r, typ, op)
				assert.GreaterOrEqual(t, int(got), int(prev), "role=%s type=%s op=%s", r, typ, op)
				prev = got
			}
		}
	}
}

func TestEvaluate_DefaultDeny(t *testing.T) {
	cases := []Request{
		{Role: "Intern", Type: model.TypeEvent, Operation: model.OpRead, Relation: model.ScopeOwn},
		{Role: model.RoleExecutive, Type: "Unknown", Operation: model.OpRead, Relation: model.ScopeOwn},
		{Role: model.RoleExecutive, Type: model.TypeEvent, Operation: "archive", Relation: model.ScopeOwn},
		{Role: model.RoleReadOnly, Type: model.TypeInsight, Operation: model.OpWrite, Relation: model.ScopeOwn},
		{Role: model.RoleReadOnly, Type: model.TypeInsight, Operation: model.OpDelete, Relation: model.ScopeOwn},
		{Role: model.RoleContributor, Type: model.AnyType, Operation: model.OpStats, Relation: model.ScopeGlobal},
		{Role: model.RoleManager, Type: model.AnyType, Operation: model.OpPurge, Relation: model.ScopeGlobal},
	}
	for _, c := range cases {
		d := Evaluate(c)
		assert.False(t, d.Allowed, "%+v", c)
		assert.NotEmpty(t, d.Reason)
	}
}

func TestEvaluate_ScopeLimits(t *testing.T) {
	// Contributors may write their own Insight but not a teammate's.
	assert.True(t, Evaluate(Request{Role: model.RoleContributor, Type: model.TypeInsight, Operation: model.OpWrite, Relation: model.ScopeOwn}).Allowed)
	assert.False(t, Evaluate(Request{Role: model.RoleContributor, Type: model.TypeInsight, Operation: model.OpWrite, Relation: model.ScopeTeam}).Allowed)

	// ReadOnly reads inside the team but not across namespaces.
	assert.True(t, Evaluate(Request{Role: model.RoleReadOnly, Type: model.TypeDecision, Operation: model.OpRead, Relation: model.ScopeTeam}).Allowed)
	assert.False(t, Evaluate(Request{Role: model.RoleReadOnly, Type: model.TypeDecision, Operation: model.OpRead, Relation: model.ScopeGlobal}).Allowed)

	// Managers delete team records; Executives delete anywhere.
	assert.True(t, Evaluate(Request{Role: model.RoleManager, Type: model.TypeDecision, Operation: model.OpDelete, Relation: model.ScopeTeam}).Allowed)
	assert.False(t, Evaluate(Request{Role: model.RoleManager, Type: model.TypeDecision, Operation: model.OpDelete, Relation: model.ScopeGlobal}).Allowed)
	assert.True(t, Evaluate(Request{Role: model.RoleExecutive, Type: model.TypeDecision, Operation: model.OpDelete, Relation: model.ScopeGlobal}).Allowed)
}

func TestEvaluate_NoneRelationDenied(t *testing.T) {
	d := Evaluate(Request{Role: model.RoleExecutive, Type: model.TypeEvent, Operation: model.OpRead, Relation: model.ScopeNone})
	assert.False(t, d.Allowed)
}

func TestCheck_ReturnsAuthorizationError(t *testing.T) {
	err := Check(Request{Role: model.RoleReadOnly, Type: model.TypeInsight, Operation: model.OpDelete, Relation: model.ScopeOwn})
	require.Error(t, err)
	assert.True(t, model.IsAuthorizationError(err))

	require.NoError(t, Check(Request{Role: model.RoleContributor, Type: model.TypeInsight, Operation: model.OpDelete, Relation: model.ScopeOwn}))
}
