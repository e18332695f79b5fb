// Package invariants checks the mediator's externally visible guarantees
// through the public client only. The same checks run against an in-process
// server in unit tests and against a deployed mediator under the invariants
// build tag.
package invariants

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/client"
)

// Checker drives a mediator at baseURL as several principals. Every Checker
// works in fresh namespaces so repeated runs against one deployment do not
// see each other's records.
type Checker struct {
	baseURL string
	token   string
	nsA     string
	nsB     string
}

// NewChecker creates a checker for the mediator at baseURL. token is the
// front-end bearer token, empty when the deployment does not require one.
func NewChecker(baseURL, token string) *Checker {
	run := uuid.NewString()[:8]
	return &Checker{
		baseURL: baseURL,
		token:   token,
		nsA:     "inv-a-" + run,
		nsB:     "inv-b-" + run,
	}
}

func (ic *Checker) client(t *testing.T, id string, role client.Role, ns string) *client.Client {
	t.Helper()
	opts := []client.Option{
		client.WithHTTPTimeout(30 * time.Second),
		client.WithRetryPolicy(client.RetryPolicy{MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 100 * time.Millisecond}),
	}
	if ic.token != "" {
		opts = append(opts, client.WithToken(ic.token))
	}
	c := client.New(ic.baseURL, client.Principal{ID: id, Role: role, Namespace: ns}, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (ic *Checker) store(t *testing.T, c *client.Client, typ client.MemoryType, text string) string {
	t.Helper()
	res, err := c.Store(t.Context(), client.StoreRequest{
		Type:    typ,
		Content: map[string]interface{}{"text": text},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	return res.ID
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, status, client.StatusCode(err), "unexpected error: %v", err)
	assert.False(t, client.IsRetryable(err))
}

// CheckWriteAuthorization: roles without a write grant never write, and a
// role writes only the types it is granted.
func (ic *Checker) CheckWriteAuthorization(t *testing.T) {
	ctx := t.Context()
	reader := ic.client(t, "reader", client.RoleReadOnly, ic.nsA)
	contributor := ic.client(t, "writer", client.RoleContributor, ic.nsA)

	_, err := reader.Store(ctx, client.StoreRequest{Type: client.TypeInsight, Content: map[string]interface{}{"text": "nope"}})
	requireStatus(t, err, http.StatusForbidden)

	_, err = contributor.Store(ctx, client.StoreRequest{Type: client.TypeDecision, Content: map[string]interface{}{"text": "not mine to decide"}})
	requireStatus(t, err, http.StatusForbidden)

	id := ic.store(t, contributor, client.TypeInsight, "allowed")
	requireStatus(t, reader.Delete(ctx, id), http.StatusForbidden)
	requireStatus(t, reader.Purge(ctx, id), http.StatusForbidden)
	_, err = reader.Stats(ctx)
	requireStatus(t, err, http.StatusForbidden)
}

// CheckOwnershipScope: contributors read their team's records but change
// only their own.
func (ic *Checker) CheckOwnershipScope(t *testing.T) {
	ctx := t.Context()
	alice := ic.client(t, "alice", client.RoleContributor, ic.nsA)
	bob := ic.client(t, "bob", client.RoleContributor, ic.nsA)

	id := ic.store(t, alice, client.TypeInsight, "alice's note")

	lk, err := bob.Retrieve(ctx, id)
	require.NoError(t, err)
	require.True(t, lk.Found)
	assert.Equal(t, "alice", lk.Record.OwnerID)

	_, err = bob.Update(ctx, id, client.Patch{Content: map[string]interface{}{"text": "bob was here"}})
	requireStatus(t, err, http.StatusForbidden)
	requireStatus(t, bob.Delete(ctx, id), http.StatusForbidden)

	lk, err = alice.Retrieve(ctx, id)
	require.NoError(t, err)
	require.True(t, lk.Found)
	assert.Equal(t, "alice's note", lk.Record.Content["text"])
}

// CheckNamespaceIsolation: team-scoped roles never see another namespace;
// global readers do.
func (ic *Checker) CheckNamespaceIsolation(t *testing.T) {
	ctx := t.Context()
	writer := ic.client(t, "writer", client.RoleContributor, ic.nsA)
	outsider := ic.client(t, "outsider", client.RoleReadOnly, ic.nsB)
	manager := ic.client(t, "manager", client.RoleManager, ic.nsB)

	id := ic.store(t, writer, client.TypeInsight, "team a only")

	_, err := outsider.Retrieve(ctx, id)
	requireStatus(t, err, http.StatusForbidden)

	_, err = outsider.Search(ctx, client.SearchRequest{Filters: client.SearchFilters{Namespace: ic.nsA}})
	requireStatus(t, err, http.StatusForbidden)

	res, err := outsider.Search(ctx, client.SearchRequest{})
	require.NoError(t, err)
	for _, r := range res.Records {
		assert.NotEqual(t, id, r.Record.ID, "record leaked into %s", ic.nsB)
	}

	lk, err := manager.Retrieve(ctx, id)
	require.NoError(t, err)
	assert.True(t, lk.Found)
}

// CheckReadYourWrites: a completed write is visible to the next read by the
// same caller, whichever tier serves it.
func (ic *Checker) CheckReadYourWrites(t *testing.T) {
	ctx := t.Context()
	c := ic.client(t, "writer", client.RoleContributor, ic.nsA)

	id := ic.store(t, c, client.TypeContext, "v1")
	lk, err := c.Retrieve(ctx, id)
	require.NoError(t, err)
	require.True(t, lk.Found)
	assert.Equal(t, "v1", lk.Record.Content["text"])

	updated, err := c.Update(ctx, id, client.Patch{Content: map[string]interface{}{"text": "v2"}})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Content["text"])
	assert.False(t, updated.UpdatedAt.Before(lk.Record.UpdatedAt))

	lk, err = c.Retrieve(ctx, id)
	require.NoError(t, err)
	require.True(t, lk.Found)
	assert.Equal(t, "v2", lk.Record.Content["text"])
}

// CheckSoftDeleteFinality: a deleted record is gone from reads and
// structural searches, and deleting it again is a no-op.
func (ic *Checker) CheckSoftDeleteFinality(t *testing.T) {
	ctx := t.Context()
	c := ic.client(t, "writer", client.RoleContributor, ic.nsA)

	keep := ic.store(t, c, client.TypeEvent, "keep me")
	gone := ic.store(t, c, client.TypeEvent, "delete me")

	// Update and Delete both land in the durable store before returning,
	// so the structural search below sees both records.
	_, err := c.Update(ctx, keep, client.Patch{Content: map[string]interface{}{"text": "kept"}})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, gone))
	require.NoError(t, c.Delete(ctx, gone))

	lk, err := c.Retrieve(ctx, gone)
	require.NoError(t, err)
	assert.False(t, lk.Found)
	assert.Nil(t, lk.Record)

	res, err := c.Search(ctx, client.SearchRequest{Filters: client.SearchFilters{Types: []client.MemoryType{client.TypeEvent}}, Limit: 100})
	require.NoError(t, err)
	var ids []string
	for _, r := range res.Records {
		ids = append(ids, r.Record.ID)
	}
	assert.NotContains(t, ids, gone)
	assert.Contains(t, ids, keep)

	requireStatus(t, c.Delete(ctx, uuid.NewString()), http.StatusNotFound)
}

// CheckAsyncOrdering: async writes to one record apply in submission order.
func (ic *Checker) CheckAsyncOrdering(t *testing.T) {
	ctx := t.Context()
	c := ic.client(t, "writer", client.RoleContributor, ic.nsA)
	id := ic.store(t, c, client.TypeInsight, "v0")

	const n = 5
	for i := 1; i <= n; i++ {
		_, err := c.UpdateAsync(ctx, id, client.Patch{Content: map[string]interface{}{"text": fmt.Sprintf("v%d", i)}})
		require.NoError(t, err)
	}
	require.NoError(t, c.AwaitConsistency(ctx, id))

	lk, err := c.Retrieve(ctx, id)
	require.NoError(t, err)
	require.True(t, lk.Found)
	assert.Equal(t, fmt.Sprintf("v%d", n), lk.Record.Content["text"])
}

// RunAll runs every check as a subtest.
func (ic *Checker) RunAll(t *testing.T) {
	t.Run("WriteAuthorization", ic.CheckWriteAuthorization)
	t.Run("OwnershipScope", ic.CheckOwnershipScope)
	t.Run("NamespaceIsolation", ic.CheckNamespaceIsolation)
	t.Run("ReadYourWrites", ic.CheckReadYourWrites)
	t.Run("SoftDeleteFinality", ic.CheckSoftDeleteFinality)
	t.Run("AsyncOrdering", ic.CheckAsyncOrdering)
}
