package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

type fakeReplayer struct {
	report propagation.ReplayReport
	err    error
	runs   int
}

func (f *fakeReplayer) ReplayOnce(context.Context) (propagation.ReplayReport, error) {
	return f.report, f.err
}

func (f *fakeReplayer) Run(ctx context.Context) error {
	f.runs++
	<-ctx.Done()
	return ctx.Err()
}

type fakePurger struct {
	gotID string
	gotP  model.Principal
	err   error
}

func (f *fakePurger) Purge(_ context.Context, id string, p model.Principal) error {
	f.gotID, f.gotP = id, p
	return f.err
}

func TestRunReplay_Once(t *testing.T) {
	r := &fakeReplayer{report: propagation.ReplayReport{Leased: 3, Replayed: 2, Failed: 1}}
	var out bytes.Buffer
	require.NoError(t, runReplay(context.Background(), r, false, &out))

	var got propagation.ReplayReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, r.report, got)

	r.err = errors.New("store down")
	assert.Error(t, runReplay(context.Background(), r, false, &out))
}

func TestRunReplay_FollowStopsOnCancel(t *testing.T) {
	r := &fakeReplayer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runReplay(ctx, r, true, &bytes.Buffer{}))
	assert.Equal(t, 1, r.runs)
}

func TestRunPurge(t *testing.T) {
	m := &fakePurger{}
	p := model.Principal{ID: "ops", Role: model.RoleExecutive, Namespace: "admin"}
	var out bytes.Buffer
	require.NoError(t, runPurge(context.Background(), m, p, "r1", &out))
	assert.Equal(t, "r1", m.gotID)
	assert.Equal(t, p, m.gotP)
	assert.Equal(t, "purged r1\n", out.String())

	assert.Error(t, runPurge(context.Background(), m, p, "", &out))

	m.err = model.AuthorizationError{Role: model.RoleManager, Type: model.AnyType, Operation: model.OpPurge, Reason: "not granted"}
	assert.Error(t, runPurge(context.Background(), m, p, "r2", &out))
}
