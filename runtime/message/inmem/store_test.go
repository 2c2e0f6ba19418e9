package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentflow/runtime/message"
	"goa.design/agentflow/runtime/task"
)

func TestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	msg, err := s.Create(ctx, "t1", task.NewText("hello"), task.StatusInProgress)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, task.StatusInProgress, msg.StreamingStatus)
	assert.False(t, msg.CreatedAt.IsZero())

	msg.Content = task.NewText("mutated")
	got, err := s.Get(ctx, "t1", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, task.NewText("hello"), got.Content)

	updated, err := s.Update(ctx, "t1", msg.ID, task.NewText("bye"), task.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, updated.StreamingStatus)
	assert.Equal(t, task.NewText("bye"), updated.Content)

	kept, err := s.Update(ctx, "t1", msg.ID, task.NewText("again"), "")
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, kept.StreamingStatus)

	_, err = s.Get(ctx, "t2", msg.ID)
	assert.ErrorIs(t, err, message.ErrNotFound)
	_, err = s.Update(ctx, "t1", "missing", task.NewText("x"), task.StatusDone)
	assert.ErrorIs(t, err, message.ErrNotFound)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Create(ctx, "", task.NewText("x"), task.StatusDone)
	assert.Error(t, err)
	_, err = s.Create(ctx, "t1", nil, task.StatusDone)
	assert.Error(t, err)
	_, err = s.Update(ctx, "t1", "", task.NewText("x"), task.StatusDone)
	assert.Error(t, err)
	_, err = s.List(ctx, "", message.ListOptions{})
	assert.Error(t, err)
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	contents := []task.Content{task.NewText("a"), task.NewText("b"), task.NewText("c")}
	created, err := s.CreateBatch(ctx, "t1", contents)
	require.NoError(t, err)
	require.Len(t, created, 3)
	for _, m := range created {
		assert.Equal(t, task.StatusDone, m.StreamingStatus)
	}
	_, err = s.Create(ctx, "other", task.NewText("z"), task.StatusDone)
	require.NoError(t, err)

	all, err := s.List(ctx, "t1", message.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, created[0].ID, all[0].ID)
	assert.Equal(t, created[2].ID, all[2].ID)

	page, err := s.List(ctx, "t1", message.ListOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, created[1].ID, page[0].ID)

	empty, err := s.List(ctx, "t1", message.ListOptions{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUpdateBatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.Create(ctx, "t1", task.NewText("a"), task.StatusInProgress)
	require.NoError(t, err)
	b, err := s.Create(ctx, "t1", task.NewText("b"), task.StatusDone)
	require.NoError(t, err)

	_, err = s.UpdateBatch(ctx, "t1", map[string]task.Content{a.ID: task.NewText("A"), "missing": task.NewText("x")})
	assert.ErrorIs(t, err, message.ErrNotFound)
	unchanged, err := s.Get(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.NewText("a"), unchanged.Content)

	out, err := s.UpdateBatch(ctx, "t1", map[string]task.Content{a.ID: task.NewText("A"), b.ID: task.NewText("B")})
	require.NoError(t, err)
	require.Len(t, out, 2)
	byID := map[string]*task.Message{out[0].ID: out[0], out[1].ID: out[1]}
	assert.Equal(t, task.NewText("A"), byID[a.ID].Content)
	assert.Equal(t, task.StatusInProgress, byID[a.ID].StreamingStatus)
	assert.Equal(t, task.NewText("B"), byID[b.ID].Content)
	assert.LessOrEqual(t, out[0].ID, out[1].ID)
}
