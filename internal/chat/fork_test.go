package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/branchchat/internal/common"
)

func TestForkThread_CopiesPrefixWithSharedStreams(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.thread(t, "origin")
	var msgs []*Message
	for _, p := range []string{"m1", "m2", "m3", "m4"} {
		m := e.message(t, src.ID, p)
		e.respond(t, m.StreamID, "re "+p)
		msgs = append(msgs, m)
	}
	bp, err := e.svc.CreateBreakPoint(ctx, owner, msgs[1].ID, "Gemini 2.0 Flash")
	require.NoError(t, err)
	_, err = e.svc.CreateBreakPoint(ctx, owner, msgs[3].ID, "Gemini 2.0 Flash")
	require.NoError(t, err)

	fork, err := e.svc.ForkThread(ctx, owner, src.ID, msgs[2].ID)
	require.NoError(t, err)
	require.NotNil(t, fork.BranchParent)
	assert.Equal(t, src.ID, *fork.BranchParent)
	assert.Equal(t, "origin", fork.Title)
	require.NotNil(t, fork.LastMessageAt)
	assert.True(t, fork.LastMessageAt.Equal(msgs[2].CreatedAt))

	copied, err := e.svc.ListMessages(ctx, owner, fork.ID)
	require.NoError(t, err)
	require.Len(t, copied, 3)
	for i, c := range copied {
		assert.NotEqual(t, msgs[i].ID, c.ID)
		assert.Equal(t, msgs[i].Prompt, c.Prompt)
		assert.Equal(t, msgs[i].StreamID, c.StreamID)
		assert.Equal(t, msgs[i].Model, c.Model)
	}

	bps, err := e.svc.ListBreakPoints(ctx, owner, fork.ID)
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.Equal(t, copied[1].ID, bps[0].MessageID)
	assert.Equal(t, bp.StreamID, bps[0].StreamID)

	srcHist, err := e.svc.History(ctx, src.ID)
	require.NoError(t, err)
	forkHist, err := e.svc.History(ctx, fork.ID)
	require.NoError(t, err)
	assert.Equal(t, srcHist[:6], forkHist)

	stored, err := e.svc.GetThread(ctx, owner, fork.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastMessageAt.Equal(msgs[2].CreatedAt))
}

func TestForkThread_SingleMessageLeavesSourceUntouched(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.thread(t, "solo")
	m := e.message(t, src.ID, "only")
	e.respond(t, m.StreamID, "reply")

	before, err := e.svc.GetThread(ctx, owner, src.ID)
	require.NoError(t, err)

	fork, err := e.svc.ForkThread(ctx, owner, src.ID, m.ID)
	require.NoError(t, err)

	copied, err := e.svc.ListMessages(ctx, owner, fork.ID)
	require.NoError(t, err)
	require.Len(t, copied, 1)
	assert.Equal(t, m.StreamID, copied[0].StreamID)

	after, err := e.svc.GetThread(ctx, owner, src.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Title, after.Title)
	assert.True(t, before.LastMessageAt.Equal(*after.LastMessageAt))
	orig, err := e.svc.ListMessages(ctx, owner, src.ID)
	require.NoError(t, err)
	require.Len(t, orig, 1)
	assert.Equal(t, m.ID, orig[0].ID)
}

func TestForkThread_ForeignMessageWritesNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.thread(t, "a")
	b := e.thread(t, "b")
	e.message(t, a.ID, "in a")
	mb := e.message(t, b.ID, "in b")

	_, err := e.svc.ForkThread(ctx, owner, a.ID, mb.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	threads, err := e.svc.ListThreads(ctx, owner, nil)
	require.NoError(t, err)
	assert.Len(t, threads, 2)

	_, err = e.svc.ForkThread(ctx, "intruder", a.ID, mb.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestForkThread_InFlightStreamVisibleInBoth(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	src := e.thread(t, "live")
	m := e.message(t, src.ID, "go")
	w := e.ledger.Writer(m.StreamID)
	_, err := w.Append(ctx, "part")
	require.NoError(t, err)

	fork, err := e.svc.ForkThread(ctx, owner, src.ID, m.ID)
	require.NoError(t, err)

	_, err = w.Append(ctx, "ial")
	require.NoError(t, err)

	hist, err := e.svc.History(ctx, fork.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "partial", hist[1].Content)
}
