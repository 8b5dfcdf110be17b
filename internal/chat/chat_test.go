package chat

import (
	"context"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/ledger"
	"github.com/suPer8Hu/branchchat/internal/storage"
)

const owner = "owner-1"

type fakeAssets map[string]storage.Asset

func (f fakeAssets) GetMetadata(_ context.Context, id string) (*storage.Asset, error) {
	a, ok := f[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &a, nil
}

func (f fakeAssets) ResolveURL(_ context.Context, id string) (string, error) {
	if _, ok := f[id]; !ok {
		return "", common.ErrNotFound
	}
	return "https://files.test/" + id, nil
}

type env struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	assets fakeAssets
	svc    *Service
	clock  time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(Models()...))

	l, err := ledger.Open("", ledger.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	e := &env{db: db, ledger: l, assets: fakeAssets{}, clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e.svc = NewService(NewRepo(db), l, e.assets)
	// strictly increasing timestamps so creation order is unambiguous
	e.svc.now = func() time.Time {
		e.clock = e.clock.Add(time.Second)
		return e.clock
	}
	return e
}

func (e *env) thread(t *testing.T, title string) *Thread {
	t.Helper()
	th, err := e.svc.CreateThread(context.Background(), owner, title)
	require.NoError(t, err)
	return th
}

func (e *env) message(t *testing.T, threadID, prompt string) *Message {
	t.Helper()
	m, err := e.svc.CreateMessage(context.Background(), owner, threadID, NewMessage{Prompt: prompt, Model: "Gemini 2.0 Flash"})
	require.NoError(t, err)
	return m
}

// respond writes text into m's ledger entry and finalizes it.
func (e *env) respond(t *testing.T, streamID string, chunks ...string) {
	t.Helper()
	ctx := context.Background()
	w := e.ledger.Writer(streamID)
	for _, c := range chunks {
		_, err := w.Append(ctx, c)
		require.NoError(t, err)
	}
	require.NoError(t, w.Finalize(ctx, ledger.StatusDone))
}
