// Package ledger is the durable, append-only text buffer behind every
// generated response. Each entry ("stream") moves through
// pending -> streaming -> {done, error, timeout}; exactly one writer may
// drive it while any number of readers attach at any cursor and receive
// forward-only deltas.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/branchchat/internal/common"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether s is absorbing.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusTimeout
}

// Delta is what a reader observes: the text appended since its cursor, the
// new cursor and the status at the time of the read.
type Delta struct {
	Text   string `json:"delta"`
	Cursor uint64 `json:"cursor"`
	Status Status `json:"status"`
}

type Options struct {
	// InMemory keeps everything in a memory-backed filesystem (tests).
	InMemory bool
	// Sync fsyncs every write batch.
	Sync bool
}

type Ledger struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// entry is the in-process coordination state of one stream. It exists
// only while a writer or subscriber holds a reference.
type entry struct {
	refs int

	// mu serialises writes to the stream.
	mu sync.Mutex

	// sigMu guards changed; readers only ever take sigMu.
	sigMu   sync.Mutex
	changed chan struct{}
}

// wait returns a channel that is closed on the next change.
func (e *entry) wait() <-chan struct{} {
	e.sigMu.Lock()
	defer e.sigMu.Unlock()
	return e.changed
}

func (e *entry) broadcast() {
	e.sigMu.Lock()
	close(e.changed)
	e.changed = make(chan struct{})
	e.sigMu.Unlock()
}

func Open(path string, opts Options) (*Ledger, error) {
	po := &pebble.Options{}
	if opts.InMemory {
		po.FS = vfs.NewMem()
		path = ""
	}
	db, err := pebble.Open(path, po)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("ledger_open_failed")
		return nil, errors.Wrap(err, "open ledger")
	}
	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	log.Info().Str("path", path).Bool("in_memory", opts.InMemory).Msg("ledger_opened")
	return &Ledger{
		db:        db,
		writeOpts: wo,
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(map[string]*entry),
	}, nil
}

func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Ready reports whether the underlying store is open.
func (l *Ledger) Ready() bool {
	return l != nil && l.db != nil
}

func (l *Ledger) acquire(id string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &entry{changed: make(chan struct{})}
		l.entries[id] = e
	}
	e.refs++
	return e
}

func (l *Ledger) release(id string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

// Create allocates a new pending entry with empty text.
func (l *Ledger) Create(ctx context.Context) (string, error) {
	_ = ctx
	id, err := common.NewULID()
	if err != nil {
		return "", err
	}
	now := l.now()
	b, err := encodeMeta(&meta{Status: StatusPending, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		return "", err
	}
	if err := l.db.Set(metaKey(id), b, l.writeOpts); err != nil {
		return "", errors.Wrap(err, "create stream")
	}
	streamsCreated.Inc()
	return id, nil
}

// Read is a non-blocking snapshot read of everything after cursor from.
// A cursor of 0 returns the full text; a cursor beyond the end yields an
// empty delta at the current cursor.
func (l *Ledger) Read(ctx context.Context, id string, from uint64) (Delta, error) {
	_ = ctx
	snap := l.db.NewSnapshot()
	defer snap.Close()

	m, err := loadMeta(snap, id)
	if err != nil {
		return Delta{}, err
	}
	if from > m.Cursor {
		from = m.Cursor
	}
	text, err := readChunks(snap, id, from, m.Cursor)
	if err != nil {
		return Delta{}, err
	}
	return Delta{Text: text, Cursor: m.Cursor, Status: m.Status}, nil
}

// Text returns the full accumulated text.
func (l *Ledger) Text(ctx context.Context, id string) (string, error) {
	d, err := l.Read(ctx, id, 0)
	if err != nil {
		return "", err
	}
	return d.Text, nil
}

func (l *Ledger) Status(ctx context.Context, id string) (Status, error) {
	_ = ctx
	m, err := loadMeta(l.db, id)
	if err != nil {
		return "", err
	}
	return m.Status, nil
}

// Finalize is the supervisor path: it moves any non-terminal entry to a
// terminal status regardless of which producer claimed it.
func (l *Ledger) Finalize(ctx context.Context, id string, status Status) error {
	return l.finalize(ctx, id, "", status)
}

func (l *Ledger) append(ctx context.Context, id, writer, chunk string) (uint64, error) {
	_ = ctx
	e := l.acquire(id)
	defer l.release(id, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := loadMeta(l.db, id)
	if err != nil {
		return 0, err
	}
	if err := m.claim(writer); err != nil {
		return 0, errors.Wrapf(err, "append to stream %s", id)
	}

	now := l.now()
	seq := m.Cursor
	m.Cursor++
	m.Status = StatusStreaming
	m.UpdatedAt = now
	m.LastAppendAt = now

	if err := l.commit(id, m, func(b *pebble.Batch) error {
		return b.Set(chunkKey(id, seq), []byte(chunk), nil)
	}); err != nil {
		return 0, err
	}
	e.broadcast()

	appends.Inc()
	appendedBytes.Add(float64(len(chunk)))
	return m.Cursor, nil
}

func (l *Ledger) finalize(ctx context.Context, id, writer string, status Status) error {
	_ = ctx
	if !status.Terminal() {
		return errors.Wrapf(common.ErrValidation, "finalize stream %s with non-terminal status %q", id, status)
	}
	e := l.acquire(id)
	defer l.release(id, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := loadMeta(l.db, id)
	if err != nil {
		return err
	}
	if err := m.claim(writer); err != nil {
		return errors.Wrapf(err, "finalize stream %s", id)
	}
	m.Status = status
	m.UpdatedAt = l.now()

	if err := l.commit(id, m, nil); err != nil {
		return err
	}
	e.broadcast()

	finalized.WithLabelValues(string(status)).Inc()
	log.Debug().Str("stream_id", id).Str("status", string(status)).Uint64("cursor", m.Cursor).Msg("stream_finalized")
	return nil
}

// commit writes m plus whatever extra puts into one atomic batch.
func (l *Ledger) commit(id string, m *meta, extra func(b *pebble.Batch) error) error {
	enc, err := encodeMeta(m)
	if err != nil {
		return err
	}
	b := l.db.NewBatch()
	defer b.Close()
	if extra != nil {
		if err := extra(b); err != nil {
			return errors.Wrapf(err, "stage stream %s", id)
		}
	}
	if err := b.Set(metaKey(id), enc, nil); err != nil {
		return errors.Wrapf(err, "stage stream %s", id)
	}
	if err := b.Commit(l.writeOpts); err != nil {
		return errors.Wrapf(err, "commit stream %s", id)
	}
	return nil
}

// Delete drops an entry and its text. Only the collector calls this.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	_ = ctx
	e := l.acquire(id)
	defer l.release(id, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()
	prefix := chunkPrefixFor(id)
	if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return errors.Wrapf(err, "stage delete stream %s", id)
	}
	if err := b.Delete(metaKey(id), nil); err != nil {
		return errors.Wrapf(err, "stage delete stream %s", id)
	}
	if err := b.Commit(l.writeOpts); err != nil {
		return errors.Wrapf(err, "delete stream %s", id)
	}
	return nil
}
