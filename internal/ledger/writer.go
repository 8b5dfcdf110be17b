package ledger

import (
	"context"

	"github.com/suPer8Hu/branchchat/internal/common"
)

// Writer is one producer's handle on a stream. The first Append or
// Finalize on a pending stream claims it for this writer; every other
// writer is rejected with common.ErrInvalidState from then on.
type Writer struct {
	l     *Ledger
	id    string
	token string
}

// Writer returns a fresh writer for stream id. It does not touch storage.
func (l *Ledger) Writer(id string) *Writer {
	token, err := common.NewULID()
	if err != nil {
		// NewULID only fails when the monotonic entropy overflows within
		// one millisecond; fall back to a token that cannot collide with
		// a real ULID.
		token = "w-" + id
	}
	return &Writer{l: l, id: id, token: token}
}

func (w *Writer) StreamID() string { return w.id }

// Append concatenates chunk to the stream text and returns the new cursor.
func (w *Writer) Append(ctx context.Context, chunk string) (uint64, error) {
	return w.l.append(ctx, w.id, w.token, chunk)
}

func (w *Writer) Finalize(ctx context.Context, status Status) error {
	return w.l.finalize(ctx, w.id, w.token, status)
}
