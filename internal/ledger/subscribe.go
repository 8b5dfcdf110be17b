package ledger

import (
	"context"
)

// Subscribe streams the text of id from cursor from. The first item is
// delivered immediately (it may carry an empty delta, so the caller learns
// the current status); afterwards an item is sent for every observed
// append or status change. The delta channel is closed after a terminal
// status has been delivered, on ctx cancellation, or after an error was
// sent on the error channel.
//
// Consecutive appends may be coalesced into one delta. The concatenation
// of delivered deltas always equals text[from:] with no gaps or repeats.
func (l *Ledger) Subscribe(ctx context.Context, id string, from uint64) (<-chan Delta, <-chan error) {
	out := make(chan Delta, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		e := l.acquire(id)
		defer l.release(id, e)

		subscribers.Inc()
		defer subscribers.Dec()

		cursor := from
		var last Status
		first := true
		for {
			// grab the signal before reading so an append that lands
			// between the read and the wait still wakes us
			changed := e.wait()

			d, err := l.Read(ctx, id, cursor)
			if err != nil {
				errs <- err
				return
			}

			if first || d.Cursor != cursor || d.Status != last {
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
				first = false
				cursor = d.Cursor
				last = d.Status
			}
			if d.Status.Terminal() {
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs
}
