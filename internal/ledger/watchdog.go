package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/branchchat/internal/common"
)

// Watchdog finalizes streams whose producer went quiet. A producer can be
// stuck on a provider call or gone with its process, so the timeout is
// applied from outside the producer.
type Watchdog struct {
	l        *Ledger
	interval time.Duration
	// Inactivity is the maximum gap between appends while streaming.
	Inactivity time.Duration
	// Pending is the maximum age of a never-claimed entry; 0 disables.
	Pending time.Duration
}

func NewWatchdog(l *Ledger, interval, inactivity, pending time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Watchdog{l: l, interval: interval, Inactivity: inactivity, Pending: pending}
}

// Run sweeps every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", w.interval).Dur("inactivity", w.Inactivity).Dur("pending", w.Pending).Msg("ledger_watchdog_started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("ledger_watchdog_stopping")
			return
		case <-ticker.C:
			if n, err := w.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("ledger_watchdog_sweep_failed")
			} else if n > 0 {
				log.Info().Int("timed_out", n).Msg("ledger_watchdog_sweep")
			}
		}
	}
}

func (w *Watchdog) stale(m *meta, now time.Time) bool {
	switch m.Status {
	case StatusStreaming:
		return w.Inactivity > 0 && now.Sub(m.LastAppendAt) > w.Inactivity
	case StatusPending:
		return w.Pending > 0 && now.Sub(m.CreatedAt) > w.Pending
	}
	return false
}

// Sweep times out every stale stream and returns how many it finalized.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	now := w.l.now()
	var candidates []string
	err := scanMetas(w.l.db, func(id string, m *meta) error {
		if w.stale(m, now) {
			candidates = append(candidates, id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range candidates {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		ok, err := w.expire(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("stream_id", id).Msg("ledger_watchdog_expire_failed")
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// expire re-checks staleness under the stream lock so an append racing
// the scan wins.
func (w *Watchdog) expire(ctx context.Context, id string) (bool, error) {
	e := w.l.acquire(id)
	defer w.l.release(id, e)

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := loadMeta(w.l.db, id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	now := w.l.now()
	if !w.stale(m, now) {
		return false, nil
	}
	m.Status = StatusTimeout
	m.UpdatedAt = now
	if err := w.l.commit(id, m, nil); err != nil {
		return false, err
	}
	e.broadcast()

	finalized.WithLabelValues(string(StatusTimeout)).Inc()
	log.Warn().Str("stream_id", id).Uint64("cursor", m.Cursor).Msg("stream_timed_out")
	return true, nil
}
