package ledger

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RefChecker tells the collector whether any message or breakpoint still
// points at a stream. Forked threads share streams, so an entry can only
// go once the last reference is gone.
type RefChecker interface {
	StreamReferenced(ctx context.Context, streamID string) (bool, error)
}

// Collect deletes terminal entries nobody references and returns how many
// it removed. Non-terminal entries are left to the watchdog.
func (l *Ledger) Collect(ctx context.Context, refs RefChecker) (int, error) {
	var candidates []string
	err := scanMetas(l.db, func(id string, m *meta) error {
		if m.Status.Terminal() {
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
		used, err := refs.StreamReferenced(ctx, id)
		if err != nil {
			return n, errors.Wrapf(err, "check references of stream %s", id)
		}
		if used {
			continue
		}
		if err := l.Delete(ctx, id); err != nil {
			return n, err
		}
		collected.Inc()
		n++
	}
	return n, nil
}

// StartCollector runs Collect on the cron schedule expr until ctx is done.
func (l *Ledger) StartCollector(ctx context.Context, expr string, refs RefChecker) error {
	if expr == "" {
		expr = "0 3 * * *"
	}
	if !gronx.IsValid(expr) {
		return errors.Errorf("invalid ledger gc cron expression: %s", expr)
	}
	go l.runCollector(ctx, expr, refs)
	log.Info().Str("cron", expr).Msg("ledger_collector_started")
	return nil
}

func (l *Ledger) runCollector(ctx context.Context, expr string, refs RefChecker) {
	for {
		next, err := gronx.NextTickAfter(expr, time.Now().UTC(), false)
		if err != nil {
			log.Error().Err(err).Str("cron", expr).Msg("ledger_collector_nexttick_failed")
			next = time.Now().Add(30 * time.Second)
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("ledger_collector_stopping")
			return
		case <-time.After(time.Until(next)):
		}

		start := time.Now()
		n, err := l.Collect(ctx, refs)
		if err != nil {
			log.Error().Err(err).Int("collected", n).Msg("ledger_collect_failed")
			continue
		}
		log.Info().Int("collected", n).Dur("cost", time.Since(start)).Msg("ledger_collect_done")
	}
}
