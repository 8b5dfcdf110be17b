package chat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/branchchat/internal/common"
)

// ForkThread creates a new thread for ownerID holding copies of every
// message of threadID up to and including messageID, with their
// breakpoints. Copies reference the same ledger entries as the originals,
// so a response still being generated keeps streaming into both threads.
func (s *Service) ForkThread(ctx context.Context, ownerID, threadID, messageID string) (*Thread, error) {
	src, err := s.ownedThread(ctx, ownerID, threadID)
	if err != nil {
		return nil, err
	}

	var fork *Thread
	err = s.repo.Tx(ctx, func(tx *Repo) error {
		msgs, err := tx.ListMessages(ctx, src.ID)
		if err != nil {
			return err
		}
		pivot := -1
		for i := range msgs {
			if msgs[i].ID == messageID {
				pivot = i
				break
			}
		}
		if pivot < 0 {
			return errors.Wrapf(common.ErrNotFound, "message %s in thread %s", messageID, src.ID)
		}

		bps, err := tx.ListBreakPoints(ctx, src.ID)
		if err != nil {
			return err
		}
		byMessage := make(map[string][]BreakPoint, len(bps))
		for _, bp := range bps {
			byMessage[bp.MessageID] = append(byMessage[bp.MessageID], bp)
		}

		id, err := common.NewULID()
		if err != nil {
			return err
		}
		now := s.now()
		last := msgs[pivot].CreatedAt
		parent := src.ID
		fork = &Thread{
			ID:            id,
			Title:         src.Title,
			OwnerID:       ownerID,
			BranchParent:  &parent,
			LastMessageAt: &last,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateThread(ctx, fork); err != nil {
			return err
		}

		for _, m := range msgs[:pivot+1] {
			copyID, err := common.NewULID()
			if err != nil {
				return err
			}
			cp := m
			cp.ID = copyID
			cp.ThreadID = fork.ID
			cp.Attachments = append([]string{}, m.Attachments...)
			if err := tx.InsertMessage(ctx, &cp); err != nil {
				return err
			}

			for _, bp := range byMessage[m.ID] {
				bpID, err := common.NewULID()
				if err != nil {
					return err
				}
				bpCopy := bp
				bpCopy.ID = bpID
				bpCopy.MessageID = cp.ID
				bpCopy.ThreadID = fork.ID
				if err := tx.InsertBreakPoint(ctx, &bpCopy); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("source_thread_id", src.ID).Str("thread_id", fork.ID).Str("message_id", messageID).Msg("thread_forked")
	return fork, nil
}
