package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/suPer8Hu/branchchat/internal/common"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// notFound translates gorm's sentinel into the package-neutral one.
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(common.ErrNotFound, "%s %s", what, id)
	}
	return errors.Wrapf(err, "load %s %s", what, id)
}

// Tx runs fn with a repo bound to one transaction.
func (r *Repo) Tx(ctx context.Context, fn func(tx *Repo) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repo{db: tx})
	})
}

// Threads

func (r *Repo) CreateThread(ctx context.Context, t *Thread) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(t).Error, "insert thread")
}

func (r *Repo) GetThread(ctx context.Context, id string) (*Thread, error) {
	var t Thread
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "thread", id)
	}
	return &t, nil
}

// ListThreads returns owner's threads, most recently active first.
// Threads without messages sort after active ones by creation time.
func (r *Repo) ListThreads(ctx context.Context, ownerID string, pinned *bool) ([]Thread, error) {
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if pinned != nil {
		q = q.Where("pinned = ?", *pinned)
	}
	var out []Thread
	err := q.Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END").
		Order("last_message_at DESC").
		Order("created_at DESC").
		Find(&out).Error
	return out, errors.Wrap(err, "list threads")
}

func (r *Repo) ListThreadsSince(ctx context.Context, ownerID string, since time.Time, limit int) ([]Thread, error) {
	var out []Thread
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND last_message_at >= ?", ownerID, since).
		Order("last_message_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, errors.Wrap(err, "list recent threads")
}

func (r *Repo) SearchThreads(ctx context.Context, ownerID, query string, limit int) ([]Thread, error) {
	var out []Thread
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND title LIKE ?", ownerID, "%"+query+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, errors.Wrap(err, "search threads")
}

func (r *Repo) UpdateThreadField(ctx context.Context, id, column string, value any) error {
	err := r.db.WithContext(ctx).Model(&Thread{}).Where("id = ?", id).Update(column, value).Error
	return errors.Wrapf(err, "update thread %s", id)
}

// TouchLastMessage moves lastMessageAt forward to at. It never moves it back.
func (r *Repo) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&Thread{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", id, at).
		Update("last_message_at", at).Error
	return errors.Wrapf(err, "touch thread %s", id)
}

// DeleteThread removes the thread with its messages and breakpoints.
// Ledger entries are left to the collector since forks may share them.
func (r *Repo) DeleteThread(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", id).Delete(&BreakPoint{}).Error; err != nil {
			return errors.Wrap(err, "delete breakpoints")
		}
		if err := tx.Where("thread_id = ?", id).Delete(&Message{}).Error; err != nil {
			return errors.Wrap(err, "delete messages")
		}
		res := tx.Where("id = ?", id).Delete(&Thread{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete thread")
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(common.ErrNotFound, "thread %s", id)
		}
		return nil
	})
}

// Messages

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(m).Error, "insert message")
}

func (r *Repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "message", id)
	}
	return &m, nil
}

// ListMessages returns a thread's messages in creation order.
func (r *Repo) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var out []Message
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error
	return out, errors.Wrap(err, "list messages")
}

func (r *Repo) SetAttachments(ctx context.Context, id string, ids []string) error {
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Update("attachments", datatypes.JSONSlice[string](ids)).Error
	return errors.Wrapf(err, "update attachments of message %s", id)
}

// Breakpoints

func (r *Repo) InsertBreakPoint(ctx context.Context, bp *BreakPoint) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(bp).Error, "insert breakpoint")
}

func (r *Repo) GetBreakPoint(ctx context.Context, id string) (*BreakPoint, error) {
	var bp BreakPoint
	if err := r.db.WithContext(ctx).First(&bp, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "breakpoint", id)
	}
	return &bp, nil
}

func (r *Repo) ListBreakPoints(ctx context.Context, threadID string) ([]BreakPoint, error) {
	var out []BreakPoint
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error
	return out, errors.Wrap(err, "list breakpoints")
}

// Streams

// SetResponse stores the final text on every message and breakpoint that
// references streamID, forks included.
func (r *Repo) SetResponse(ctx context.Context, streamID, text string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Message{}).Where("stream_id = ?", streamID).Update("response", text).Error; err != nil {
			return errors.Wrap(err, "set message response")
		}
		if err := tx.Model(&BreakPoint{}).Where("stream_id = ?", streamID).Update("response", text).Error; err != nil {
			return errors.Wrap(err, "set breakpoint response")
		}
		return nil
	})
}

// MessageByStream finds the message of threadID that references streamID.
func (r *Repo) MessageByStream(ctx context.Context, threadID, streamID string) (*Message, error) {
	var m Message
	err := r.db.WithContext(ctx).Where("thread_id = ? AND stream_id = ?", threadID, streamID).Take(&m).Error
	if err != nil {
		return nil, notFound(err, "message with stream", streamID)
	}
	return &m, nil
}

func (r *Repo) BreakPointByStream(ctx context.Context, messageID, streamID string) (*BreakPoint, error) {
	var bp BreakPoint
	err := r.db.WithContext(ctx).Where("message_id = ? AND stream_id = ?", messageID, streamID).Take(&bp).Error
	if err != nil {
		return nil, notFound(err, "breakpoint with stream", streamID)
	}
	return &bp, nil
}

// StreamOwners returns the owners of every thread that references streamID.
func (r *Repo) StreamOwners(ctx context.Context, streamID string) ([]string, error) {
	var owners []string
	err := r.db.WithContext(ctx).Model(&Thread{}).
		Distinct("owner_id").
		Where("id IN (?) OR id IN (?)",
			r.db.Model(&Message{}).Select("thread_id").Where("stream_id = ?", streamID),
			r.db.Model(&BreakPoint{}).Select("thread_id").Where("stream_id = ?", streamID),
		).
		Pluck("owner_id", &owners).Error
	return owners, errors.Wrap(err, "lookup stream owners")
}

func (r *Repo) StreamReferenced(ctx context.Context, streamID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Message{}).Where("stream_id = ?", streamID).Limit(1).Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "count message refs")
	}
	if n > 0 {
		return true, nil
	}
	if err := r.db.WithContext(ctx).Model(&BreakPoint{}).Where("stream_id = ?", streamID).Limit(1).Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "count breakpoint refs")
	}
	return n > 0, nil
}
