package chat

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/storage"
)

const (
	recentWindow = 7 * 24 * time.Hour
	recentLimit  = 10
	searchLimit  = 10
)

// Streams is the part of the ledger the service needs: allocation for new
// messages and breakpoints, and the accumulated text for assembly.
type Streams interface {
	Create(ctx context.Context) (string, error)
	Text(ctx context.Context, id string) (string, error)
}

// Assets resolves stored attachments.
type Assets interface {
	GetMetadata(ctx context.Context, id string) (*storage.Asset, error)
	ResolveURL(ctx context.Context, id string) (string, error)
}

type Service struct {
	repo    *Repo
	streams Streams
	assets  Assets
	now     func() time.Time
}

func NewService(repo *Repo, streams Streams, assets Assets) *Service {
	return &Service{
		repo:    repo,
		streams: streams,
		assets:  assets,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Repo() *Repo { return s.repo }

// ownedThread loads a thread and hides it from anyone but its owner.
func (s *Service) ownedThread(ctx context.Context, ownerID, id string) (*Thread, error) {
	t, err := s.repo.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerID {
		return nil, errors.Wrapf(common.ErrNotFound, "thread %s", id)
	}
	return t, nil
}

func (s *Service) ownedMessage(ctx context.Context, ownerID, id string) (*Message, error) {
	m, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedThread(ctx, ownerID, m.ThreadID); err != nil {
		return nil, errors.Wrapf(common.ErrNotFound, "message %s", id)
	}
	return m, nil
}

// Threads

func (s *Service) CreateThread(ctx context.Context, ownerID, title string) (*Thread, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	now := s.now()
	t := &Thread{
		ID:        id,
		Title:     strings.TrimSpace(title),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateThread(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetThread(ctx context.Context, ownerID, id string) (*Thread, error) {
	return s.ownedThread(ctx, ownerID, id)
}

// ListThreads returns the owner's threads filtered by pinned when set.
func (s *Service) ListThreads(ctx context.Context, ownerID string, pinned *bool) ([]Thread, error) {
	return s.repo.ListThreads(ctx, ownerID, pinned)
}

// RecentThreads returns up to ten threads active in the last seven days.
func (s *Service) RecentThreads(ctx context.Context, ownerID string) ([]Thread, error) {
	return s.repo.ListThreadsSince(ctx, ownerID, s.now().Add(-recentWindow), recentLimit)
}

func (s *Service) SearchThreads(ctx context.Context, ownerID, query string) ([]Thread, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Thread{}, nil
	}
	return s.repo.SearchThreads(ctx, ownerID, query, searchLimit)
}

func (s *Service) PinThread(ctx context.Context, ownerID, id string, pinned bool) error {
	if _, err := s.ownedThread(ctx, ownerID, id); err != nil {
		return err
	}
	return s.repo.UpdateThreadField(ctx, id, "pinned", pinned)
}

func (s *Service) RenameThread(ctx context.Context, ownerID, id, title string) error {
	if _, err := s.ownedThread(ctx, ownerID, id); err != nil {
		return err
	}
	return s.UpdateTitle(ctx, id, title)
}

// UpdateTitle sets a thread title without an ownership check; the title
// side task runs on behalf of the thread it was started for.
func (s *Service) UpdateTitle(ctx context.Context, id, title string) error {
	return s.repo.UpdateThreadField(ctx, id, "title", strings.TrimSpace(title))
}

func (s *Service) DeleteThread(ctx context.Context, ownerID, id string) error {
	if _, err := s.ownedThread(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.repo.DeleteThread(ctx, id); err != nil {
		return err
	}
	log.Info().Str("thread_id", id).Msg("thread_deleted")
	return nil
}

// Messages

type NewMessage struct {
	Prompt          string
	Model           string
	SearchGrounding bool
	ImageGeneration bool
	Attachments     []string
}

// CreateMessage allocates a ledger entry for the response, stores the
// message and moves the thread's lastMessageAt forward.
func (s *Service) CreateMessage(ctx context.Context, ownerID, threadID string, in NewMessage) (*Message, error) {
	if strings.TrimSpace(in.Model) == "" {
		return nil, errors.Wrap(common.ErrValidation, "model is required")
	}
	if _, err := s.ownedThread(ctx, ownerID, threadID); err != nil {
		return nil, err
	}
	if err := s.checkAssets(ctx, in.Attachments); err != nil {
		return nil, err
	}

	streamID, err := s.streams.Create(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "allocate response stream")
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:              id,
		ThreadID:        threadID,
		Prompt:          in.Prompt,
		Model:           in.Model,
		Attachments:     append([]string{}, in.Attachments...),
		SearchGrounding: in.SearchGrounding,
		ImageGeneration: in.ImageGeneration,
		StreamID:        streamID,
		CreatedAt:       s.now(),
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		// the pending entry is timed out by the watchdog and then collected
		return nil, err
	}
	if err := s.repo.TouchLastMessage(ctx, threadID, m.CreatedAt); err != nil {
		return nil, err
	}
	log.Debug().Str("thread_id", threadID).Str("message_id", id).Str("stream_id", streamID).Msg("message_created")
	return m, nil
}

func (s *Service) GetMessage(ctx context.Context, ownerID, id string) (*Message, error) {
	return s.ownedMessage(ctx, ownerID, id)
}

func (s *Service) ListMessages(ctx context.Context, ownerID, threadID string) ([]Message, error) {
	if _, err := s.ownedThread(ctx, ownerID, threadID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, threadID)
}

// AddAttachments appends asset ids to a message's attachment list.
func (s *Service) AddAttachments(ctx context.Context, ownerID, messageID string, ids []string) (*Message, error) {
	m, err := s.ownedMessage(ctx, ownerID, messageID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return m, nil
	}
	if err := s.checkAssets(ctx, ids); err != nil {
		return nil, err
	}
	merged := append(append([]string{}, m.Attachments...), ids...)
	if err := s.repo.SetAttachments(ctx, messageID, merged); err != nil {
		return nil, err
	}
	m.Attachments = merged
	return m, nil
}

func (s *Service) checkAssets(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.assets.GetMetadata(ctx, id); err != nil {
			return errors.Wrapf(common.ErrValidation, "unknown attachment %s", id)
		}
	}
	return nil
}

type Attachment struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// Attachments resolves a message's attachments; unknown assets are skipped.
func (s *Service) Attachments(ctx context.Context, ownerID, messageID string) ([]Attachment, error) {
	m, err := s.ownedMessage(ctx, ownerID, messageID)
	if err != nil {
		return nil, err
	}
	out := make([]Attachment, 0, len(m.Attachments))
	for _, id := range m.Attachments {
		meta, err := s.assets.GetMetadata(ctx, id)
		if err != nil {
			continue
		}
		url, err := s.assets.ResolveURL(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, Attachment{ID: id, ContentType: meta.ContentType, Size: meta.Size, URL: url})
	}
	return out, nil
}

// Breakpoints

func (s *Service) CreateBreakPoint(ctx context.Context, ownerID, messageID, model string) (*BreakPoint, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.Wrap(common.ErrValidation, "model is required")
	}
	m, err := s.ownedMessage(ctx, ownerID, messageID)
	if err != nil {
		return nil, err
	}
	streamID, err := s.streams.Create(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "allocate breakpoint stream")
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	bp := &BreakPoint{
		ID:        id,
		MessageID: m.ID,
		ThreadID:  m.ThreadID,
		Model:     model,
		StreamID:  streamID,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertBreakPoint(ctx, bp); err != nil {
		return nil, err
	}
	return bp, nil
}

func (s *Service) ListBreakPoints(ctx context.Context, ownerID, threadID string) ([]BreakPoint, error) {
	if _, err := s.ownedThread(ctx, ownerID, threadID); err != nil {
		return nil, err
	}
	return s.repo.ListBreakPoints(ctx, threadID)
}

// Streams

// StreamOwnedBy reports whether any thread of ownerID references streamID.
func (s *Service) StreamOwnedBy(ctx context.Context, ownerID, streamID string) (bool, error) {
	owners, err := s.repo.StreamOwners(ctx, streamID)
	if err != nil {
		return false, err
	}
	for _, o := range owners {
		if o == ownerID {
			return true, nil
		}
	}
	return false, nil
}

// MessageStream checks that streamID is the response stream of a message
// in ownerID's thread threadID.
func (s *Service) MessageStream(ctx context.Context, ownerID, threadID, streamID string) (*Message, error) {
	if _, err := s.ownedThread(ctx, ownerID, threadID); err != nil {
		return nil, err
	}
	return s.repo.MessageByStream(ctx, threadID, streamID)
}

// BreakPointStream checks that streamID is the title stream of a breakpoint
// on ownerID's message messageID.
func (s *Service) BreakPointStream(ctx context.Context, ownerID, messageID, streamID string) (*BreakPoint, error) {
	if _, err := s.ownedMessage(ctx, ownerID, messageID); err != nil {
		return nil, err
	}
	return s.repo.BreakPointByStream(ctx, messageID, streamID)
}

// StreamReferenced lets the ledger collector skip entries still in use.
func (s *Service) StreamReferenced(ctx context.Context, streamID string) (bool, error) {
	return s.repo.StreamReferenced(ctx, streamID)
}

func (s *Service) SetResponse(ctx context.Context, streamID, text string) error {
	return s.repo.SetResponse(ctx, streamID, text)
}

// Prompt returns a message's prompt without an ownership check; producers
// run after the request that started them was authorized.
func (s *Service) Prompt(ctx context.Context, messageID string) (string, error) {
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	return m.Prompt, nil
}
