package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/branchchat/internal/ai"
	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/dispatch"
	"github.com/suPer8Hu/branchchat/internal/producer"
)

type streamReq struct {
	StreamID string `json:"streamId" binding:"required"`
}

func headerBool(c *gin.Context, name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(c.GetHeader(name)))
	return b
}

// withKey copies the caller's provider credential for job.Model into job.
// An unknown model is left for Validate to reject.
func withKey(c *gin.Context, job *producer.Job) {
	if mc, err := ai.LookupModel(job.Model); err == nil && mc.HeaderKey != "" {
		job.APIKey = strings.TrimSpace(c.GetHeader(mc.HeaderKey))
	}
}

// ChatStream generates the response of one message and relays it as SSE.
// Invalid requests are rejected before the stream is touched. If the stream
// was already started by another request, this one only reads it.
func (h *Handler) ChatStream(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "streamId required")
		return
	}
	job := producer.Job{
		Kind:     producer.KindMessage,
		StreamID: req.StreamID,
		ThreadID: strings.TrimSpace(c.GetHeader("X-Thread-Id")),
		Model:    strings.TrimSpace(c.GetHeader("X-Model")),
		Search:   headerBool(c, "X-SearchGrounding"),
		Image:    headerBool(c, "X-ImageGeneration"),
	}
	withKey(c, &job)
	if _, err := producer.Validate(&job); err != nil {
		failErr(c, err)
		return
	}
	if _, err := h.Chats.MessageStream(c.Request.Context(), uid, job.ThreadID, job.StreamID); err != nil {
		failErr(c, err)
		return
	}
	h.drive(c, uid, job)
}

// BreakPointStream generates a breakpoint title and relays it as SSE.
func (h *Handler) BreakPointStream(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "streamId required")
		return
	}
	job := producer.Job{
		Kind:      producer.KindBreakPoint,
		StreamID:  req.StreamID,
		MessageID: strings.TrimSpace(c.GetHeader("X-Message-Id")),
		Model:     strings.TrimSpace(c.GetHeader("X-Model")),
	}
	withKey(c, &job)
	if _, err := producer.Validate(&job); err != nil {
		failErr(c, err)
		return
	}
	bp, err := h.Chats.BreakPointStream(c.Request.Context(), uid, job.MessageID, job.StreamID)
	if err != nil {
		failErr(c, err)
		return
	}
	job.ThreadID = bp.ThreadID
	h.drive(c, uid, job)
}

// drive dispatches job if its stream is still pending, then relays it.
func (h *Handler) drive(c *gin.Context, uid string, job producer.Job) {
	ctx := c.Request.Context()
	from, err := resumeCursor(c)
	if err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid cursor")
		return
	}
	pending, err := h.isPending(c, job.StreamID)
	if err != nil {
		failErr(c, err)
		return
	}
	if pending {
		if err := h.Dispatcher.Dispatch(ctx, job); err != nil {
			if errors.Is(err, dispatch.ErrPoolClosed) {
				fail(c, http.StatusServiceUnavailable, 50300, "generation unavailable")
				return
			}
			failErr(c, err)
			return
		}
		h.markDriven(ctx, uid, job.StreamID)
		log.Info().Str("stream_id", job.StreamID).Str("kind", string(job.Kind)).Str("model", job.Model).Msg("stream_dispatched")
	}
	h.pumpStream(c, job.StreamID, from)
}

func (h *Handler) markDriven(ctx context.Context, uid, streamID string) {
	if h.Driven == nil {
		return
	}
	if err := h.Driven.Add(ctx, uid, streamID); err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("driven_stream_add_failed")
	}
}

// StreamEvents resumes a stream as SSE from a cursor.
func (h *Handler) StreamEvents(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	streamID := c.Param("id")
	if !h.canRead(c, uid, streamID) {
		return
	}
	from, err := resumeCursor(c)
	if err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid cursor")
		return
	}
	h.pumpStream(c, streamID, from)
}

// StreamBody is a one-shot snapshot read.
func (h *Handler) StreamBody(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	streamID := c.Param("id")
	if !h.canRead(c, uid, streamID) {
		return
	}
	from, err := resumeCursor(c)
	if err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid cursor")
		return
	}
	d, err := h.Ledger.Read(c.Request.Context(), streamID, from)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"stream_id": streamID, "text": d.Text, "cursor": d.Cursor, "status": d.Status})
}

// canRead answers 404 unless one of uid's threads references streamID.
func (h *Handler) canRead(c *gin.Context, uid, streamID string) bool {
	owned, err := h.Chats.StreamOwnedBy(c.Request.Context(), uid, streamID)
	if err != nil {
		failErr(c, err)
		return false
	}
	if !owned {
		failErr(c, errors.Wrapf(common.ErrNotFound, "stream %s", streamID))
		return false
	}
	return true
}

func (h *Handler) ListDriven(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	ids, err := h.Driven.List(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"stream_ids": ids})
}

func (h *Handler) AddDriven(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	streamID := c.Param("id")
	if !h.canRead(c, uid, streamID) {
		return
	}
	if err := h.Driven.Add(c.Request.Context(), uid, streamID); err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"stream_id": streamID})
}

func (h *Handler) RemoveDriven(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	if err := h.Driven.Remove(c.Request.Context(), uid, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"stream_id": c.Param("id")})
}

func (h *Handler) ClearDriven(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	if err := h.Driven.Clear(c.Request.Context(), uid); err != nil {
		failErr(c, err)
		return
	}
	ok(c, nil)
}
