package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/branchchat/internal/ai"
	"github.com/suPer8Hu/branchchat/internal/chat"
)

type createMessageReq struct {
	Prompt          string   `json:"prompt"`
	Model           string   `json:"model" binding:"required"`
	SearchGrounding bool     `json:"search_grounding"`
	ImageGeneration bool     `json:"image_generation"`
	Attachments     []string `json:"attachments"`
}

// CreateMessage stores the user turn and allocates its response stream.
// Generation starts when a client drives the stream via /chat-stream.
func (h *Handler) CreateMessage(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req createMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if _, err := ai.LookupModel(req.Model); err != nil {
		failErr(c, err)
		return
	}
	m, err := h.Chats.CreateMessage(c.Request.Context(), uid, c.Param("id"), chat.NewMessage{
		Prompt:          req.Prompt,
		Model:           req.Model,
		SearchGrounding: req.SearchGrounding,
		ImageGeneration: req.ImageGeneration,
		Attachments:     req.Attachments,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"message": m})
}

func (h *Handler) ListMessages(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	msgs, err := h.Chats.ListMessages(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"messages": msgs})
}

func (h *Handler) GetMessage(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	m, err := h.Chats.GetMessage(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"message": m})
}

type addAttachmentsReq struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

func (h *Handler) AddAttachments(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req addAttachmentsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "ids required")
		return
	}
	m, err := h.Chats.AddAttachments(c.Request.Context(), uid, c.Param("id"), req.IDs)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"message": m})
}

func (h *Handler) ListAttachments(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	atts, err := h.Chats.Attachments(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"attachments": atts})
}

type createBreakPointReq struct {
	Model string `json:"model" binding:"required"`
}

func (h *Handler) CreateBreakPoint(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req createBreakPointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "model required")
		return
	}
	if _, err := ai.LookupModel(req.Model); err != nil {
		failErr(c, err)
		return
	}
	bp, err := h.Chats.CreateBreakPoint(c.Request.Context(), uid, c.Param("id"), req.Model)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"breakpoint": bp})
}

func (h *Handler) ListBreakPoints(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	bps, err := h.Chats.ListBreakPoints(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"breakpoints": bps})
}

func (h *Handler) ListModels(c *gin.Context) {
	ok(c, gin.H{"models": ai.Models()})
}
