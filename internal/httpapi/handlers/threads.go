package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type createThreadReq struct {
	Title string `json:"title"`
}

func (h *Handler) CreateThread(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req createThreadReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	t, err := h.Chats.CreateThread(c.Request.Context(), uid, req.Title)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"thread": t})
}

func (h *Handler) ListThreads(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var pinned *bool
	if raw := c.Query("pinned"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, 10001, "pinned must be true or false")
			return
		}
		pinned = &b
	}
	threads, err := h.Chats.ListThreads(c.Request.Context(), uid, pinned)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"threads": threads})
}

func (h *Handler) RecentThreads(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	threads, err := h.Chats.RecentThreads(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"threads": threads})
}

func (h *Handler) SearchThreads(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	threads, err := h.Chats.SearchThreads(c.Request.Context(), uid, c.Query("q"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"threads": threads})
}

func (h *Handler) GetThread(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	t, err := h.Chats.GetThread(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"thread": t})
}

type renameThreadReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) RenameThread(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req renameThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Chats.RenameThread(c.Request.Context(), uid, c.Param("id"), req.Title); err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"id": c.Param("id"), "title": req.Title})
}

type pinThreadReq struct {
	Pinned *bool `json:"pinned" binding:"required"`
}

func (h *Handler) PinThread(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req pinThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Chats.PinThread(c.Request.Context(), uid, c.Param("id"), *req.Pinned); err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"id": c.Param("id"), "pinned": *req.Pinned})
}

func (h *Handler) DeleteThread(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	if err := h.Chats.DeleteThread(c.Request.Context(), uid, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"id": c.Param("id")})
}

type forkThreadReq struct {
	MessageID string `json:"message_id" binding:"required"`
}

func (h *Handler) ForkThread(c *gin.Context) {
	uid, okk := owner(c)
	if !okk {
		return
	}
	var req forkThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "message_id required")
		return
	}
	t, err := h.Chats.ForkThread(c.Request.Context(), uid, c.Param("id"), req.MessageID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"thread": t})
}
