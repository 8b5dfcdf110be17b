package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/branchchat/internal/storage"
)

func (h *Handler) CreateUploadURL(c *gin.Context) {
	if _, okk := owner(c); !okk {
		return
	}
	url, err := h.Files.GenerateUploadTarget(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"upload_url": url})
}

// Upload accepts the raw bytes for a signed upload URL. The token is the
// only credential, so the route sits outside the auth group.
func (h *Handler) Upload(c *gin.Context) {
	id, err := h.Files.VerifyUpload(c.Param("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, 40102, "invalid upload token")
		return
	}
	ct := strings.TrimSpace(c.ContentType())
	if ct == "" {
		ct = "application/octet-stream"
	}
	if c.Request.ContentLength > storage.MaxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, 41300, "upload too large")
		return
	}
	a, err := h.Files.Save(c.Request.Context(), id, ct, c.Request.Body)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"storageId": a.ID, "content_type": a.ContentType, "size": a.Size})
}

func (h *Handler) GetFile(c *gin.Context) {
	a, f, err := h.Files.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	defer f.Close()
	c.Header("Cache-Control", "private, max-age=31536000, immutable")
	c.DataFromReader(http.StatusOK, a.Size, a.ContentType, f, nil)
}
