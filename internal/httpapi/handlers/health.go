package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/branchchat/internal/db"
)

func (h *Handler) Ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

func (h *Handler) Healthz(c *gin.Context) {
	ok(c, gin.H{"status": "ok"})
}

// Readyz checks every backing store the API needs to serve requests.
func (h *Handler) Readyz(c *gin.Context) {
	checks := gin.H{}
	ready := true

	if err := db.Ping(h.DB); err != nil {
		checks["db"] = err.Error()
		ready = false
	} else {
		checks["db"] = "ok"
	}
	if h.Ledger.Ready() {
		checks["ledger"] = "ok"
	} else {
		checks["ledger"] = "closed"
		ready = false
	}
	if h.Driven != nil {
		if err := h.Driven.Ping(c.Request.Context()); err != nil {
			checks["redis"] = err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": 50300, "message": "not ready", "data": checks})
		return
	}
	ok(c, checks)
}
