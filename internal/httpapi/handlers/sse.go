package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/ledger"
)

var heartbeatInterval = 15 * time.Second

type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
}

func startSSE(c *gin.Context) (*sseWriter, bool) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return nil, false
	}
	flusher.Flush()
	return &sseWriter{c: c, flusher: flusher}, true
}

// send writes one event. A non-empty id becomes the client's Last-Event-ID.
func (w *sseWriter) send(event, id string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(w.c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
		w.flusher.Flush()
		return
	}
	if id != "" {
		fmt.Fprintf(w.c.Writer, "id: %s\n", id)
	}
	fmt.Fprintf(w.c.Writer, "event: %s\n", event)
	fmt.Fprintf(w.c.Writer, "data: %s\n\n", b)
	w.flusher.Flush()
}

// resumeCursor prefers Last-Event-ID (set by reconnecting EventSources) over
// the cursor query parameter.
func resumeCursor(c *gin.Context) (uint64, error) {
	raw := strings.TrimSpace(c.GetHeader("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("cursor"))
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// pumpStream relays a ledger subscription as server-sent events until the
// stream is terminal or the client goes away. The producer is unaffected
// by the client leaving.
func (h *Handler) pumpStream(c *gin.Context, streamID string, from uint64) {
	ctx := c.Request.Context()
	w, okk := startSSE(c)
	if !okk {
		return
	}

	deltas, errs := h.Ledger.Subscribe(ctx, streamID, from)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case d, open := <-deltas:
			if !open {
				if err := <-errs; err != nil {
					status, _ := common.HTTPStatus(err)
					w.send("error", "", gin.H{"type": "error", "status": status, "message": err.Error()})
				}
				return
			}
			id := strconv.FormatUint(d.Cursor, 10)
			if d.Text != "" || !d.Status.Terminal() {
				w.send("delta", id, gin.H{"type": "delta", "cursor": d.Cursor, "delta": d.Text, "status": d.Status})
			}
			if d.Status.Terminal() {
				w.send("done", id, gin.H{"type": "done", "cursor": d.Cursor, "status": d.Status})
				return
			}

		case <-ticker.C:
			w.send("ping", "", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case <-ctx.Done():
			return
		}
	}
}

// isPending reports whether nobody has started producing streamID yet.
func (h *Handler) isPending(c *gin.Context, streamID string) (bool, error) {
	st, err := h.Ledger.Status(c.Request.Context(), streamID)
	if err != nil {
		return false, err
	}
	return st == ledger.StatusPending, nil
}
