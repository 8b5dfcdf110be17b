package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/suPer8Hu/branchchat/internal/chat"
	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/config"
	"github.com/suPer8Hu/branchchat/internal/dispatch"
	"github.com/suPer8Hu/branchchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/branchchat/internal/ledger"
	"github.com/suPer8Hu/branchchat/internal/storage"
	"github.com/suPer8Hu/branchchat/internal/store/redisstore"
)

// Handler carries the services the HTTP API is a thin shell over.
type Handler struct {
	DB         *gorm.DB
	Cfg        config.Config
	Chats      *chat.Service
	Ledger     *ledger.Ledger
	Files      *storage.LocalStore
	Dispatcher dispatch.Dispatcher
	// Driven is nil when Redis is not configured.
	Driven *redisstore.DrivenStreams
}

func ok(c *gin.Context, data any) {
	common.OK(c, data)
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	common.Fail(c, httpStatus, code, msg)
}

// failErr answers with the status the error taxonomy assigns to err. Server
// side failures are logged and their details withheld.
func failErr(c *gin.Context, err error) {
	status, code := common.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.Error().Err(err).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Str("path", c.FullPath()).
			Msg("http_handler_failed")
		msg = "internal error"
	}
	_ = c.Error(err)
	fail(c, status, code, msg)
}

// owner returns the caller or answers 401 and returns false.
func owner(c *gin.Context) (string, bool) {
	id := middleware.OwnerID(c)
	if id == "" {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return "", false
	}
	return id, true
}
