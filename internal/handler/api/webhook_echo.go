package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"PriceAlarm/internal/service/telegram"
	"PriceAlarm/pkg/cache"
	xlogger "PriceAlarm/pkg/logger"

	"github.com/labstack/echo/v4"
)

const updateDedupeTTL = 10 * time.Minute

// TextHandler handles one inbound chat message.
type TextHandler interface {
	HandleText(ctx context.Context, chatID, text string) error
}

// WebhookEchoHandler receives Telegram updates. It always answers 200 so the
// Bot API does not redeliver an update the bot has already seen or cannot use.
type WebhookEchoHandler struct {
	path    string
	logger  *xlogger.Logger
	handler TextHandler
	dedupe  cache.Locker
	timeout time.Duration
}

func NewWebhookEchoHandler(path string, logger *xlogger.Logger, handler TextHandler, dedupe cache.Locker) *WebhookEchoHandler {
	return &WebhookEchoHandler{
		path:    path,
		logger:  logger,
		handler: handler,
		dedupe:  dedupe,
		timeout: 20 * time.Second,
	}
}

func (h *WebhookEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST(h.path, h.Receive)
}

func (h *WebhookEchoHandler) Receive(c echo.Context) error {
	var upd telegram.Update
	if err := c.Bind(&upd); err != nil {
		h.logger.Warn("undecodable webhook update", xlogger.Error(err))
		return c.NoContent(http.StatusOK)
	}

	msg := upd.Message
	if msg == nil || msg.Text == "" {
		return c.NoContent(http.StatusOK)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	if h.dedupe != nil {
		// the marker is left to expire; it is never unlocked
		marker, err := h.dedupe.TryLock(ctx, "tg:update:"+strconv.FormatInt(upd.UpdateID, 10), updateDedupeTTL)
		if err != nil {
			h.logger.Warn("update dedupe unavailable", xlogger.Error(err))
		} else if marker == nil {
			h.logger.Debug("duplicate update ignored", xlogger.Int64("update_id", upd.UpdateID))
			return c.NoContent(http.StatusOK)
		}
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if err := h.handler.HandleText(ctx, chatID, msg.Text); err != nil {
		h.logger.Error("handle update",
			xlogger.Int64("update_id", upd.UpdateID),
			xlogger.String("chat_id", chatID),
			xlogger.Error(err),
		)
	}
	return c.NoContent(http.StatusOK)
}
