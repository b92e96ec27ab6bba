package api

import (
	"context"
	"net/http"
	"strings"

	"PriceAlarm/internal/domain/models"
	xhttp "PriceAlarm/pkg/http"
	xlogger "PriceAlarm/pkg/logger"

	"github.com/labstack/echo/v4"
)

func init() {
	xhttp.RegisterStringRule("ticker", "must be 1 to 12 letters or digits, without a market suffix", func(s string) bool {
		return models.ValidTicker(models.NormalizeTicker(s))
	})
	xhttp.RegisterStringRule("price", "must be a positive number", func(s string) bool {
		_, err := models.ParseTarget(s)
		return err == nil
	})
}

// AlarmManager is the alarm write/read path the REST API drives.
type AlarmManager interface {
	Set(ctx context.Context, recipientID, ticker, direction, target string) (*models.Alarm, error)
	List(ctx context.Context, recipientID string) ([]models.Alarm, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context, recipientID string) (int, error)
	Health(ctx context.Context) error
}

// CycleRunner starts an out-of-band check cycle.
type CycleRunner interface {
	RunOnce(ctx context.Context) bool
	Running() bool
}

// AlarmsEchoHandler serves the alarm REST API, the manual cycle trigger and
// the liveness endpoints.
type AlarmsEchoHandler struct {
	logger *xlogger.Logger
	alarms AlarmManager
	cycles CycleRunner
}

func NewAlarmsEchoHandler(logger *xlogger.Logger, alarms AlarmManager, cycles CycleRunner) *AlarmsEchoHandler {
	return &AlarmsEchoHandler{logger: logger, alarms: alarms, cycles: cycles}
}

func (h *AlarmsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/alarms", h.List)
	g.POST("/alarms", h.Create)
	g.DELETE("/alarms", h.Clear)
	g.DELETE("/alarms/:id", h.Delete)
	g.POST("/cycles", h.TriggerCycle)
}

func (h *AlarmsEchoHandler) Root(c echo.Context) error {
	return c.String(http.StatusOK, "Bot is running via webhook!")
}

func (h *AlarmsEchoHandler) Health(c echo.Context) error {
	if err := h.alarms.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("alarm store unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":        "ok",
		"cycle_running": h.cycles.Running(),
	})
}

func (h *AlarmsEchoHandler) List(c echo.Context) error {
	req := &models.ListAlarmsRequest{}
	if verrs := xhttp.BindAndValidate(c, req); verrs != nil {
		return xhttp.InvalidRequestResponse(c, verrs)
	}
	alarms, err := h.alarms.List(c.Request().Context(), strings.TrimSpace(req.RecipientID))
	if err != nil {
		return h.fail(c, "list alarms", err)
	}
	return xhttp.ListResponse(c, alarms)
}

func (h *AlarmsEchoHandler) Create(c echo.Context) error {
	req := &models.AlarmRequest{}
	if verrs := xhttp.BindAndValidate(c, req); verrs != nil {
		return xhttp.InvalidRequestResponse(c, verrs)
	}
	a, err := h.alarms.Set(c.Request().Context(), req.RecipientID, req.Ticker, req.Direction, req.Target)
	if err != nil {
		return h.fail(c, "set alarm", err)
	}
	return xhttp.CreatedResponse(c, a)
}

func (h *AlarmsEchoHandler) Delete(c echo.Context) error {
	id := c.Param("id")
	if err := h.alarms.Remove(c.Request().Context(), id); err != nil {
		return h.fail(c, "delete alarm", err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *AlarmsEchoHandler) Clear(c echo.Context) error {
	req := &models.ClearAlarmsRequest{}
	if verrs := xhttp.BindAndValidate(c, req); verrs != nil {
		return xhttp.InvalidRequestResponse(c, verrs)
	}
	n, err := h.alarms.Clear(c.Request().Context(), req.RecipientID)
	if err != nil {
		return h.fail(c, "clear alarms", err)
	}
	return xhttp.SuccessResponse(c, map[string]int{"removed": n})
}

// TriggerCycle starts a cycle now. It never queues: a cycle already in flight
// is reported as a conflict.
func (h *AlarmsEchoHandler) TriggerCycle(c echo.Context) error {
	if !h.cycles.RunOnce(c.Request().Context()) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("a check cycle is already running"))
	}
	return xhttp.AcceptedResponse(c, map[string]string{"status": "started"})
}

var alarmErrorRules = []xhttp.ErrorRule{
	{Target: models.ErrInvalidAlarm, Status: http.StatusBadRequest, Code: xhttp.CodeBadRequest},
	{Target: models.ErrAlarmNotFound, Status: http.StatusNotFound, Code: xhttp.CodeNotFound},
}

func (h *AlarmsEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr, known := xhttp.MapError(err, alarmErrorRules...)
	if !known {
		h.logger.Error(op+" failed", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
