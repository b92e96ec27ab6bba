package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"

	applogger "PriceAlarm/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricealarm_http_panics_total",
			Help: "Panics recovered in HTTP handlers",
		},
		[]string{"route"},
	)
	panicsOnce sync.Once
)

// Recover turns a handler panic into a 500 envelope and logs the stack.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	panicsOnce.Do(func() {
		prometheus.MustRegister(httpPanicsTotal)
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				httpPanicsTotal.WithLabelValues(c.Path()).Inc()
				l.Error("panic in http handler",
					applogger.Error(perr),
					applogger.String("method", c.Request().Method),
					applogger.String("path", c.Path()),
					applogger.String("stack", string(debug.Stack())),
				)
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
				})
			}()
			return next(c)
		}
	}
}
