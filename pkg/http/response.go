package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// envelope writes an APIResponse whose status mirrors the HTTP code.
func envelope(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return envelope(c, http.StatusOK, data)
}

func CreatedResponse(c echo.Context, data interface{}) error {
	return envelope(c, http.StatusCreated, data)
}

func AcceptedResponse(c echo.Context, data interface{}) error {
	return envelope(c, http.StatusAccepted, data)
}

func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// ListResponse wraps rows with their count. A nil slice is sent as [].
func ListResponse[T any](c echo.Context, rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	return envelope(c, http.StatusOK, &ListDataResponse{Rows: rows, Total: int64(len(rows))})
}

// InvalidRequestResponse writes the field errors from BindAndValidate.
func InvalidRequestResponse(c echo.Context, verrs []ValidationError) error {
	return envelope(c, http.StatusBadRequest, verrs)
}

// AppErrorResponse writes err as a one-element error list. Anything that is
// not an *AppError goes out as a bare 500.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr == nil {
		appErr = InternalError("internal error")
	}
	return envelope(c, appErr.Status, []*AppError{appErr})
}
