package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/feralops/clowder/pkg/context"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	Kind      string         `json:"kind,omitempty"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		logger.WithContext(ctx).WithError(err).Error("api is returning an error")
		if c.Response().Committed {
			return
		}

		// Default response
		code := http.StatusInternalServerError
		message := "Internal Server Error"
		kind := ""
		meta := map[string]any{}

		// Handle specific Echo errors
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}

		if ok := httperror.IsHTTPError(err); ok {
			httperr := httperror.ToHTTPError(err)
			code = httperror.GetStatusCode(err)
			message = httperr.Error()
			meta = httperr.Meta
		}

		if f, ok := faults.As(err); ok {
			code = faults.HTTPStatus(f.Kind)
			message = f.Message
			kind = string(f.Kind)
			if f.EntityID != "" {
				meta["entity_type"] = f.EntityType
				meta["entity_id"] = f.EntityID
			}
			if len(f.Candidates) > 0 {
				meta["candidates"] = f.Candidates
			}
			if f.RequestID != "" {
				meta["request_id"] = f.RequestID
			}
		}

		requestID := context.GetRequestID(ctx)
		traceID := tracing.GetTraceID(ctx)

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			Kind:      kind,
			RequestID: requestID,
			TraceID:   traceID,
			Meta:      meta,
		})
	}
}
