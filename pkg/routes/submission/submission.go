package submission

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	subrepo "github.com/feralops/clowder/internal/repositories/submission"
	ctxutil "github.com/feralops/clowder/pkg/context"
	"github.com/feralops/clowder/pkg/conversion"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/intake"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// Register registers submission routes
func Register(g *echo.Group) {
	g.POST("", Create)
	g.GET("/:id", Get)
	g.POST("/:id/convert", Convert)
	g.POST("/:id/close", Close)
}

// Create accepts a submission over HTTP, for sources that do not go
// through the intake topic
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "submission_handler.Create")
	defer span.End()

	var msg models.IntakeMessage
	if err := c.Bind(&msg); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(msg); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*intake.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get intake service")
	}

	sub, err := svc.Receive(ctx, msg)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, sub)
}

// Get returns a submission by id
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "submission_handler.Get")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*subrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	sub, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return faults.NotFound("submission", id)
	}

	return c.JSON(http.StatusOK, sub)
}

// ConvertResponse is returned when a submission becomes a request
type ConvertResponse struct {
	RequestID    string `json:"request_id"`
	SubmissionID string `json:"submission_id"`
}

// Convert turns a triaged submission into a service request. Repeat
// calls return the original request id with a 200.
func Convert(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "submission_handler.Convert")
	defer span.End()

	id := c.Param("id")

	actorID := ctxutil.GetActorID(ctx)
	if actorID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}

	ctx, svc, err := ectoinject.GetContext[*conversion.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conversion service")
	}

	req, err := svc.Convert(ctx, id, actorID)
	if err != nil {
		if f, ok := faults.As(err); ok && f.Kind == faults.KindAlreadyConverted {
			return c.JSON(http.StatusOK, ConvertResponse{RequestID: f.RequestID, SubmissionID: id})
		}
		return err
	}

	return c.JSON(http.StatusCreated, ConvertResponse{RequestID: req.ID, SubmissionID: id})
}

// CloseRequest carries the archive reason for closing a submission
type CloseRequest struct {
	Reason string `json:"reason"`
}

// Close archives a submission, typically as a duplicate
func Close(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "submission_handler.Close")
	defer span.End()

	id := c.Param("id")

	actorID := ctxutil.GetActorID(ctx)
	if actorID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}

	var req CloseRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, svc, err := ectoinject.GetContext[*intake.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get intake service")
	}

	if err := svc.CloseDuplicate(ctx, id, req.Reason, actorID); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
