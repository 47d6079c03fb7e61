package audit

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	auditsvc "github.com/feralops/clowder/pkg/audit"
	ctxutil "github.com/feralops/clowder/pkg/context"
	"github.com/feralops/clowder/pkg/entitystore"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/labstack/echo/v4"
)

// Register registers audit routes on the entity-scoped group
func Register(g *echo.Group) {
	g.GET("/:entityType/:id/history", History)
	g.PATCH("/:entityType/:id/fields", UpdateField)
}

// History returns one page of an entity's audit trail
func History(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "audit_handler.History")
	defer span.End()

	entityType, ok := models.ParseEntityType(c.Param("entityType"))
	if !ok {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown entity type")
	}
	id := c.Param("id")

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, svc, err := ectoinject.GetContext[*auditsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get audit service")
	}

	page, err := svc.History(ctx, entityType, id, limit, offset)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, page)
}

// UpdateField applies a single audited field change to an entity
func UpdateField(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "audit_handler.UpdateField")
	defer span.End()

	entityType, ok := models.ParseEntityType(c.Param("entityType"))
	if !ok {
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown entity type")
	}
	id := c.Param("id")

	actorID := ctxutil.GetActorID(ctx)
	if actorID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}

	var req models.UpdateFieldRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Field == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "field is required")
	}

	ctx, store, err := ectoinject.GetContext[*entitystore.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity store")
	}

	if err := store.UpdateField(ctx, entityType, id, req, actorID); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
