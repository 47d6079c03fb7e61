package person

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	ctxutil "github.com/feralops/clowder/pkg/context"
	"github.com/feralops/clowder/pkg/entitystore"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// Register registers person routes
func Register(g *echo.Group) {
	g.POST("", Create)
	g.GET("/:id", Get)
	g.POST("/:id/merge", Merge)
}

// Create creates a new person record
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "person_handler.Create")
	defer span.End()

	actorID := ctxutil.GetActorID(ctx)
	if actorID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}

	var req models.CreatePersonRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, store, err := ectoinject.GetContext[*entitystore.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity store")
	}

	p, err := store.CreatePerson(ctx, req, actorID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, p)
}

// Get resolves a person id, following any merge chain to the surviving
// record
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "person_handler.Get")
	defer span.End()

	id := c.Param("id")

	ctx, store, err := ectoinject.GetContext[*entitystore.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity store")
	}

	p, err := store.FindPerson(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, p)
}

// Merge collapses the path person into the target person
func Merge(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "person_handler.Merge")
	defer span.End()

	id := c.Param("id")

	actorID := ctxutil.GetActorID(ctx)
	if actorID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}

	var req models.MergePersonRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, store, err := ectoinject.GetContext[*entitystore.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get entity store")
	}

	summary, err := store.MergePerson(ctx, id, req.TargetID, actorID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, summary)
}
