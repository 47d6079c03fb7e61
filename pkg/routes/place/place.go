package place

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	catrepo "github.com/feralops/clowder/internal/repositories/cat"
	placerepo "github.com/feralops/clowder/internal/repositories/place"
	ctxutil "github.com/feralops/clowder/pkg/context"
	"github.com/feralops/clowder/pkg/entitystore"
	"github.com/feralops/clowder/pkg/faults"
	"github.com/feralops/clowder/pkg/models"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/feralops/clowder/pkg/watchlist"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// Register registers place routes
func Register(g *echo.Group) {
	g.POST("", Create)
	g.GET("/:id", Get)
	g.GET("/:id/cats", ListCats)
	g.PUT("/:id/watchlist", SetWatch)
}

// Create upserts a place keyed on its normalized address
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "place_handler.Create")
	defer span.End()

	actorID := ctxutil.GetActorID(ctx)
	if actorID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}

	var req models.CreatePlaceRequest
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

	p, err := store.CreatePlace(ctx, req, actorID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, p)
}

// Get returns a place by id
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "place_handler.Get")
	defer span.End()

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*placerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	p, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return faults.NotFound("place", id)
	}

	return c.JSON(http.StatusOK, p)
}

// ListCats returns the cats recorded at a place
func ListCats(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "place_handler.ListCats")
	defer span.End()

	id := c.Param("id")

	ctx, places, err := ectoinject.GetContext[*placerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	p, err := places.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return faults.NotFound("place", id)
	}

	ctx, cats, err := ectoinject.GetContext[*catrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	list, err := cats.ListByPlace(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, list)
}

// SetWatch puts a place on or takes it off the watch list
func SetWatch(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "place_handler.SetWatch")
	defer span.End()

	id := c.Param("id")

	actorID := ctxutil.GetActorID(ctx)
	if actorID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "X-Actor-ID header is required")
	}

	var req models.SetWatchRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, svc, err := ectoinject.GetContext[*watchlist.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get watchlist service")
	}

	p, err := svc.SetWatch(ctx, id, req, actorID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, p)
}
