package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/middleware"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/verb"
	"github.com/labstack/echo/v4"
)

const (
	defaultLimit = 25
	maxLimit     = 100
)

// getUserIDFromContext returns the authenticated user, or 0.
func getUserIDFromContext(c echo.Context) int64 {
	id, _ := middleware.UserID(c)
	return id
}

// pagination reads offset and limit query params.
func pagination(c echo.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > maxLimit {
		limit = defaultLimit
	}
	return offset, limit
}

func userIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid user ID")
	}
	return id, nil
}

// httpError maps domain errors to HTTP errors.
func httpError(err error) error {
	switch {
	case errors.Is(err, activity.ErrActivityNotFound),
		errors.Is(err, feed.ErrEntryNotFound),
		errors.Is(err, repositories.ErrFollowNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, repositories.ErrAlreadyFollowing):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, activity.ErrValidation),
		errors.Is(err, verb.ErrUnknownVerb),
		errors.Is(err, manager.ErrUnknownFeedType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
