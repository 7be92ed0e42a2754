package handlers

import (
	"net/http"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/verb"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// ActivityHandler publishes and retracts activities
type ActivityHandler struct {
	manager    *manager.Manager
	activities repositories.ActivityRepository
	follows    repositories.FollowRepository
	verbs      *verb.Registry
}

// NewActivityHandler creates a new ActivityHandler
func NewActivityHandler(m *manager.Manager, activities repositories.ActivityRepository, follows repositories.FollowRepository, verbs *verb.Registry) *ActivityHandler {
	return &ActivityHandler{manager: m, activities: activities, follows: follows, verbs: verbs}
}

// RegisterActivityRoutes registers activity routes
func (h *ActivityHandler) RegisterActivityRoutes(g *echo.Group) {
	g.POST("/activities", h.CreateActivity)
	g.DELETE("/activities/:id", h.DeleteActivity)
	g.GET("/users/:id/activities", h.GetUserActivities)
}

// CreateActivity publishes an activity as the current user and fans it out
func (h *ActivityHandler) CreateActivity(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	var req models.CreateActivityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := validator.New().Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	v, err := h.verbs.ByInfinitive(req.Verb)
	if err != nil {
		return httpError(err)
	}

	var opts []activity.Option
	if req.Time != nil {
		opts = append(opts, activity.WithTime(*req.Time))
	}
	if req.TargetID != nil {
		opts = append(opts, activity.WithTarget(activity.IntID(*req.TargetID)))
	}
	if req.ExtraContext != nil {
		opts = append(opts, activity.WithExtraContext(req.ExtraContext))
	}
	a, err := activity.New(activity.IntID(currentUserID), v, activity.IntID(req.ObjectID), opts...)
	if err != nil {
		return httpError(err)
	}

	if err := h.manager.AddUserActivity(c.Request().Context(), currentUserID, a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": a})
}

// DeleteActivity retracts one of the current user's activities
func (h *ActivityHandler) DeleteActivity(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	id, err := activity.ParseID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid activity ID")
	}
	a, err := h.activities.GetActivityByID(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if a.ActorID() != currentUserID {
		return echo.NewHTTPError(http.StatusForbidden, "You can only delete your own activities")
	}

	if err := h.manager.RemoveUserActivity(c.Request().Context(), currentUserID, a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "Activity removed"})
}

// GetUserActivities returns the activities a user authored, newest first,
// with the user's follow counts
func (h *ActivityHandler) GetUserActivities(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	offset, limit := pagination(c)
	ctx := c.Request().Context()

	f := h.manager.GetUserFeed(userID)
	entries, err := f.Slice(ctx, offset, offset+limit)
	if err != nil {
		return httpError(err)
	}
	total, err := f.Count(ctx)
	if err != nil {
		return httpError(err)
	}
	followers, err := h.follows.GetFollowersCount(ctx, userID)
	if err != nil {
		return httpError(err)
	}
	following, err := h.follows.GetFollowingCount(ctx, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":   true,
		"data":      entries,
		"followers": followers,
		"following": following,
		"pagination": echo.Map{
			"offset": offset,
			"limit":  limit,
			"total":  total,
		},
	})
}
