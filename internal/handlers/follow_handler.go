package handlers

import (
	"net/http"

	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// FollowHandler handles follow/unfollow HTTP requests
type FollowHandler struct {
	followRepository repositories.FollowRepository
	manager          *manager.Manager
}

// NewFollowHandler creates a new FollowHandler
func NewFollowHandler(followRepo repositories.FollowRepository, m *manager.Manager) *FollowHandler {
	return &FollowHandler{followRepository: followRepo, manager: m}
}

// RegisterFollowRoutes registers follow-related routes
func (h *FollowHandler) RegisterFollowRoutes(g *echo.Group) {
	g.POST("/users/:id/follow", h.FollowUser)
	g.DELETE("/users/:id/follow", h.UnfollowUser)
}

// FollowUser records the follow and copies the target's recent activities
// into the current user's feeds
func (h *FollowHandler) FollowUser(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	targetID, err := userIDParam(c)
	if err != nil {
		return err
	}
	if currentUserID == targetID {
		return echo.NewHTTPError(http.StatusBadRequest, "Cannot follow yourself")
	}

	var req models.FollowRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
		}
	}
	if err := validator.New().Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	isFollowing, err := h.followRepository.IsFollowing(ctx, currentUserID, targetID)
	if err != nil {
		return httpError(err)
	}
	if isFollowing {
		return echo.NewHTTPError(http.StatusConflict, "Already following this user")
	}

	follow := &models.Follow{
		FollowerID:  currentUserID,
		FollowingID: targetID,
		Priority:    req.Priority,
	}
	if err := h.followRepository.CreateFollow(ctx, follow); err != nil {
		return httpError(err)
	}
	if err := h.manager.FollowUser(ctx, currentUserID, targetID); err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"following": true, "priority": follow.Priority}})
}

// UnfollowUser removes the follow and the target's activities from the
// current user's feeds
func (h *FollowHandler) UnfollowUser(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	targetID, err := userIDParam(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := h.followRepository.DeleteFollow(ctx, currentUserID, targetID); err != nil {
		return httpError(err)
	}
	if err := h.manager.UnfollowUser(ctx, currentUserID, targetID); err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"following": false}})
}
