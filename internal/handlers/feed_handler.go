package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/labstack/echo/v4"
)

// FeedHandler serves the current user's feeds
type FeedHandler struct {
	manager     *manager.Manager
	follows     repositories.FollowRepository
	defaultType string
}

// NewFeedHandler creates a new FeedHandler. defaultType is served when no
// type is asked for.
func NewFeedHandler(m *manager.Manager, follows repositories.FollowRepository, defaultType string) *FeedHandler {
	return &FeedHandler{manager: m, follows: follows, defaultType: defaultType}
}

// RegisterFeedRoutes registers feed-related routes
func (h *FeedHandler) RegisterFeedRoutes(g *echo.Group) {
	g.GET("/feed", h.GetFeed)
	g.POST("/feed/rebuild", h.RebuildFeeds)
}

// GetFeed returns a page of one of the current user's feeds
func (h *FeedHandler) GetFeed(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	feedType := c.QueryParam("type")
	if feedType == "" {
		feedType = h.defaultType
	}
	f, ok := h.manager.GetFeeds(currentUserID)[feedType]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Unknown feed type %q, expected one of %s",
			feedType, strings.Join(h.manager.FeedTypeNames(), ", ")))
	}

	offset, limit := pagination(c)
	entries, err := f.Slice(c.Request().Context(), offset, offset+limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    entries,
		"type":    feedType,
		"pagination": echo.Map{
			"offset":   offset,
			"limit":    limit,
			"has_more": len(entries) == limit,
		},
	})
}

// RebuildFeeds copies the recent activities of everyone the current user
// follows back into their feeds. Entries already present are left alone.
func (h *FeedHandler) RebuildFeeds(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	ctx := c.Request().Context()
	following, err := h.follows.GetFollowingIDs(ctx, currentUserID)
	if err != nil {
		return httpError(err)
	}
	if err := h.manager.FollowManyUsers(ctx, currentUserID, following); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"following": len(following)}})
}
