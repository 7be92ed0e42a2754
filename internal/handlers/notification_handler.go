package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// NotificationHandler serves the aggregated notification feed
type NotificationHandler struct {
	manager  *manager.Manager
	feedType string
	now      func() time.Time
}

// NewNotificationHandler creates a new NotificationHandler on the aggregated
// feed type registered as feedType
func NewNotificationHandler(m *manager.Manager, feedType string) *NotificationHandler {
	return &NotificationHandler{manager: m, feedType: feedType, now: time.Now}
}

// RegisterNotificationRoutes registers notification routes
func (h *NotificationHandler) RegisterNotificationRoutes(g *echo.Group) {
	g.GET("/notifications", h.GetNotifications)
	g.PUT("/notifications/seen", h.MarkSeen)
	g.PUT("/notifications/read", h.MarkRead)
}

func (h *NotificationHandler) notificationFeed(c echo.Context) (*feed.AggregatedFeed, error) {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	f, ok := h.manager.GetFeeds(currentUserID)[h.feedType].(*feed.AggregatedFeed)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Notification feed is not configured")
	}
	return f, nil
}

// GetNotifications returns the newest notification groups with unseen and
// unread counts
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	f, err := h.notificationFeed(c)
	if err != nil {
		return err
	}
	offset, limit := pagination(c)

	groups, err := f.Aggregations(c.Request().Context(), offset+limit)
	if err != nil {
		return httpError(err)
	}
	if offset > len(groups) {
		offset = len(groups)
	}
	groups = groups[offset:]

	unseen, unread := 0, 0
	for _, g := range groups {
		if !g.IsSeen() {
			unseen++
		}
		if !g.IsRead() {
			unread++
		}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    groups,
		"unseen":  unseen,
		"unread":  unread,
	})
}

// MarkSeen marks notification groups as seen
func (h *NotificationHandler) MarkSeen(c echo.Context) error {
	return h.mark(c, (*feed.AggregatedFeed).MarkSeen)
}

// MarkRead marks notification groups as read
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	return h.mark(c, (*feed.AggregatedFeed).MarkRead)
}

type markFunc func(f *feed.AggregatedFeed, ctx context.Context, now time.Time, groups ...string) (int, error)

func (h *NotificationHandler) mark(c echo.Context, mark markFunc) error {
	f, err := h.notificationFeed(c)
	if err != nil {
		return err
	}

	var req models.MarkNotificationsRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
		}
	}
	if err := validator.New().Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	n, err := mark(f, c.Request().Context(), h.now(), req.Groups...)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"updated": n}})
}
