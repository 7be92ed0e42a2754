package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/anonto42/nano-midea/fanout/internal/aggregator"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/middleware"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/router"
	"github.com/anonto42/nano-midea/fanout/internal/storage/memory"
	"github.com/anonto42/nano-midea/fanout/internal/verb"
	"github.com/anonto42/nano-midea/fanout/internal/worker"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// headerAuth trusts X-User-ID.
func headerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Request().Header.Get("X-User-ID"), 10, 64)
		if err == nil && id > 0 {
			middleware.SetUserID(c, id)
		}
		return next(c)
	}
}

func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	e, _ := newServerWithTimeline(t)
	return e
}

func newServerWithTimeline(t *testing.T) (*echo.Echo, *memory.Timeline) {
	t.Helper()
	tl, store := memory.NewTimeline(), memory.NewActivities()
	opts := feed.Options{Timeline: tl, Activities: store}

	userFeed, err := feed.NewUserType(opts)
	require.NoError(t, err)
	flat, err := feed.NewType(opts)
	require.NoError(t, err)
	notifOpts := opts
	notifOpts.KeyFormat = "notification_feed_%d"
	notifications, err := feed.NewAggregatedType(notifOpts, aggregator.New(aggregator.Notification{}), 0)
	require.NoError(t, err)

	follows := repositories.NewMemoryFollowRepository()
	m, err := manager.New(manager.Config{
		FeedTypes:   map[string]feed.Factory{"flat": flat, "notification": notifications},
		UserFeed:    userFeed,
		Followers:   follows,
		DefaultLane: worker.Inline{},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	e := echo.New()
	router.SetupRoutes(e, router.Dependencies{
		Manager:              m,
		Activities:           store,
		Follows:              follows,
		Verbs:                verb.Default(),
		Auth:                 headerAuth,
		DefaultFeedType:      "flat",
		NotificationFeedType: "notification",
		Logger:               zerolog.Nop(),
	})
	return e, tl
}

type response struct {
	Code int
	Body map[string]any
}

func do(t *testing.T, e *echo.Echo, method, path string, user int64, body string) response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(user, 10))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	out := response{Code: rec.Code}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.Body), rec.Body.String())
	}
	return out
}

func items(t *testing.T, r response) []any {
	t.Helper()
	data, ok := r.Body["data"].([]any)
	require.True(t, ok, "data is a list: %v", r.Body)
	return data
}

func TestHealth(t *testing.T) {
	e := newServer(t)
	r := do(t, e, http.MethodGet, "/health", 0, "")
	assert.Equal(t, http.StatusOK, r.Code)
	assert.Equal(t, "healthy", r.Body["status"])
}

func TestPublishFansOutToFollowers(t *testing.T) {
	e := newServer(t)

	r := do(t, e, http.MethodPost, "/api/v1/users/1/follow", 2, `{"priority":"high"}`)
	require.Equal(t, http.StatusOK, r.Code, r.Body)

	r = do(t, e, http.MethodPost, "/api/v1/activities", 1, `{"verb":"love","object_id":55}`)
	require.Equal(t, http.StatusCreated, r.Code, r.Body)
	created := r.Body["data"].(map[string]any)
	assert.Equal(t, float64(1), created["actor_id"])
	id := created["id"].(string)

	r = do(t, e, http.MethodGet, "/api/v1/feed", 2, "")
	require.Equal(t, http.StatusOK, r.Code)
	feedItems := items(t, r)
	require.Len(t, feedItems, 1)
	assert.Equal(t, id, feedItems[0].(map[string]any)["id"])

	r = do(t, e, http.MethodGet, "/api/v1/users/1/activities", 2, "")
	require.Equal(t, http.StatusOK, r.Code)
	assert.Len(t, items(t, r), 1)
	assert.Equal(t, float64(1), r.Body["followers"])
	assert.Equal(t, float64(0), r.Body["following"])

	r = do(t, e, http.MethodGet, "/api/v1/feed?type=flat", 3, "")
	require.Equal(t, http.StatusOK, r.Code)
	assert.Empty(t, items(t, r), "non followers get nothing")

	r = do(t, e, http.MethodGet, "/api/v1/feed?type=unknown", 2, "")
	assert.Equal(t, http.StatusBadRequest, r.Code)
	assert.Contains(t, r.Body["message"], "flat, notification")
}

func TestRebuildFeeds(t *testing.T) {
	ctx := context.Background()
	e, tl := newServerWithTimeline(t)
	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/v1/users/1/follow", 2, "").Code)
	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/v1/users/3/follow", 2, "").Code)
	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/v1/activities", 1, `{"verb":"add","object_id":1}`).Code)
	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/api/v1/activities", 3, `{"verb":"add","object_id":2}`).Code)

	require.NoError(t, tl.Delete(ctx, "feed_2"))
	r := do(t, e, http.MethodGet, "/api/v1/feed", 2, "")
	require.Empty(t, r.Body["data"])

	r = do(t, e, http.MethodPost, "/api/v1/feed/rebuild", 2, "")
	require.Equal(t, http.StatusOK, r.Code, r.Body)
	assert.Equal(t, float64(2), r.Body["data"].(map[string]any)["following"])

	r = do(t, e, http.MethodGet, "/api/v1/feed", 2, "")
	assert.Len(t, items(t, r), 2)

	r = do(t, e, http.MethodPost, "/api/v1/feed/rebuild", 2, "")
	require.Equal(t, http.StatusOK, r.Code)
	r = do(t, e, http.MethodGet, "/api/v1/feed", 2, "")
	assert.Len(t, items(t, r), 2, "rebuilding twice adds nothing")

	assert.Equal(t, http.StatusUnauthorized, do(t, e, http.MethodPost, "/api/v1/feed/rebuild", 0, "").Code)
}

func TestCreateActivity_Validation(t *testing.T) {
	e := newServer(t)

	tests := []struct {
		name string
		user int64
		body string
		code int
	}{
		{"unauthenticated", 0, `{"verb":"love","object_id":1}`, http.StatusUnauthorized},
		{"unknown verb", 1, `{"verb":"poke","object_id":1}`, http.StatusBadRequest},
		{"missing verb", 1, `{"object_id":1}`, http.StatusBadRequest},
		{"object id too large", 1, `{"verb":"love","object_id":10000000000}`, http.StatusBadRequest},
		{"pre epoch time", 1, `{"verb":"love","object_id":1,"time":"1960-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"bad json", 1, `{"verb":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := do(t, e, http.MethodPost, "/api/v1/activities", tt.user, tt.body)
			assert.Equal(t, tt.code, r.Code, r.Body)
		})
	}
}

func TestDeleteActivity(t *testing.T) {
	e := newServer(t)
	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/v1/users/1/follow", 2, "").Code)

	r := do(t, e, http.MethodPost, "/api/v1/activities", 1, `{"verb":"add","object_id":9}`)
	require.Equal(t, http.StatusCreated, r.Code)
	id := r.Body["data"].(map[string]any)["id"].(string)

	assert.Equal(t, http.StatusForbidden, do(t, e, http.MethodDelete, "/api/v1/activities/"+id, 2, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodDelete, "/api/v1/activities/abc", 1, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, e, http.MethodDelete, "/api/v1/activities/123", 1, "").Code)

	r = do(t, e, http.MethodDelete, "/api/v1/activities/"+id, 1, "")
	require.Equal(t, http.StatusOK, r.Code, r.Body)

	r = do(t, e, http.MethodGet, "/api/v1/feed", 2, "")
	assert.Empty(t, items(t, r))
}

func TestFollowCopiesHistory(t *testing.T) {
	e := newServer(t)
	r := do(t, e, http.MethodPost, "/api/v1/activities", 1, `{"verb":"comment","object_id":4,"extra_context":{"text":"first"}}`)
	require.Equal(t, http.StatusCreated, r.Code)

	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/v1/users/3/follow", 3, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, e, http.MethodPost, "/api/v1/users/1/follow", 3, `{"priority":"urgent"}`).Code)

	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/v1/users/1/follow", 3, "").Code)
	assert.Equal(t, http.StatusConflict, do(t, e, http.MethodPost, "/api/v1/users/1/follow", 3, "").Code)

	r = do(t, e, http.MethodGet, "/api/v1/feed", 3, "")
	require.Len(t, items(t, r), 1)

	require.Equal(t, http.StatusOK, do(t, e, http.MethodDelete, "/api/v1/users/1/follow", 3, "").Code)
	r = do(t, e, http.MethodGet, "/api/v1/feed", 3, "")
	assert.Empty(t, items(t, r))

	assert.Equal(t, http.StatusNotFound, do(t, e, http.MethodDelete, "/api/v1/users/1/follow", 3, "").Code)
}

func TestNotifications(t *testing.T) {
	e := newServer(t)
	require.Equal(t, http.StatusOK, do(t, e, http.MethodPost, "/api/v1/users/1/follow", 2, "").Code)

	for _, at := range []string{"2024-05-01T10:00:00Z", "2024-05-01T11:00:00Z"} {
		r := do(t, e, http.MethodPost, "/api/v1/activities", 1, `{"verb":"love","object_id":5,"time":"`+at+`"}`)
		require.Equal(t, http.StatusCreated, r.Code, r.Body)
	}

	r := do(t, e, http.MethodGet, "/api/v1/notifications", 2, "")
	require.Equal(t, http.StatusOK, r.Code)
	groups := items(t, r)
	require.Len(t, groups, 1)
	group := groups[0].(map[string]any)
	assert.Equal(t, float64(2), group["activity_count"])
	assert.Equal(t, float64(1), r.Body["unseen"])
	assert.Equal(t, float64(1), r.Body["unread"])

	r = do(t, e, http.MethodPut, "/api/v1/notifications/seen", 2, `{"groups":["`+group["group"].(string)+`"]}`)
	require.Equal(t, http.StatusOK, r.Code, r.Body)
	assert.Equal(t, float64(1), r.Body["data"].(map[string]any)["updated"])

	r = do(t, e, http.MethodPut, "/api/v1/notifications/read", 2, "")
	require.Equal(t, http.StatusOK, r.Code, r.Body)

	r = do(t, e, http.MethodGet, "/api/v1/notifications", 2, "")
	assert.Equal(t, float64(0), r.Body["unseen"])
	assert.Equal(t, float64(0), r.Body["unread"])

	assert.Equal(t, http.StatusUnauthorized, do(t, e, http.MethodGet, "/api/v1/notifications", 0, "").Code)
}
