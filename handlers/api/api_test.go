package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcpanel/middleware"
	"svcpanel/models"
	"svcpanel/panel"
	"svcpanel/storage"
	"svcpanel/token"
)

func newSettingsApp(t *testing.T, feed *FeedHandler) (*fiber.App, storage.SettingsStore) {
	t.Helper()
	store, err := storage.NewBoltSettingsStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewSettingsHandler(store, feed)
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Get("/api/settings", h.GetSettings)
	app.Put("/api/settings", h.UpdateSettings)
	app.Put("/api/settings/update", h.UpdateSettings)
	return app, store
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestGetSettingsDefaultsToAllFalse(t *testing.T) {
	app, _ := newSettingsApp(t, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.Settings
	decode(t, resp, &got)
	assert.Equal(t, models.Settings{}, got)
}

func TestUpdateSettings(t *testing.T) {
	for _, path := range []string{"/api/settings", "/api/settings/update"} {
		t.Run(path, func(t *testing.T) {
			app, store := newSettingsApp(t, nil)

			resp, err := app.Test(jsonRequest(http.MethodPut, path, `{"appointment":true,"pickup":false,"speakToHuman":true}`))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var got models.UpdateResponse
			decode(t, resp, &got)
			assert.True(t, got.Success)
			require.NotNil(t, got.Settings)
			assert.Equal(t, models.Settings{Appointment: true, SpeakToHuman: true}, got.Settings.Normalize())

			stored, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, models.Settings{Appointment: true, SpeakToHuman: true}, stored.Settings)
		})
	}
}

func TestUpdateSettingsCoercesMissingFields(t *testing.T) {
	app, store := newSettingsApp(t, nil)
	_, err := store.Save(context.Background(), models.Settings{Pickup: true, SpeakToHuman: true})
	require.NoError(t, err)

	resp, err := app.Test(jsonRequest(http.MethodPut, "/api/settings", `{"appointment":true}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Settings{Appointment: true}, stored.Settings)
}

func TestUpdateSettingsRejectsBadBody(t *testing.T) {
	app, _ := newSettingsApp(t, nil)

	resp, err := app.Test(jsonRequest(http.MethodPut, "/api/settings", `{"appointment":`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var got map[string]string
	decode(t, resp, &got)
	assert.Equal(t, "Invalid request body", got["error"])
}

func TestUpdateSettingsBroadcasts(t *testing.T) {
	feed := NewFeedHandler()
	app, _ := newSettingsApp(t, feed)

	id, events := feed.Subscribe()
	defer feed.Unsubscribe(id)

	resp, err := app.Test(jsonRequest(http.MethodPut, "/api/settings", `{"pickup":true}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-events:
		assert.Equal(t, "settings.updated", ev.Type)
		assert.Equal(t, models.Settings{Pickup: true}, ev.Settings)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event broadcast")
	}
}

func TestSettingsRequireToken(t *testing.T) {
	store, err := storage.NewBoltSettingsStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	tokens := token.NewService("secret", time.Hour)
	h := NewSettingsHandler(store, nil)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Get("/api/settings", middleware.BearerAuth(tokens, true), h.GetSettings)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := tokens.Issue("admin@example.com")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFeedSubscribeAndClose(t *testing.T) {
	feed := NewFeedHandler()
	id1, ch1 := feed.Subscribe()
	_, ch2 := feed.Subscribe()
	assert.Equal(t, 2, feed.Subscribers())

	feed.Broadcast(models.StoredSettings{Settings: models.Settings{Appointment: true}})
	assert.True(t, (<-ch1).Settings.Appointment)
	assert.True(t, (<-ch2).Settings.Appointment)

	feed.Unsubscribe(id1)
	feed.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open)

	feed.Close()
	_, open = <-ch2
	assert.False(t, open)
	assert.Zero(t, feed.Subscribers())
}

func TestFeedDropsEventsForSlowSubscribers(t *testing.T) {
	feed := NewFeedHandler()
	id, ch := feed.Subscribe()
	defer feed.Unsubscribe(id)

	for i := 0; i < 20; i++ {
		feed.Broadcast(models.StoredSettings{})
	}
	assert.Len(t, ch, cap(ch))
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	feed := NewFeedHandler()
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Get("/api/settings/ws", feed.UpgradeWebSocket, func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/settings/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	tokens := token.NewService("secret", time.Hour)
	auth := &panel.StaticAuthenticator{
		Email:    "admin@example.com",
		Password: "admin123",
		Issue:    tokens.Issue,
	}
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Post("/api/auth/login", NewAuthHandler(auth).Login)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"admin@example.com","password":"admin123"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ok models.LoginResponse
	decode(t, resp, &ok)
	assert.True(t, ok.Success)
	claims, err := tokens.Validate(ok.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", claims.Email)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"admin@example.com","password":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var bad models.LoginResponse
	decode(t, resp, &bad)
	assert.False(t, bad.Success)
	assert.Equal(t, panel.InvalidCredentialsMessage, bad.Message)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/auth/login", `nope`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginUnavailable(t *testing.T) {
	auth := panel.AuthFunc(func(ctx context.Context, email, password string) (panel.AuthResult, error) {
		return panel.AuthResult{}, errors.New("down")
	})
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Post("/api/auth/login", NewAuthHandler(auth).Login)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/auth/login", `{"email":"a","password":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetTranslations(t *testing.T) {
	app := fiber.New()
	app.Get("/api/i18n/:lang", (&I18nHandler{}).GetTranslations)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/i18n/en", nil))
	require.NoError(t, err)
	var en map[string]string
	decode(t, resp, &en)
	assert.Equal(t, "Enabled", en["status_enabled"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/i18n/xx", nil))
	require.NoError(t, err)
	var fallback map[string]string
	decode(t, resp, &fallback)
	assert.Equal(t, en, fallback)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/i18n/ja", nil))
	require.NoError(t, err)
	var ja map[string]string
	decode(t, resp, &ja)
	assert.NotEqual(t, en["status_enabled"], ja["status_enabled"])
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthAndReady(t *testing.T) {
	healthy := pingFunc(func(ctx context.Context) error { return nil })
	broken := pingFunc(func(ctx context.Context) error { return errors.New("no route") })

	h := NewHealthHandler(map[string]Pinger{"store": healthy, "settings-api": broken})
	app := fiber.New()
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), "no route")
}
