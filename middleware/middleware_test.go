package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcpanel/models"
	"svcpanel/panel"
	"svcpanel/token"
)

func newApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestCSRFProtection(t *testing.T) {
	app := newApp()
	app.Use(CSRFProtection())
	app.Get("/form", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("csrf").(string))
	})
	app.Post("/submit", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/form", nil))
	require.NoError(t, err)
	tok := body(t, resp)
	require.NotEmpty(t, tok)

	var cookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == "csrf_token" {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, tok, cookie.Value)

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set("Accept", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.AddCookie(cookie)
		req.Header.Set("X-CSRF-Token", tok)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("form field", func(t *testing.T) {
		form := url.Values{"_csrf": {tok}}
		req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.AddCookie(cookie)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("mismatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.AddCookie(cookie)
		req.Header.Set("X-CSRF-Token", "forged")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestLocaleMiddleware(t *testing.T) {
	app := newApp()
	app.Use(LocaleMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("lang").(string))
	})

	tests := []struct {
		name   string
		target string
		accept string
		cookie string
		want   string
	}{
		{"default", "/", "", "", "en"},
		{"query", "/?lang=ja", "", "", "ja"},
		{"unsupported query falls back to header", "/?lang=fr", "ja-JP,ja;q=0.9", "", "ja"},
		{"cookie", "/", "", "ja", "ja"},
		{"accept-language", "/", "ja,en;q=0.5", "", "ja"},
		{"unmatched accept-language", "/", "de-DE", "", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "lang", Value: tt.cookie})
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, body(t, resp))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	app := newApp()
	app.Use(RateLimiter(2, time.Minute))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRateLimiterSkipsLoopback(t *testing.T) {
	app := fiber.New(fiber.Config{ProxyHeader: fiber.HeaderXForwardedFor})
	app.Use(NewRateLimiter(RateLimitConfig{Requests: 1, Window: time.Minute, Next: FromLoopback}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(fiber.HeaderXForwardedFor, ip)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do("127.0.0.1"))
		assert.Equal(t, http.StatusOK, do("::1"))
	}
	assert.Equal(t, http.StatusOK, do("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, do("203.0.113.7"))
}

func TestRateLimitersKeepSeparateBuckets(t *testing.T) {
	app := newApp()
	app.Get("/a", RateLimiter(1, time.Minute), func(c *fiber.Ctx) error { return c.SendString("a") })
	app.Get("/b", RateLimiter(1, time.Minute), func(c *fiber.Ctx) error { return c.SendString("b") })

	for _, path := range []string{"/a", "/b"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestBearerAuth(t *testing.T) {
	tokens := token.NewService("secret", time.Hour)
	good, err := tokens.Issue("admin@example.com")
	require.NoError(t, err)

	for _, required := range []bool{true, false} {
		app := newApp()
		app.Use(BearerAuth(tokens, required))
		app.Get("/api/x", func(c *fiber.Ctx) error {
			email, _ := c.Locals("email").(string)
			return c.SendString("hello " + email)
		})

		do := func(header string) *http.Response {
			req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			return resp
		}

		resp := do("Bearer " + good)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "hello admin@example.com", body(t, resp))

		assert.Equal(t, http.StatusUnauthorized, do("Bearer nope").StatusCode)
		assert.Equal(t, http.StatusUnauthorized, do("Basic abc").StatusCode)

		if required {
			assert.Equal(t, http.StatusUnauthorized, do("").StatusCode)
		} else {
			assert.Equal(t, http.StatusOK, do("").StatusCode)
		}
	}
}

type staticAPI struct{}

func (staticAPI) FetchSettings(ctx context.Context, token string) (models.Settings, error) {
	return models.Settings{}, nil
}

func (staticAPI) PersistSettings(ctx context.Context, token string, s models.Settings) (*models.Settings, error) {
	return &s, nil
}

func TestRequireLogin(t *testing.T) {
	store := session.New()
	auth := &panel.StaticAuthenticator{Email: "admin@example.com", Password: "admin123"}
	reg := panel.NewRegistry(func() *panel.Panel { return panel.New(staticAPI{}, auth) }, time.Hour)

	app := newApp()
	app.Get("/login-as", func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			return err
		}
		if err := reg.Get(sess.ID()).SubmitLogin(c.UserContext(), "admin@example.com", "admin123"); err != nil {
			return err
		}
		sess.Set("email", "admin@example.com")
		return sess.Save()
	})
	app.Get("/", RequireLogin(store, reg), func(c *fiber.Ctx) error {
		if PanelFrom(c) == nil {
			return c.SendStatus(http.StatusInternalServerError)
		}
		return c.SendString("dashboard")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/login-as", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dashboard", body(t, resp))
}
