package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcpanel/config"
	"svcpanel/models"
	"svcpanel/utils"
)

func TestMain(m *testing.M) {
	utils.Log = utils.NewLoggerTo(io.Discard, utils.ERROR)
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Admin.Email = "admin@example.com"
	cfg.Admin.Password = "admin123"
	cfg.Storage.Path = t.TempDir()
	cfg.API.BaseURL = "http://127.0.0.1:3000/api"
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	base := "http://" + ln.Addr().String()
	cfg.API.BaseURL = base + "/api"

	srv, err := newServer(cfg)
	require.NoError(t, err)
	go func() { _ = srv.app.Listener(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown(time.Second) })
	return base
}

// browser logs in through the login form and keeps the session and CSRF
// cookies
type browser struct {
	t    *testing.T
	base string
	http *http.Client
	csrf string
}

func newBrowser(t *testing.T, base string) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) login(email, password string) *http.Response {
	b.t.Helper()
	resp, err := b.http.Get(b.base + "/login")
	require.NoError(b.t, err)
	resp.Body.Close()
	require.Equal(b.t, http.StatusOK, resp.StatusCode)

	u, err := url.Parse(b.base)
	require.NoError(b.t, err)
	for _, ck := range b.http.Jar.Cookies(u) {
		if ck.Name == "csrf_token" {
			b.csrf = ck.Value
		}
	}
	require.NotEmpty(b.t, b.csrf)

	form := url.Values{"email": {email}, "password": {password}, "_csrf": {b.csrf}}
	resp, err = b.http.PostForm(b.base+"/login", form)
	require.NoError(b.t, err)
	resp.Body.Close()
	return resp
}

func (b *browser) toggle(field models.Field) (int, toggleReply) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+"/toggle/"+string(field), nil)
	require.NoError(b.t, err)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CSRF-Token", b.csrf)

	resp, err := b.http.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	var got toggleReply
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusBadGateway {
		require.NoError(b.t, json.NewDecoder(resp.Body).Decode(&got))
	}
	return resp.StatusCode, got
}

type toggleReply struct {
	Success  bool            `json:"success"`
	Settings models.Settings `json:"settings"`
	State    string          `json:"state"`
}

func TestTogglesWithinLimitCommitThroughFullStack(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Requests = 4
	cfg.RateLimit.Window = time.Minute
	base := startServer(t, cfg)

	b := newBrowser(t, base)
	resp := b.login("admin@example.com", "admin123")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	want := false
	for i := 0; i < cfg.RateLimit.Requests; i++ {
		want = !want
		code, got := b.toggle(models.FieldAppointment)
		require.Equal(t, http.StatusOK, code, "toggle %d", i+1)
		assert.True(t, got.Success, "toggle %d", i+1)
		assert.Equal(t, "committed", got.State)
		assert.Equal(t, want, got.Settings.Appointment)
	}

	code, _ := b.toggle(models.FieldAppointment)
	assert.Equal(t, http.StatusTooManyRequests, code, "the dashboard limit still applies to the browser")
}

func TestFailedLoginThroughFullStack(t *testing.T) {
	base := startServer(t, testConfig(t))

	b := newBrowser(t, base)
	resp := b.login("admin@example.com", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSettingsAPIRequiresTokenByDefault(t *testing.T) {
	srv, err := newServer(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(time.Second) })

	put := func(authorization string) *http.Response {
		req := httptest.NewRequest(http.MethodPut, "/api/settings",
			strings.NewReader(`{"appointment":true,"pickup":true,"speakToHuman":true}`))
		req.Header.Set("Content-Type", "application/json")
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		resp, err := srv.app.Test(req)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, put("").StatusCode)

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	login := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"admin@example.com","password":"admin123"}`))
	login.Header.Set("Content-Type", "application/json")
	resp, err = srv.app.Test(login)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res models.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.NotEmpty(t, res.Token)

	assert.Equal(t, http.StatusOK, put("Bearer "+res.Token).StatusCode)
}

func TestLogoutIsPostOnly(t *testing.T) {
	srv, err := newServer(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(time.Second) })

	resp, err := srv.app.Test(httptest.NewRequest(http.MethodGet, "/logout", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = srv.app.Test(httptest.NewRequest(http.MethodPost, "/logout", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "logout needs the CSRF token")
}
