package main

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"svcpanel/client"
	"svcpanel/config"
	"svcpanel/handlers/api"
	"svcpanel/handlers/web"
	"svcpanel/metrics"
	"svcpanel/middleware"
	"svcpanel/panel"
	"svcpanel/storage"
	"svcpanel/token"
	"svcpanel/utils"
	"svcpanel/views"
)

const eventsPath = "/api/settings/events"

// server is the settings service and the dashboard sharing one fiber app
type server struct {
	app      *fiber.App
	store    storage.SettingsStore
	registry *panel.Registry
	feed     *api.FeedHandler
}

func newServer(cfg *config.Config) (*server, error) {
	if err := cfg.EnsureJWTSecret(); err != nil {
		return nil, err
	}
	if cfg.JWT.Generated {
		utils.Log.Warn("jwt.secret is not set; using a generated secret, API tokens end with this process")
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}

	var tokens *token.Service
	if cfg.JWT.Secret != "" {
		tokens = token.NewService(cfg.JWT.Secret, cfg.JWT.TTL)
	}

	static := &panel.StaticAuthenticator{
		Email:        cfg.Admin.Email,
		Password:     cfg.Admin.Password,
		PasswordHash: []byte(cfg.Admin.PasswordHash),
	}
	if tokens != nil {
		static.Issue = tokens.Issue
	}

	settingsClient := client.New(cfg.API, cfg.Breaker, utils.Log)

	var gate panel.Authenticator = static
	if cfg.Auth.Mode == "remote" {
		gate = settingsClient
	}

	registry := panel.NewRegistry(func() *panel.Panel {
		return panel.New(settingsClient, gate,
			panel.WithSerializedWrites(cfg.Dashboard.SerializeWrites),
			panel.WithLogger(utils.Log),
		)
	}, cfg.Dashboard.IdleTimeout)

	sessions := session.New(session.Config{
		Expiration:     cfg.Session.Expiration,
		CookieSecure:   cfg.Server.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		KeyGenerator:   uuid.NewString,
	})

	app := fiber.New(fiber.Config{
		Views:        views.NewEngine(),
		ViewsLayout:  "layouts/main",
		ErrorHandler: middleware.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool { return c.Path() == eventsPath },
	}))
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline';",
	}))
	app.Use(middleware.LocaleMiddleware())

	csrf := middleware.DefaultCSRFConfig()
	csrf.CookieSecure = cfg.Server.CookieSecure
	csrf.Skipper = func(c *fiber.Ctx) bool { return strings.HasPrefix(c.Path(), "/api") }
	app.Use(middleware.CSRFProtection(csrf))

	// The dashboard reaches the settings service over loopback, and each of
	// its writes was already counted against the browser by dashLimiter.
	dashLimiter := middleware.RateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	apiLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Requests: cfg.RateLimit.Requests,
		Window:   cfg.RateLimit.Window,
		Next:     middleware.FromLoopback,
	})
	requireLogin := middleware.RequireLogin(sessions, registry)

	feed := api.NewFeedHandler()
	settingsHandler := api.NewSettingsHandler(store, feed)
	apiAuthHandler := api.NewAuthHandler(static)
	i18nHandler := &api.I18nHandler{}
	healthHandler := api.NewHealthHandler(map[string]api.Pinger{
		"store":        store,
		"settings_api": settingsClient,
	})

	webAuthHandler := web.NewAuthHandler(sessions, cfg, registry)
	dashboardHandler := web.NewDashboardHandler(sessions, registry)
	languageHandler := web.NewLanguageHandler(cfg.Server.CookieSecure)

	// Settings service
	apiRoutes := app.Group("/api")
	{
		bearer := func(c *fiber.Ctx) error { return c.Next() }
		if tokens != nil {
			bearer = middleware.BearerAuth(tokens, cfg.API.RequireToken)
		}

		apiRoutes.Post("/auth/login", apiAuthHandler.Login)
		apiRoutes.Get("/settings", bearer, settingsHandler.GetSettings)
		apiRoutes.Put("/settings", bearer, apiLimiter, settingsHandler.UpdateSettings)
		apiRoutes.Put("/settings/update", bearer, apiLimiter, settingsHandler.UpdateSettings)
		apiRoutes.Get("/settings/events", bearer, feed.HandleSSE)
		apiRoutes.Get("/settings/ws", bearer, feed.UpgradeWebSocket, websocket.New(feed.HandleWebSocket))
		apiRoutes.Get("/i18n/:lang", i18nHandler.GetTranslations)
	}

	// Dashboard
	app.Get("/login", webAuthHandler.ShowLogin)
	app.Post("/login", webAuthHandler.HandleLogin)
	app.Post("/logout", webAuthHandler.HandleLogout)
	app.Get("/", requireLogin, dashboardHandler.ShowDashboard)
	app.Post("/toggle/:field", requireLogin, dashLimiter, dashboardHandler.HandleToggle)
	app.Post("/refresh", requireLogin, dashLimiter, dashboardHandler.HandleRefresh)
	app.Post("/language", languageHandler.SetLanguage)

	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)

	if cfg.Metrics.Enabled {
		metrics.Register()
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// 404 Handler for undefined routes
	app.Use(func(c *fiber.Ctx) error {
		localizer, _ := c.Locals("localizer").(*i18n.Localizer)
		return utils.NotFoundError(utils.T(localizer, "error_404"), nil)
	})

	return &server{
		app:      app,
		store:    store,
		registry: registry,
		feed:     feed,
	}, nil
}

// Shutdown stops the feed and the app, then closes the store
func (s *server) Shutdown(timeout time.Duration) error {
	s.feed.Close()
	err := s.app.ShutdownWithTimeout(timeout)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}
