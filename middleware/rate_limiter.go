package middleware

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures a per-IP limiter
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// Next skips the limiter when it returns true
	Next func(c *fiber.Ctx) bool
}

// RateLimiter allows requests per window for each client IP. Idle clients
// are forgotten after ten minutes.
func RateLimiter(requests int, window time.Duration) fiber.Handler {
	return NewRateLimiter(RateLimitConfig{Requests: requests, Window: window})
}

// FromLoopback reports whether the request came from this host
func FromLoopback(c *fiber.Ctx) bool {
	ip := net.ParseIP(c.IP())
	return ip != nil && ip.IsLoopback()
}

// NewRateLimiter builds a limiter from cfg. Each call keeps its own buckets.
func NewRateLimiter(cfg RateLimitConfig) fiber.Handler {
	requests, window := cfg.Requests, cfg.Window
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		clients   = make(map[string]*client)
		mu        sync.Mutex
		lastSweep = time.Now()
		every     = rate.Every(window / time.Duration(requests))
	)

	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}

		ip := c.IP()
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > 5*time.Minute {
			for key, cl := range clients {
				if now.Sub(cl.lastSeen) > 10*time.Minute {
					delete(clients, key)
				}
			}
			lastSweep = now
		}
		cl, exists := clients[ip]
		if !exists {
			cl = &client{limiter: rate.NewLimiter(every, requests)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		mu.Unlock()

		if r := cl.limiter.Reserve(); !r.OK() || r.Delay() > 0 {
			delay := r.Delay()
			r.Cancel()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(delay.Seconds())+1))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}
