package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bazaar-market/escrow/internal/logging"
)

func TestRateLimitPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, c.Get("X-Test-User"))
		return c.Next()
	})
	app.Post("/orders", RateLimit(cache, "orders", 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(user string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/orders", nil)
		req.Header.Set("X-Test-User", user)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send("alice"); got != fiber.StatusCreated {
			t.Fatalf("request %d: expected 201 got %d", i, got)
		}
	}
	if got := send("alice"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", got)
	}
	if got := send("bob"); got != fiber.StatusCreated {
		t.Fatalf("other users must not be limited, got %d", got)
	}

	mr.FastForward(61 * time.Second)
	if got := send("alice"); got != fiber.StatusCreated {
		t.Fatalf("window should have reset, got %d", got)
	}
}

func TestRateLimitRepairsCounterWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	// a counter left behind by a lost EXPIRE
	if err := mr.Set("rl:orders:carol", "7"); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, "carol")
		return c.Next()
	})
	app.Post("/orders", RateLimit(cache, "orders", 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/orders", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.StatusCode)
	}
	if ttl := mr.TTL("rl:orders:carol"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected the counter to get a window TTL, got %s", ttl)
	}

	mr.FastForward(61 * time.Second)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/orders", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("window should have reset, got %d", resp.StatusCode)
	}
}
