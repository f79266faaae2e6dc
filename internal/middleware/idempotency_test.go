package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bazaar-market/escrow/internal/logging"
)

func setupTestApp(t *testing.T, cfg IdempotencyConfig) (*fiber.App, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var calls int32
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalUserID, c.Get("X-Test-User", "user-1"))
		return c.Next()
	})
	app.Use(Idempotency(cache, cfg, logging.Discard()))
	app.Post("/orders", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	app.Post("/other", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/fail", func(c *fiber.Ctx) error {
		atomic.AddInt32(&calls, 1)
		return fiber.NewError(fiber.StatusServiceUnavailable, "down")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, key, user string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body), resp.Header.Get("Idempotent-Replayed")
}

func TestIdempotencyRequiresHeaderWhenConfigured(t *testing.T) {
	app, _ := setupTestApp(t, IdempotencyConfig{TTL: time.Minute, Required: true})

	status, _, _ := post(t, app, "/orders", "", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyOptionalWithoutHeader(t *testing.T) {
	app, calls := setupTestApp(t, IdempotencyConfig{TTL: time.Minute})

	post(t, app, "/orders", "", "")
	post(t, app, "/orders", "", "")
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", got)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t, IdempotencyConfig{TTL: time.Minute})

	status, payload, _ := post(t, app, "/orders", "abc123", "")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, cached, replayed := post(t, app, "/orders", "abc123", "")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if replayed != "true" {
		t.Fatalf("expected replay header")
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	app, calls := setupTestApp(t, IdempotencyConfig{TTL: time.Minute})

	post(t, app, "/orders", "same", "alice")
	post(t, app, "/orders", "same", "bob")
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected one execution per user, got %d", got)
	}
}

func TestIdempotencyRejectsKeyReuseAcrossEndpoints(t *testing.T) {
	app, _ := setupTestApp(t, IdempotencyConfig{TTL: time.Minute})

	post(t, app, "/orders", "k", "")
	status, _, _ := post(t, app, "/other", "k", "")
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	app, calls := setupTestApp(t, IdempotencyConfig{TTL: time.Minute})

	for i := 0; i < 2; i++ {
		status, _, _ := post(t, app, "/fail", "retry-me", "")
		if status != fiber.StatusServiceUnavailable {
			t.Fatalf("expected %d got %d", fiber.StatusServiceUnavailable, status)
		}
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected failed request to be retried, ran %d times", got)
	}
}
