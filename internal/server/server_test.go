package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bazaar-market/escrow/internal/auth"
	"github.com/bazaar-market/escrow/internal/config"
	"github.com/bazaar-market/escrow/internal/listing"
	"github.com/bazaar-market/escrow/internal/logging"
	"github.com/bazaar-market/escrow/internal/metrics"
	"github.com/bazaar-market/escrow/internal/middleware"
	"github.com/bazaar-market/escrow/internal/store/memory"
)

const secret = "server-test-secret"

type testServer struct {
	t   *testing.T
	app *fiber.App
}

func newTestServer(t *testing.T, withRedis bool) (*testServer, *memory.Store) {
	t.Helper()
	cfg := config.Config{
		AppName:            "escrow-test",
		AppEnv:             "test",
		JWTSecret:          secret,
		Currency:           "USD",
		IdempotencyTTL:     time.Hour,
		TxMaxRetries:       2,
		TxRetryBaseDelay:   time.Millisecond,
		OrderLockExpiry:    time.Second,
		OrderRateLimit:     100,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: time.Second,
	}

	var cache redis.UniversalClient
	if withRedis {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		cache = client
		cfg.OrderLockEnabled = true
	}

	backend := memory.New()
	srv, err := New(cfg, backend, cache, metrics.New(), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testServer{t: t, app: srv.App()}, backend
}

func (s *testServer) do(method, path, subject, role, body string, headers ...string) (int, map[string]any, string) {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if subject != "" {
		tok, err := auth.NewVerifier(secret, "").Issue(subject, role, time.Hour)
		if err != nil {
			s.t.Fatalf("issue token: %v", err)
		}
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out, string(raw)
}

func TestServerEscrowFlow(t *testing.T) {
	for _, withRedis := range []bool{false, true} {
		name := "memory"
		if withRedis {
			name = "memory+redis"
		}
		t.Run(name, func(t *testing.T) {
			s, backend := newTestServer(t, withRedis)
			if err := backend.PutListing(context.Background(), listing.Listing{ID: "lst-1", SellerID: "seller", Price: 3000, Status: listing.StatusActive}); err != nil {
				t.Fatalf("put listing: %v", err)
			}

			status, _, raw := s.do(fiber.MethodPost, "/api/v1/admin/wallets/deposit", "ops", auth.RoleAdmin, `{"user_id":"buyer","amount":5000,"reference":"wire-1"}`)
			if status != fiber.StatusCreated {
				t.Fatalf("deposit: %d %s", status, raw)
			}

			status, body, raw := s.do(fiber.MethodPost, "/api/v1/orders", "buyer", auth.RoleUser, `{"listing_id":"lst-1"}`, middleware.IdempotencyKeyHeader, "order-1")
			if status != fiber.StatusCreated {
				t.Fatalf("create order: %d %s", status, raw)
			}
			id, _ := body["id"].(string)

			status, body, raw = s.do(fiber.MethodPost, "/api/v1/orders/"+id+"/confirm", "buyer", auth.RoleUser, "")
			if status != fiber.StatusOK || body["status"] != "completed" {
				t.Fatalf("confirm: %d %s", status, raw)
			}

			_, body, _ = s.do(fiber.MethodGet, "/api/v1/wallet/me", "seller", auth.RoleUser, "")
			balance, _ := body["balance"].(map[string]any)
			if balance["display"] != "30.00" {
				t.Fatalf("expected seller balance 30.00, got %v", body)
			}

			_, body, _ = s.do(fiber.MethodGet, "/api/v1/wallet/me", "buyer", auth.RoleUser, "")
			balance, _ = body["balance"].(map[string]any)
			if balance["display"] != "20.00" {
				t.Fatalf("expected buyer balance 20.00, got %v", body)
			}

			status, body, raw = s.do(fiber.MethodGet, "/api/v1/admin/wallets/buyer/audit", "ops", auth.RoleAdmin, "")
			if status != fiber.StatusOK || body["consistent"] != true {
				t.Fatalf("audit: %d %s", status, raw)
			}
		})
	}
}

func TestServerAccessControl(t *testing.T) {
	s, _ := newTestServer(t, false)

	if status, _, _ := s.do(fiber.MethodGet, "/api/v1/orders", "", "", ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _, _ := s.do(fiber.MethodPost, "/api/v1/admin/wallets/deposit", "buyer", auth.RoleUser, `{"user_id":"buyer","amount":1}`); status != fiber.StatusForbidden {
		t.Fatalf("expected 403 for non-admin deposit, got %d", status)
	}
	if status, _, _ := s.do(fiber.MethodGet, "/api/v1/ping", "", "", ""); status != fiber.StatusOK {
		t.Fatalf("expected ping 200, got %d", status)
	}
}

func TestServerHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, true)

	status, body, raw := s.do(fiber.MethodGet, "/healthz", "", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("healthz: %d %s", status, raw)
	}
	parts, _ := body["status"].(map[string]any)
	if parts["store"] != "ok" || parts["redis"] != "ok" || parts["breaker"] != "closed" {
		t.Fatalf("unexpected health: %v", parts)
	}

	status, _, raw = s.do(fiber.MethodGet, "/metrics", "", "", "")
	if status != fiber.StatusOK || !strings.Contains(raw, "go_goroutines") {
		t.Fatalf("metrics: %d", status)
	}
}
