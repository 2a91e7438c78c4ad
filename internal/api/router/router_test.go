package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uzlex/consult-platform/internal/booking"
	"github.com/uzlex/consult-platform/internal/payments"
	"github.com/uzlex/consult-platform/pkg/logging"
)

type noopProcessor struct{}

func (noopProcessor) ProcessCallback(context.Context, *payments.Callback) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.Default()
	click := payments.NewClickAdapter("merchant", "service", "click-secret", "https://example.com/return", 0, logger)

	cfg := &Config{
		Logger:          logger,
		BookingHandler:  booking.NewHandler(nil, logger),
		ClickWebhook:    payments.NewClickWebhookHandler(click, noopProcessor{}, nil, logger),
		AdminHandler:    nil,
		AdminAuthSecret: "admin-secret",
	}
	return New(cfg)
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/consultations/abc/complete", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterAdminRejectsNonAdminRole(t *testing.T) {
	router := newTestRouter(t)

	claims := struct {
		Role string `json:"role"`
		jwt.RegisteredClaims
	}{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("admin-secret"))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/consultations/abc/complete", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
}

func TestRouterClickWebhookRejectsBadSignature(t *testing.T) {
	router := newTestRouter(t)

	form := url.Values{}
	form.Set("click_trans_id", "1")
	form.Set("merchant_trans_id", "not-a-payment")
	form.Set("amount", "50000.00")
	form.Set("action", "1")
	form.Set("error", "0")
	form.Set("sign_time", "2025-06-01 12:00:00")
	form.Set("sign_string", "bogus")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/click", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterUnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}
