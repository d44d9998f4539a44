package deposit_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chickfarms/chickfarms-api/internal/domain/deposit"
	"github.com/chickfarms/chickfarms-api/internal/domain/user"
	"github.com/chickfarms/chickfarms-api/internal/middleware"
	"github.com/chickfarms/chickfarms-api/internal/pkg/jwt"
	"github.com/chickfarms/chickfarms-api/internal/pkg/nowpayments"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func newRouter(f *fixture) (http.Handler, *jwt.Service) {
	jwtSvc := jwt.NewService("test-secret", time.Hour)
	auth := middleware.Auth(jwtSvc)
	h := deposit.NewHandler(f.svc)

	r := chi.NewRouter()
	r.Mount("/api/v1/deposits", h.Routes(auth))
	r.Mount("/api/admin/deposits", h.AdminRoutes(auth))
	r.Mount("/webhooks", h.WebhookRoutes())
	return r, jwtSvc
}

func do(t *testing.T, h http.Handler, method, path, token string, body []byte, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func token(t *testing.T, svc *jwt.Service, id uuid.UUID, role string) string {
	t.Helper()
	tok, err := svc.GenerateAccessToken(id, role)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func TestHandler_CreateAndPoll(t *testing.T) {
	f := newFixture(t)
	router, jwtSvc := newRouter(f)
	u := f.store.AddUser(&user.User{Username: "player"})
	tok := token(t, jwtSvc, u.ID, jwt.RolePlayer)

	w, env := do(t, router, http.MethodPost, "/api/v1/deposits", tok, []byte(`{"amount":"50"}`), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var dep deposit.DepositResponse
	if err := json.Unmarshal(env.Data, &dep); err != nil {
		t.Fatalf("decode deposit: %v", err)
	}

	f.gateway.set(dep.TransactionID, nowpayments.StatusFinished)
	w, env = do(t, router, http.MethodGet, "/api/v1/deposits/"+dep.TransactionID+"/status", tok, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var st deposit.StatusResponse
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status != "completed" {
		t.Fatalf("expected completed, got %s", st.Status)
	}

	other := token(t, jwtSvc, uuid.New(), jwt.RolePlayer)
	w, _ = do(t, router, http.MethodGet, "/api/v1/deposits/"+dep.TransactionID+"/status", other, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign deposit, got %d", w.Code)
	}
}

func TestHandler_PollHidesUplineReferrers(t *testing.T) {
	f := newFixture(t)
	router, jwtSvc := newRouter(f)
	upline := f.store.AddUser(&user.User{Username: "upline", ReferralCode: "UPLINE"})
	ref := "UPLINE"
	u := f.store.AddUser(&user.User{Username: "player", ReferredBy: &ref})
	f.store.AddPendingDeposit(u.ID, "5150", decimal.NewFromInt(100))
	f.gateway.set("5150", nowpayments.StatusFinished)

	w, env := do(t, router, http.MethodGet, "/api/v1/deposits/5150/status", token(t, jwtSvc, u.ID, jwt.RolePlayer), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("referrer_id")) || bytes.Contains(w.Body.Bytes(), []byte(upline.ID.String())) {
		t.Fatalf("poll response exposes upline: %s", w.Body.String())
	}
	var st deposit.StatusResponse
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Settlement == nil || !st.Settlement.BonusAmount.Equal(decimal.NewFromInt(10)) || !st.Settlement.IsFirstDeposit {
		t.Fatalf("expected player settlement, got %+v", st.Settlement)
	}
	if got := f.store.User(upline.ID).USDTBalance; !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected upline commission 10, got %s", got)
	}

	// The admin view keeps the cascade.
	f.store.AddPendingDeposit(u.ID, "5151", decimal.NewFromInt(20))
	w, _ = do(t, router, http.MethodPost, "/api/admin/deposits/5151/approve", token(t, jwtSvc, uuid.New(), jwt.RoleAdmin), nil, nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(upline.ID.String())) {
		t.Fatalf("expected admin response with referrer ids, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	f := newFixture(t)
	router, jwtSvc := newRouter(f)
	tok := token(t, jwtSvc, uuid.New(), jwt.RolePlayer)

	w, env := do(t, router, http.MethodPost, "/api/v1/deposits", tok, []byte(`{"amount":"-1","pay_currency":"doge"}`), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if env.Error == nil || env.Error.Details["amount"] == "" || env.Error.Details["pay_currency"] == "" {
		t.Fatalf("expected field errors, got %+v", env.Error)
	}
}

func TestHandler_AdminApproveRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	router, jwtSvc := newRouter(f)
	u := f.store.AddUser(&user.User{Username: "player"})
	f.store.AddPendingDeposit(u.ID, "4242", decimal.NewFromInt(100))

	w, _ := do(t, router, http.MethodPost, "/api/admin/deposits/4242/approve", token(t, jwtSvc, u.ID, jwt.RolePlayer), nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for player, got %d", w.Code)
	}

	admin := token(t, jwtSvc, uuid.New(), jwt.RoleAdmin)
	w, env := do(t, router, http.MethodPost, "/api/admin/deposits/4242/approve", admin, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res deposit.SettleResponse
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.AlreadyFinalized || res.Result == nil || !res.Result.BonusAmount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected first approval: %+v", res)
	}

	w, env = do(t, router, http.MethodPost, "/api/admin/deposits/4242/approve", admin, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", w.Code)
	}
	res = deposit.SettleResponse{}
	_ = json.Unmarshal(env.Data, &res)
	if !res.AlreadyFinalized || res.Result != nil {
		t.Fatalf("repeat approval must be a no-op: %+v", res)
	}

	w, _ = do(t, router, http.MethodPost, "/api/admin/deposits/4242/reject", admin, []byte(`{"reason":"late"}`), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 rejecting a completed deposit, got %d", w.Code)
	}

	w, _ = do(t, router, http.MethodPost, "/api/admin/deposits/nope/approve", admin, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown deposit, got %d", w.Code)
	}
}

func TestHandler_Webhook(t *testing.T) {
	f := newFixture(t)
	router, _ := newRouter(f)
	u := f.store.AddUser(&user.User{Username: "player"})
	f.store.AddPendingDeposit(u.ID, "31337", decimal.NewFromInt(20))

	body, sig := signedIPN(t, `{"payment_id":31337,"payment_status":"finished"}`)

	w, _ := do(t, router, http.MethodPost, "/webhooks/nowpayments", "", body, map[string]string{nowpayments.SignatureHeader: "bad"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", w.Code)
	}

	w, env := do(t, router, http.MethodPost, "/webhooks/nowpayments", "", body, map[string]string{nowpayments.SignatureHeader: sig})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res deposit.IPNResult
	_ = json.Unmarshal(env.Data, &res)
	if res.Action != deposit.IPNSettled {
		t.Fatalf("expected settled, got %+v", res)
	}
	if got := f.store.User(u.ID).USDTBalance; !got.Equal(decimal.NewFromInt(22)) {
		t.Fatalf("expected balance 22, got %s", got)
	}
}
