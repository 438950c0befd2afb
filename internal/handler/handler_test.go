package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/vcpool/internal/config"
	"github.com/iliyamo/vcpool/internal/handler"
	"github.com/iliyamo/vcpool/internal/middleware"
	"github.com/iliyamo/vcpool/internal/router"
	"github.com/iliyamo/vcpool/internal/service"
	"github.com/iliyamo/vcpool/internal/storage"
	"github.com/iliyamo/vcpool/internal/testutil"
	"github.com/iliyamo/vcpool/internal/utils"
)

const secret = "handler-test-secret"

type api struct {
	t     *testing.T
	e     *echo.Echo
	admin string
}

// newAPI serves the full route table.  authed middlewares are mounted in
// the investor and admin groups the way cmd/server mounts the rate limiter.
func newAPI(t *testing.T, authed ...echo.MiddlewareFunc) *api {
	t.Helper()
	db, d := testutil.OpenDB(t)
	store, err := storage.NewLocalStore(t.TempDir(), 1<<20, []string{"image/png", "application/pdf"})
	if err != nil {
		t.Fatal(err)
	}
	svc := service.New(db, d, service.Options{Evidence: store})
	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewPublicHandler(svc.Pools))
	router.RegisterInvestor(e, handler.NewInvestorHandler(svc), secret, authed...)
	router.RegisterAdmin(e, handler.NewAdminHandler(svc, store), secret, authed...)
	return &api{t: t, e: e, admin: token(t, 1, middleware.RoleAdmin)}
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok.Token
}

func (a *api) do(method, path, tok string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *api) json(method, path, tok string, payload any) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	return a.do(method, path, tok, body, echo.MIMEApplicationJSON)
}

// multipartBody builds a form with payment_method and an optional file.
func multipartBody(t *testing.T, method, fileType string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if method != "" {
		_ = w.WriteField("payment_method", method)
	}
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="evidence"; filename="receipt.png"`)
		h.Set("Content-Type", fileType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, code int, out any) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("status = %d, want %d: %s", rec.Code, code, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
}

type idBody struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// openPool creates and publishes a two-seat pool through the admin API.
func (a *api) openPool() int64 {
	var p idBody
	expect(a.t, a.json(http.MethodPost, "/v1/admin/pools", a.admin, map[string]any{"name": "Seed round"}),
		http.StatusCreated, &p)
	expect(a.t, a.json(http.MethodPatch, fmt.Sprintf("/v1/admin/pools/%d", p.ID), a.admin, map[string]any{
		"max_members":              2,
		"contribution_amount":      "1000",
		"coin_type":                "usdt",
		"pool_fee_percent":         "2.5",
		"payment_window_minutes":   30,
		"admin_settlement_address": "TXaddr",
	}), http.StatusOK, nil)
	expect(a.t, a.json(http.MethodPost, fmt.Sprintf("/v1/admin/pools/%d/publish", p.ID), a.admin, nil),
		http.StatusOK, &p)
	if p.Status != "open" {
		a.t.Fatalf("published status = %q", p.Status)
	}
	return p.ID
}

func TestInvestorFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	poolID := a.openPool()
	alice := token(t, 10, middleware.RoleInvestor)

	var res idBody
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/pools/%d/reservations", poolID), alice,
		map[string]string{"payment_method": "transfer"}), http.StatusCreated, &res)

	// second hold for the same user
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/pools/%d/reservations", poolID), alice,
		map[string]string{"payment_method": "transfer"}), http.StatusConflict, nil)

	body, ct := multipartBody(t, "transfer", "image/png", []byte("\x89PNG fake receipt"))
	var sub struct {
		ID                int64   `json:"id"`
		Status            string  `json:"status"`
		TotalAmount       string  `json:"total_amount"`
		EvidenceReference *string `json:"evidence_reference"`
	}
	expect(t, a.do(http.MethodPost, fmt.Sprintf("/v1/reservations/%d/submission", res.ID), alice, body, ct),
		http.StatusCreated, &sub)
	if sub.Status != "processing" || sub.TotalAmount != "1025" || sub.EvidenceReference == nil {
		t.Fatalf("submission = %+v", sub)
	}

	evidence := a.do(http.MethodGet, "/v1/admin/evidence/"+*sub.EvidenceReference, a.admin, nil, "")
	expect(t, evidence, http.StatusOK, nil)
	if evidence.Body.String() != "\x89PNG fake receipt" {
		t.Errorf("evidence body = %q", evidence.Body.String())
	}

	var m struct {
		SharePercent string `json:"share_percent"`
	}
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/admin/submissions/%d/approve", sub.ID), a.admin, nil),
		http.StatusOK, &m)
	if m.SharePercent != "50" {
		t.Errorf("share = %s, want 50", m.SharePercent)
	}

	var status struct {
		PoolStatus  string  `json:"pool_status"`
		Reservation *idBody `json:"reservation"`
		Membership  *struct {
			ID int64 `json:"id"`
		} `json:"membership"`
		SecondsRemaining *int64 `json:"seconds_remaining"`
	}
	expect(t, a.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d/status", poolID), alice, nil, ""), http.StatusOK, &status)
	if status.Reservation == nil || status.Reservation.Status != "converted" || status.Membership == nil || status.SecondsRemaining != nil {
		t.Fatalf("status = %+v", status)
	}

	var view struct {
		Verified  int `json:"verified_members_count"`
		Available int `json:"available_seats"`
	}
	expect(t, a.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d", poolID), "", nil, ""), http.StatusOK, &view)
	if view.Verified != 1 || view.Available != 1 {
		t.Errorf("public view = %+v", view)
	}

	var started idBody
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/admin/pools/%d/start", poolID), a.admin, nil), http.StatusOK, &started)
	if started.Status != "active" {
		t.Errorf("started status = %q", started.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	poolID := a.openPool()
	bob := token(t, 20, middleware.RoleInvestor)
	carol := token(t, 21, middleware.RoleInvestor)

	var res idBody
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/pools/%d/reservations", poolID), bob,
		map[string]string{"payment_method": "transfer"}), http.StatusCreated, &res)

	cases := []struct {
		name string
		rec  *httptest.ResponseRecorder
		want int
	}{
		{"bad payment method", a.json(http.MethodPost, fmt.Sprintf("/v1/pools/%d/reservations", poolID), carol,
			map[string]string{"payment_method": "cash"}), http.StatusBadRequest},
		{"unknown pool", a.json(http.MethodPost, "/v1/pools/999/reservations", carol,
			map[string]string{"payment_method": "hosted"}), http.StatusNotFound},
		{"invalid id", a.do(http.MethodGet, "/v1/pools/abc", "", nil, ""), http.StatusBadRequest},
		{"foreign reservation", a.do(http.MethodPost, fmt.Sprintf("/v1/reservations/%d/submission", res.ID), carol,
			strings.NewReader("payment_method=transfer"), echo.MIMEApplicationForm), http.StatusForbidden},
		{"investor on admin route", a.json(http.MethodGet, "/v1/admin/pools", bob, nil), http.StatusForbidden},
		{"no token", a.json(http.MethodPost, fmt.Sprintf("/v1/pools/%d/reservations", poolID), "", nil), http.StatusUnauthorized},
		{"start without members", a.json(http.MethodPost, fmt.Sprintf("/v1/admin/pools/%d/start", poolID), a.admin, nil), http.StatusConflict},
		{"evidence key traversal", a.do(http.MethodGet, "/v1/admin/evidence/..%2Fsecret", a.admin, nil, ""), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if tc.rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d (%s)", tc.name, tc.rec.Code, tc.want, tc.rec.Body.String())
		}
	}

	// disallowed content type leaves the submission pending
	body, ct := multipartBody(t, "transfer", "text/html", []byte("<html>"))
	expect(t, a.do(http.MethodPost, fmt.Sprintf("/v1/reservations/%d/submission", res.ID), bob, body, ct),
		http.StatusUnsupportedMediaType, nil)

	var sub idBody
	expect(t, a.do(http.MethodPost, fmt.Sprintf("/v1/reservations/%d/submission", res.ID), bob,
		strings.NewReader("payment_method=transfer"), echo.MIMEApplicationForm), http.StatusCreated, &sub)
	if sub.Status != "pending" {
		t.Fatalf("retried submission status = %q", sub.Status)
	}

	expect(t, a.do(http.MethodPost, fmt.Sprintf("/v1/submissions/%d/evidence", sub.ID), bob, nil, ""),
		http.StatusBadRequest, nil)
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/admin/submissions/%d/reject", sub.ID), a.admin,
		map[string]string{"reason": "  "}), http.StatusBadRequest, nil)

	var rejected struct {
		Status          string `json:"status"`
		RejectionReason string `json:"rejection_reason"`
	}
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/admin/submissions/%d/reject", sub.ID), a.admin,
		map[string]string{"reason": "no transfer received"}), http.StatusOK, &rejected)
	if rejected.Status != "rejected" || rejected.RejectionReason != "no transfer received" {
		t.Errorf("rejected = %+v", rejected)
	}

	// the seat came back, and the rejected hold cannot submit any more
	expect(t, a.do(http.MethodPost, fmt.Sprintf("/v1/reservations/%d/submission", res.ID), bob,
		strings.NewReader("payment_method=transfer"), echo.MIMEApplicationForm), http.StatusGone, nil)
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/pools/%d/reservations", poolID), bob,
		map[string]string{"payment_method": "hosted"}), http.StatusCreated, nil)
}

func TestPublicCatalogueHidesDrafts(t *testing.T) {
	a := newAPI(t)
	openID := a.openPool()
	var draft idBody
	expect(t, a.json(http.MethodPost, "/v1/admin/pools", a.admin, map[string]any{"name": "Later"}), http.StatusCreated, &draft)

	var list struct {
		Items []idBody `json:"items"`
	}
	expect(t, a.do(http.MethodGet, "/v1/pools", "", nil, ""), http.StatusOK, &list)
	if len(list.Items) != 1 || list.Items[0].ID != openID {
		t.Fatalf("public list = %+v", list.Items)
	}
	expect(t, a.do(http.MethodGet, "/v1/pools?status=draft", "", nil, ""), http.StatusOK, &list)
	if len(list.Items) != 0 {
		t.Fatalf("draft filter leaked %+v", list.Items)
	}
	expect(t, a.do(http.MethodGet, fmt.Sprintf("/v1/pools/%d", draft.ID), "", nil, ""), http.StatusNotFound, nil)

	expect(t, a.do(http.MethodGet, "/v1/admin/pools?status=draft", a.admin, nil, ""), http.StatusOK, &list)
	if len(list.Items) != 1 || list.Items[0].ID != draft.ID {
		t.Fatalf("admin draft list = %+v", list.Items)
	}
	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/admin/pools/%d/publish", draft.ID), a.admin, nil),
		http.StatusBadRequest, nil)
}

// keyRecorder is a Redis script runner that admits every request and
// remembers the bucket keys it was asked for.
type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyRecorder) run(keys []string) *redis.Cmd {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, keys[0])
	return redis.NewCmdResult([]interface{}{int64(1), int64(9), int64(0)}, nil)
}

func (k *keyRecorder) Eval(_ context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	return k.run(keys)
}

func (k *keyRecorder) EvalSha(_ context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	return k.run(keys)
}

func (k *keyRecorder) EvalRO(_ context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	return k.run(keys)
}

func (k *keyRecorder) EvalShaRO(_ context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	return k.run(keys)
}

func (k *keyRecorder) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (k *keyRecorder) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestRateLimitSeesAuthenticatedCaller(t *testing.T) {
	rec := &keyRecorder{}
	cfg := config.RateLimitSettings{Enabled: true, Capacity: 10, RefillEvery: time.Second, Prefix: "vcpool:rl"}
	a := newAPI(t, middleware.RateLimit(cfg, rec))
	poolID := a.openPool()

	expect(t, a.json(http.MethodPost, fmt.Sprintf("/v1/pools/%d/reservations", poolID), token(t, 42, middleware.RoleInvestor),
		map[string]string{"payment_method": "transfer"}), http.StatusCreated, nil)

	want := fmt.Sprintf("vcpool:rl:42:POST /v1/pools/:id/reservations:%d", poolID)
	found := false
	for _, k := range rec.keys {
		if k == want {
			found = true
		}
		if strings.Contains(k, "anon") {
			t.Errorf("bucket %q has no caller", k)
		}
	}
	if !found {
		t.Fatalf("keys = %v, want %q", rec.keys, want)
	}
	if !strings.HasPrefix(rec.keys[0], "vcpool:rl:1:POST /v1/admin/pools") {
		t.Errorf("admin bucket = %q", rec.keys[0])
	}
}
