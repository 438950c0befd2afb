package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/vcpool/internal/utils"
)

const secret = "test-secret"

func protectedEcho() *echo.Echo {
	e := echo.New()
	g := e.Group("/v1", JWTAuth(secret), RequireRole(RoleAdmin))
	g.GET("/whoami", func(c echo.Context) error {
		id, err := UserID(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, echo.Map{"id": id})
	})
	return e
}

func call(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	e := protectedEcho()
	admin, err := utils.NewAccessToken(secret, 42, RoleAdmin, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	investor, _ := utils.NewAccessToken(secret, 7, RoleInvestor, time.Minute)
	expired, _ := utils.NewAccessToken(secret, 42, RoleAdmin, -time.Minute)
	forged, _ := utils.NewAccessToken("other-secret", 42, RoleAdmin, time.Minute)

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"admin", admin.Token, http.StatusOK},
		{"wrong role", investor.Token, http.StatusForbidden},
		{"missing", "", http.StatusUnauthorized},
		{"expired", expired.Token, http.StatusUnauthorized},
		{"bad signature", forged.Token, http.StatusUnauthorized},
		{"garbage", "not.a.jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := call(e, tc.token)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
			if tc.want == http.StatusOK && rec.Body.String() != "{\"id\":42}\n" {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestUserIDConversions(t *testing.T) {
	e := echo.New()
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{float64(12), 12, true},
		{"34", 34, true},
		{int64(5), 5, true},
		{float64(1.5), 0, false},
		{"-3", 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.Set("user_id", tc.in)
		got, err := UserID(c)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("UserID(%v) = %d, %v", tc.in, got, err)
		}
	}
}
