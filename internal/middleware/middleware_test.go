package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const secret = "middleware-test-secret"

func sign(t *testing.T, claims JWTClaims, method jwt.SigningMethod) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newRouter(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(log, "/health"), Recovery(log), RequestID())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	api := r.Group("/api", JWTAuth(secret))
	api.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": UserID(c), "factory": Factory(c)})
	})
	api.POST("/approve", RequireRole("approver", "supervisor"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter(zap.NewNop())

	if w := do(r, "GET", "/api/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", w.Code)
	}

	tok := sign(t, JWTClaims{UserID: "u1", Factory: "F02"}, jwt.SigningMethodHS256)
	w := do(r, "GET", "/api/me", tok)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := w.Body.String(); body != `{"factory":"F02","uid":"u1"}` {
		t.Fatalf("unexpected body %s", body)
	}

	// EventSource 通过 query 传令牌
	if w := do(r, "GET", "/api/me?token="+tok, ""); w.Code != http.StatusOK {
		t.Fatalf("query token: expected 200, got %d", w.Code)
	}

	expired := sign(t, JWTClaims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}, jwt.SigningMethodHS256)
	if w := do(r, "GET", "/api/me", expired); w.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: expected 401, got %d", w.Code)
	}

	other := sign(t, JWTClaims{UserID: "u1"}, jwt.SigningMethodHS512)
	if w := do(r, "GET", "/api/me", other); w.Code != http.StatusUnauthorized {
		t.Fatalf("HS512 should be refused, got %d", w.Code)
	}

	anon := sign(t, JWTClaims{Name: "nobody"}, jwt.SigningMethodHS256)
	if w := do(r, "GET", "/api/me", anon); w.Code != http.StatusUnauthorized {
		t.Fatalf("token without uid: expected 401, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := newRouter(zap.NewNop())
	cases := []struct {
		roles []string
		want  int
	}{
		{nil, http.StatusForbidden},
		{[]string{"operator"}, http.StatusForbidden},
		{[]string{"operator", "supervisor"}, http.StatusNoContent},
		{[]string{AdminRole}, http.StatusNoContent},
	}
	for _, tc := range cases {
		tok := sign(t, JWTClaims{UserID: "u1", Roles: tc.roles}, jwt.SigningMethodHS256)
		if w := do(r, "POST", "/api/approve", tok); w.Code != tc.want {
			t.Fatalf("roles %v: expected %d, got %d", tc.roles, tc.want, w.Code)
		}
	}
}

func TestLoggerSkipsProbesAndRecovers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newRouter(zap.New(core))

	do(r, "GET", "/health", "")
	if n := logs.FilterMessage("Request").Len(); n != 0 {
		t.Fatalf("health probe should not be logged, got %d entries", n)
	}

	w := do(r, "GET", "/panic", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("panic should be logged once")
	}
	if logs.FilterMessage("Server error").Len() != 1 {
		t.Fatal("500 should be access-logged as a server error")
	}
}
