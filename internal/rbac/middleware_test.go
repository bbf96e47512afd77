package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"numbershop/internal/auth"

	"github.com/gin-gonic/gin"
)

func runWithRole(t *testing.T, role string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), "u1", role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, RequireAdmin(), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAdmin_AllowsAdmin(t *testing.T) {
	if code := runWithRole(t, RoleAdmin); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAdmin_ForbidsUser(t *testing.T) {
	if code := runWithRole(t, RoleUser); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAdmin_RejectsMissingIdentity(t *testing.T) {
	if code := runWithRole(t, ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
