package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ericaxiaweilin/EngHub/internal/config"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

const staticData = `
boms:
  - product_id: P-100
    version: V1
    items:
      - material_id: M-1
        material_code: MAT-1
        per_unit_qty: "2"
        unit: pcs
stations:
  ST-1: idle
  ST-2: fault
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "static.yaml")
	if err := os.WriteFile(path, []byte(staticData), 0o644); err != nil {
		t.Fatalf("write static data: %v", err)
	}
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", Path: "file::memory:", LogLevel: "silent"},
		JWT:      config.JWTConfig{Secret: "test-secret"},
		MES:      config.MESConfig{FactoryCode: "F09", StaticDataFile: path},
	}
}

func TestNewAppUsesStaticCollaborators(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.close()

	if a.rdb != nil || a.nc != nil {
		t.Fatal("redis and nats should stay disabled without configuration")
	}
	ctx := context.Background()
	wo, err := a.svc.WorkOrder.Create(ctx, service.CreateWorkOrderRequest{
		ProductID: "P-100", PlannedQty: 10, StationID: "ST-2",
	}, "u-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if wo.FactoryCode != "F09" {
		t.Fatalf("factory code should come from config, got %q", wo.FactoryCode)
	}
	_, err = a.svc.WorkOrder.Release(ctx, wo.ID, "u-1")
	if kind, _ := domain.KindOf(err); kind != domain.KindEquipmentUnavailable {
		t.Fatalf("static fault station should block release, got %v", err)
	}
}

func TestNewAppRejectsBadStaticFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.MES.StaticDataFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := newApp(context.Background(), cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatal("missing static data file should fail startup")
	}
}

func TestHealthAndVersionRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := newApp(context.Background(), testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.close()

	r := gin.New()
	registerRoutes(r, a)
	for _, path := range []string{"/health/live", "/health/ready", "/version"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mes/work-orders", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("api should require a token, got %d", w.Code)
	}
}

func TestNewAppWiresFeishuAlerts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feishu = config.FeishuConfig{AppID: "cli_x", AppSecret: "s", AlertChatID: "oc_quality", BaseURL: "http://127.0.0.1:1"}
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.close()
	if a.alerts == nil {
		t.Fatal("feishu alerts should be wired when app id and chat are configured")
	}
}
