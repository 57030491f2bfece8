package handler

import (
	"net/http"
	"testing"

	"github.com/ericaxiaweilin/EngHub/internal/mes/collaborator"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/event"
	"github.com/ericaxiaweilin/EngHub/internal/mes/repository"
	"github.com/ericaxiaweilin/EngHub/internal/mes/service"
	"github.com/ericaxiaweilin/EngHub/internal/shared/sse"
	"github.com/ericaxiaweilin/EngHub/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"golang.org/x/text/encoding/simplifiedchinese"
)

type testEnv struct {
	router *gin.Engine
	hub    *sse.Hub
	static *collaborator.Static
	token  string
}

func setupMESTest(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	log := zaptest.NewLogger(t)
	static := collaborator.NewStatic()
	static.PutBOM(collaborator.BOM{
		ProductID: "P-100",
		Version:   "V1",
		Items: []collaborator.BOMItem{
			{MaterialID: "M-1", MaterialCode: "MAT-1", PerUnitQty: decimal.NewFromInt(2), Unit: "pcs"},
		},
	})
	hub := sse.NewHub(log)
	svc := service.NewServices(service.Deps{
		DB:          db,
		Repos:       repository.NewRepositories(db),
		MasterData:  static,
		Equipment:   static,
		Events:      event.Multi{event.NewHubPublisher(hub)},
		Logger:      log,
		FactoryCode: "F01",
	})

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1/mes")
	NewHandlers(svc, hub, log).Register(api)
	return &testEnv{router: router, hub: hub, static: static, token: testutil.DefaultTestToken()}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()
	w := testutil.DoRequest(e.router, method, "/api/v1/mes"+path, body, e.token)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, wantStatus, w.Code, w.Body.String())
	}
	return testutil.ParseResponse(w)
}

func dataOf(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %v", resp)
	}
	return data
}

func (e *testEnv) releasedWorkOrder(t *testing.T) string {
	t.Helper()
	wo := dataOf(t, e.do(t, "POST", "/work-orders", map[string]interface{}{
		"product_id":   "P-100",
		"planned_qty":  100,
		"warehouse_id": "WH-1",
		"station_id":   "ST-1",
	}, http.StatusCreated))
	id := wo["id"].(string)
	e.do(t, "POST", "/work-orders/"+id+"/release", nil, http.StatusOK)
	return id
}

func (e *testEnv) stock(t *testing.T, batchCode, qty string) {
	t.Helper()
	e.do(t, "POST", "/inventory/inbound", map[string]interface{}{
		"material_id":  "M-1",
		"warehouse_id": "WH-1",
		"batch_code":   batchCode,
		"quantity":     qty,
		"unit_cost":    "2",
	}, http.StatusCreated)
}

func TestReportFlowOverHTTP(t *testing.T) {
	env := setupMESTest(t)
	woID := env.releasedWorkOrder(t)

	report := map[string]interface{}{"work_order_id": woID, "produced_qty": 10, "qualified_qty": 10}
	resp := env.do(t, "POST", "/reports", report, http.StatusConflict)
	if resp["code"] != float64(40902) {
		t.Fatalf("expected insufficient stock code, got %v", resp["code"])
	}
	detail := dataOf(t, resp)
	if detail["kind"] != string(domain.KindInsufficientStock) {
		t.Fatalf("error detail should carry the kind: %v", detail)
	}

	env.stock(t, "B-1", "100")
	created := dataOf(t, env.do(t, "POST", "/reports", report, http.StatusCreated))
	wo := created["work_order"].(map[string]interface{})
	if wo["completed_qty"] != float64(10) || wo["status"] != string(domain.WOStatusInProgress) {
		t.Fatalf("unexpected work order %v", wo)
	}
	if txs := created["transactions"].([]interface{}); len(txs) != 1 {
		t.Fatalf("expected one outbound, got %d", len(txs))
	}

	batch := dataOf(t, env.do(t, "GET", "/inventory/batches/B-1", nil, http.StatusOK))
	if batch["available_qty"] != "80" {
		t.Fatalf("expected 80 available, got %v", batch["available_qty"])
	}
	reportID := created["report"].(map[string]interface{})["id"].(string)
	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/reports/"+reportID+"/transactions", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("report transactions: %d %s", w.Code, w.Body.String())
	}
	if txs := testutil.ParseResponse(w)["data"].([]interface{}); len(txs) != 1 {
		t.Fatalf("expected the report's outbound, got %d", len(txs))
	}
	list := dataOf(t, env.do(t, "GET", "/reports?work_order_id="+woID, nil, http.StatusOK))
	if list["total"] != float64(1) {
		t.Fatalf("expected one report, got %v", list["total"])
	}
	trace := dataOf(t, env.do(t, "GET", "/inventory/batches/B-1/trace", nil, http.StatusOK))
	if reports := trace["reports"].([]interface{}); len(reports) != 1 {
		t.Fatalf("trace should include the consuming report, got %d", len(reports))
	}
}

func TestErrorMapping(t *testing.T) {
	env := setupMESTest(t)

	resp := env.do(t, "GET", "/work-orders/missing", nil, http.StatusNotFound)
	if resp["code"] != float64(40400) {
		t.Fatalf("expected 40400, got %v", resp["code"])
	}

	env.static.SetStation("ST-9", domain.StationFault)
	wo := dataOf(t, env.do(t, "POST", "/work-orders", map[string]interface{}{
		"product_id": "P-100", "planned_qty": 10, "station_id": "ST-9",
	}, http.StatusCreated))
	resp = env.do(t, "POST", "/work-orders/"+wo["id"].(string)+"/release", nil, http.StatusConflict)
	if resp["code"] != float64(40903) {
		t.Fatalf("expected equipment unavailable, got %v", resp["code"])
	}

	env.do(t, "POST", "/work-orders", map[string]interface{}{"product_id": "P-100"}, http.StatusBadRequest)

	resp = env.do(t, "POST", "/work-orders/"+wo["id"].(string)+"/split", map[string]interface{}{"quantity": 4}, http.StatusBadRequest)
	if resp["code"] != float64(40003) {
		t.Fatalf("expected invalid split, got %v", resp["code"])
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupMESTest(t)
	w := testutil.DoRequest(env.router, "GET", "/api/v1/mes/work-orders", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCountImportAndApproval(t *testing.T) {
	env := setupMESTest(t)
	env.stock(t, "B-1", "100")

	count := dataOf(t, env.do(t, "POST", "/counts", map[string]interface{}{"warehouse_id": "WH-1"}, http.StatusCreated))
	id := count["id"].(string)

	content, err := simplifiedchinese.GBK.NewEncoder().String("物料ID\t物料编码\t批次号\t实盘数量\nM-1\t螺丝\tB-1\t95\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	w := testutil.DoUpload(env.router, "/api/v1/mes/counts/"+id+"/import", "file", "count.txt", []byte(content), env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body.String())
	}
	summary := testutil.Data(t, w)["summary"].(map[string]interface{})
	if summary["decrease_lines"] != float64(1) {
		t.Fatalf("unexpected summary %v", summary)
	}

	clerk := testutil.GenerateTestToken("u-clerk", "Clerk", "F01", "mes_operator")
	w = testutil.DoRequest(env.router, "POST", "/api/v1/mes/counts/"+id+"/apply", nil, clerk)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-approver, got %d", w.Code)
	}

	applied := dataOf(t, env.do(t, "POST", "/counts/"+id+"/apply", nil, http.StatusOK))
	if txs := applied["transactions"].([]interface{}); len(txs) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(txs))
	}
	batch := dataOf(t, env.do(t, "GET", "/inventory/batches/B-1", nil, http.StatusOK))
	if batch["quantity"] != "95" {
		t.Fatalf("expected 95 after adjustment, got %v", batch["quantity"])
	}

	w = testutil.DoUpload(env.router, "/api/v1/mes/counts/"+id+"/import", "file", "count.csv", []byte("x"), env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unsupported extension should be rejected, got %d", w.Code)
	}
}

func TestInspectionReportWithoutStorage(t *testing.T) {
	env := setupMESTest(t)
	woID := env.releasedWorkOrder(t)
	in := dataOf(t, env.do(t, "POST", "/inspections", map[string]interface{}{
		"type": "ipqc", "work_order_id": woID, "batch_size": 20,
	}, http.StatusCreated))

	w := testutil.DoUpload(env.router, "/api/v1/mes/inspections/"+in["id"].(string)+"/report", "file", "r.pdf", []byte("%PDF"), env.token)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without object storage, got %d: %s", w.Code, w.Body.String())
	}

	res := dataOf(t, env.do(t, "POST", "/inspections/"+in["id"].(string)+"/result", map[string]interface{}{
		"defective_qty": 3, "defect_category": "visual",
	}, http.StatusOK))
	if res["defect"] == nil {
		t.Fatalf("failed inspection should return the defect: %v", res)
	}
	defects := dataOf(t, env.do(t, "GET", "/defects?inspection_id="+in["id"].(string), nil, http.StatusOK))
	if defects["total"] != float64(1) {
		t.Fatalf("expected one defect, got %v", defects["total"])
	}
}

func TestEventsReachHub(t *testing.T) {
	env := setupMESTest(t)
	client := &sse.Client{ID: "board-1", Factory: "F01", Events: make(chan sse.Event, 8)}
	env.hub.Register(client)
	defer env.hub.Unregister(client.ID)

	env.do(t, "POST", "/work-orders", map[string]interface{}{"product_id": "P-100", "planned_qty": 5}, http.StatusCreated)
	select {
	case ev := <-client.Events:
		if ev.EventType != event.WorkOrderCreated {
			t.Fatalf("unexpected event %s", ev.EventType)
		}
	default:
		t.Fatal("expected a work order event on the board")
	}
}
