package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
)

// envelope 上游接口统一响应格式
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type httpClient struct {
	baseURL    string
	httpClient *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) httpClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// get 发起GET请求并解析 data 字段；返回 found=false 表示上游明确返回 404
func (c httpClient) get(ctx context.Context, path string, query url.Values, out interface{}) (bool, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Code != 0 {
		return false, fmt.Errorf("upstream error[%d]: %s", env.Code, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("decode %s data: %w", path, err)
	}
	return true, nil
}

// HTTPMasterData 主数据系统HTTP客户端
type HTTPMasterData struct {
	c httpClient
}

func NewHTTPMasterData(baseURL string, timeout time.Duration) *HTTPMasterData {
	return &HTTPMasterData{c: newHTTPClient(baseURL, timeout)}
}

func (m *HTTPMasterData) GetBillOfMaterials(ctx context.Context, productID, version string) (*BOM, error) {
	q := url.Values{}
	if version != "" {
		q.Set("version", version)
	}
	var bom BOM
	found, err := m.c.get(ctx, "/api/v1/products/"+url.PathEscape(productID)+"/bom", q, &bom)
	if err != nil {
		return nil, domain.CollaboratorUnavailable(nameMasterData, "get_bill_of_materials", err)
	}
	if !found {
		return nil, domain.NotFound("bom", productID)
	}
	if bom.ProductID == "" {
		bom.ProductID = productID
	}
	return &bom, nil
}

func (m *HTTPMasterData) GetRouting(ctx context.Context, productID string) ([]RoutingStep, error) {
	var steps []RoutingStep
	found, err := m.c.get(ctx, "/api/v1/products/"+url.PathEscape(productID)+"/routing", nil, &steps)
	if err != nil {
		return nil, domain.CollaboratorUnavailable(nameMasterData, "get_routing", err)
	}
	if !found {
		return nil, domain.NotFound("routing", productID)
	}
	return steps, nil
}

// HTTPEquipment 设备系统HTTP客户端
type HTTPEquipment struct {
	c httpClient
}

func NewHTTPEquipment(baseURL string, timeout time.Duration) *HTTPEquipment {
	return &HTTPEquipment{c: newHTTPClient(baseURL, timeout)}
}

func (e *HTTPEquipment) GetStationStatus(ctx context.Context, stationID string) (domain.StationStatus, error) {
	var body struct {
		Status string `json:"status"`
	}
	found, err := e.c.get(ctx, "/api/v1/stations/"+url.PathEscape(stationID)+"/status", nil, &body)
	if err != nil {
		return "", domain.CollaboratorUnavailable(nameEquipment, "get_station_status", err)
	}
	if !found {
		return "", domain.NotFound("station", stationID)
	}
	st, ok := parseStationStatus(body.Status)
	if !ok {
		return "", domain.CollaboratorUnavailable(nameEquipment, "get_station_status",
			fmt.Errorf("unknown station status %q", body.Status))
	}
	return st, nil
}
