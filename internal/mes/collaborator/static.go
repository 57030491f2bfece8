package collaborator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"gopkg.in/yaml.v3"
)

// Static 本地静态主数据和工位状态，用于未接入外部系统的环境和测试
type Static struct {
	mu       sync.RWMutex
	boms     map[string]BOM // key: product 或 product@version
	routings map[string][]RoutingStep
	stations map[string]domain.StationStatus
}

type staticFile struct {
	BOMs     []BOM                    `yaml:"boms"`
	Routings map[string][]RoutingStep `yaml:"routings"`
	Stations map[string]string        `yaml:"stations"`
}

func NewStatic() *Static {
	return &Static{
		boms:     map[string]BOM{},
		routings: map[string][]RoutingStep{},
		stations: map[string]domain.StationStatus{},
	}
}

// LoadStatic 从YAML文件加载
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static data: %w", err)
	}
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse static data: %w", err)
	}
	s := NewStatic()
	for _, b := range f.BOMs {
		s.PutBOM(b)
	}
	for product, steps := range f.Routings {
		s.PutRouting(product, steps)
	}
	for station, status := range f.Stations {
		st, ok := parseStationStatus(status)
		if !ok {
			return nil, fmt.Errorf("station %s: unknown status %q", station, status)
		}
		s.SetStation(station, st)
	}
	return s, nil
}

// PutBOM 同时登记为该产品的当前版本
func (s *Static) PutBOM(b BOM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boms[b.ProductID] = b
	if b.Version != "" {
		s.boms[b.ProductID+"@"+b.Version] = b
	}
}

func (s *Static) PutRouting(productID string, steps []RoutingStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routings[productID] = steps
}

func (s *Static) SetStation(stationID string, status domain.StationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[stationID] = status
}

func (s *Static) GetBillOfMaterials(_ context.Context, productID, version string) (*BOM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := productID
	if version != "" {
		key = productID + "@" + version
	}
	b, ok := s.boms[key]
	if !ok {
		return nil, domain.NotFound("bom", key)
	}
	return &b, nil
}

func (s *Static) GetRouting(_ context.Context, productID string) ([]RoutingStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps, ok := s.routings[productID]
	if !ok {
		return nil, domain.NotFound("routing", productID)
	}
	return steps, nil
}

// GetStationStatus 未登记的工位视为空闲
func (s *Static) GetStationStatus(_ context.Context, stationID string) (domain.StationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[stationID]
	if !ok {
		return domain.StationIdle, nil
	}
	return st, nil
}
