// Package collaborator 外部协作系统：主数据(BOM/工艺路线)与设备状态。
// 核心只读使用这些数据，调用失败统一返回 CollaboratorUnavailable。
package collaborator

import (
	"context"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/shopspring/decimal"
)

// BOMItem BOM行：单位产品的物料用量
type BOMItem struct {
	MaterialID   string          `json:"material_id" yaml:"material_id"`
	MaterialCode string          `json:"material_code" yaml:"material_code"`
	PerUnitQty   decimal.Decimal `json:"per_unit_qty" yaml:"per_unit_qty"`
	Unit         string          `json:"unit" yaml:"unit"`
}

// BOM 物料清单
type BOM struct {
	ProductID string    `json:"product_id" yaml:"product_id"`
	Version   string    `json:"version" yaml:"version"`
	Items     []BOMItem `json:"items" yaml:"items"`
}

// RoutingStep 工艺路线工序，时间单位秒
type RoutingStep struct {
	Seq          int     `json:"seq" yaml:"seq"`
	StationID    string  `json:"station_id" yaml:"station_id"`
	StandardTime float64 `json:"standard_time" yaml:"standard_time"`
	SetupTime    float64 `json:"setup_time" yaml:"setup_time"`
}

// MasterData 主数据提供方
type MasterData interface {
	// GetBillOfMaterials version 为空时取当前生效版本
	GetBillOfMaterials(ctx context.Context, productID, version string) (*BOM, error)
	GetRouting(ctx context.Context, productID string) ([]RoutingStep, error)
}

// Equipment 设备/工位状态提供方
type Equipment interface {
	GetStationStatus(ctx context.Context, stationID string) (domain.StationStatus, error)
}

const (
	nameMasterData = "master_data"
	nameEquipment  = "equipment"
)

func parseStationStatus(s string) (domain.StationStatus, bool) {
	st := domain.StationStatus(s)
	switch st {
	case domain.StationRunning, domain.StationIdle, domain.StationFault,
		domain.StationMaintenance, domain.StationBroken:
		return st, true
	}
	return "", false
}
