package repository

import (
	"context"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/ericaxiaweilin/EngHub/internal/shared/database"
	"github.com/ericaxiaweilin/EngHub/internal/shared/sequence"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// fifoOrder 先进先出：收货日期，同日按入库顺序号
const fifoOrder = "receive_date ASC, seq ASC"

const batchSeqKey = "inventory_batch"

// BatchRepository 库存批次仓库
type BatchRepository struct {
	base
	seq *sequence.DBCounter
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{base: base{db: db}, seq: sequence.NewDBCounter(db)}
}

// Create 分配入库顺序号后写入；顺序号与批次在同一事务内，回滚时一起撤销
func (r *BatchRepository) Create(ctx context.Context, b *entity.InventoryBatch) error {
	seq, err := r.seq.Next(ctx, batchSeqKey)
	if err != nil {
		return err
	}
	b.Seq = seq
	return r.conn(ctx).Create(b).Error
}

func (r *BatchRepository) Update(ctx context.Context, b *entity.InventoryBatch) error {
	return r.conn(ctx).Save(b).Error
}

func (r *BatchRepository) FindByID(ctx context.Context, id string) (*entity.InventoryBatch, error) {
	var b entity.InventoryBatch
	if err := r.conn(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (r *BatchRepository) FindByCode(ctx context.Context, code string) (*entity.InventoryBatch, error) {
	var b entity.InventoryBatch
	if err := r.conn(ctx).Where("batch_code = ?", code).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// FindForUpdate 按ID加锁
func (r *BatchRepository) FindForUpdate(ctx context.Context, id string) (*entity.InventoryBatch, error) {
	var b entity.InventoryBatch
	if err := database.ForUpdate(r.conn(ctx)).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// FindCodeForUpdate 按批次号加锁
func (r *BatchRepository) FindCodeForUpdate(ctx context.Context, code string) (*entity.InventoryBatch, error) {
	var b entity.InventoryBatch
	if err := database.ForUpdate(r.conn(ctx)).Where("batch_code = ?", code).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// LockAllocatable 按先进先出顺序锁定某物料在某仓库所有可分配批次
func (r *BatchRepository) LockAllocatable(ctx context.Context, materialID, warehouseID string) ([]entity.InventoryBatch, error) {
	var items []entity.InventoryBatch
	err := database.ForUpdate(r.conn(ctx)).
		Where("material_id = ? AND warehouse_id = ?", materialID, warehouseID).
		Where("status IN ?", []domain.BatchStatus{domain.BatchAvailable, domain.BatchReserved}).
		Order(fifoOrder).
		Find(&items).Error
	return items, err
}

// LockByIDs 按ID锁定一组批次，按先进先出顺序返回
func (r *BatchRepository) LockByIDs(ctx context.Context, ids []string) ([]entity.InventoryBatch, error) {
	var items []entity.InventoryBatch
	if len(ids) == 0 {
		return items, nil
	}
	err := database.ForUpdate(r.conn(ctx)).Where("id IN ?", ids).Order(fifoOrder).Find(&items).Error
	return items, err
}

// FindByWarehouse 盘点取数：仓库内所有批次（可按物料过滤）
func (r *BatchRepository) FindByWarehouse(ctx context.Context, warehouseID string, materialIDs []string) ([]entity.InventoryBatch, error) {
	query := r.conn(ctx).Where("warehouse_id = ?", warehouseID)
	if len(materialIDs) > 0 {
		query = query.Where("material_id IN ?", materialIDs)
	}
	var items []entity.InventoryBatch
	err := query.Order("material_id ASC, " + fifoOrder).Find(&items).Error
	return items, err
}

type BatchListParams struct {
	MaterialID  string
	WarehouseID string
	Status      string
	Keyword     string
	NonZero     bool
	Page
}

func (r *BatchRepository) List(ctx context.Context, params BatchListParams) ([]entity.InventoryBatch, int64, error) {
	query := r.conn(ctx).Model(&entity.InventoryBatch{})
	if params.MaterialID != "" {
		query = query.Where("material_id = ?", params.MaterialID)
	}
	if params.WarehouseID != "" {
		query = query.Where("warehouse_id = ?", params.WarehouseID)
	}
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Keyword != "" {
		kw := like(params.Keyword)
		query = query.Where("LOWER(batch_code) LIKE ? OR LOWER(material_code) LIKE ?", kw, kw)
	}
	if params.NonZero {
		query = query.Where("quantity > 0")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := params.normalize()
	var items []entity.InventoryBatch
	err := query.Order(fifoOrder).Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}

// StockRow 按物料+仓库+状态聚合的库存
type StockRow struct {
	MaterialID   string             `json:"material_id"`
	WarehouseID  string             `json:"warehouse_id"`
	Status       domain.BatchStatus `json:"status"`
	Quantity     decimal.Decimal    `json:"quantity"`
	AvailableQty decimal.Decimal    `json:"available_qty"`
	ReservedQty  decimal.Decimal    `json:"reserved_qty"`
	BatchCount   int64              `json:"batch_count"`
}

// StockByStatus 库存汇总
func (r *BatchRepository) StockByStatus(ctx context.Context, materialID, warehouseID string) ([]StockRow, error) {
	query := r.conn(ctx).Model(&entity.InventoryBatch{}).
		Select("material_id, warehouse_id, status, " +
			"COALESCE(SUM(quantity), 0) AS quantity, " +
			"COALESCE(SUM(available_qty), 0) AS available_qty, " +
			"COALESCE(SUM(reserved_qty), 0) AS reserved_qty, " +
			"COUNT(*) AS batch_count")
	if materialID != "" {
		query = query.Where("material_id = ?", materialID)
	}
	if warehouseID != "" {
		query = query.Where("warehouse_id = ?", warehouseID)
	}
	var rows []StockRow
	err := query.Group("material_id, warehouse_id, status").
		Order("material_id, warehouse_id, status").Scan(&rows).Error
	return rows, err
}

// TransactionRepository 库存交易仓库
type TransactionRepository struct {
	base
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{base{db: db}}
}

// Create 连同明细写入
func (r *TransactionRepository) Create(ctx context.Context, tx *entity.InventoryTransaction) error {
	return r.conn(ctx).Create(tx).Error
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*entity.InventoryTransaction, error) {
	var tx entity.InventoryTransaction
	err := r.conn(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("id = ?", id).First(&tx).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

// FindByReference 某业务单据产生的全部交易（含明细），按时间顺序
func (r *TransactionRepository) FindByReference(ctx context.Context, refType, refID string) ([]entity.InventoryTransaction, error) {
	var items []entity.InventoryTransaction
	err := r.conn(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("reference_type = ? AND reference_id = ?", refType, refID).
		Order("created_at ASC").Find(&items).Error
	return items, err
}

// FindByBatch 涉及某批次的交易
func (r *TransactionRepository) FindByBatch(ctx context.Context, batchID string) ([]entity.InventoryTransaction, error) {
	var ids []string
	if err := r.conn(ctx).Model(&entity.InventoryTransactionLine{}).
		Where("batch_id = ?", batchID).Distinct().Pluck("transaction_id", &ids).Error; err != nil {
		return nil, err
	}
	var items []entity.InventoryTransaction
	if len(ids) == 0 {
		return items, nil
	}
	err := r.conn(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Where("batch_id = ?", batchID).Order("seq ASC")
	}).Where("id IN ?", ids).Order("created_at ASC").Find(&items).Error
	return items, err
}

type TxListParams struct {
	MaterialID    string
	WarehouseID   string
	TxType        string
	WorkOrderID   string
	ReferenceType string
	ReferenceID   string
	Page
}

func (r *TransactionRepository) List(ctx context.Context, params TxListParams) ([]entity.InventoryTransaction, int64, error) {
	query := r.conn(ctx).Model(&entity.InventoryTransaction{})
	if params.MaterialID != "" {
		query = query.Where("material_id = ?", params.MaterialID)
	}
	if params.WarehouseID != "" {
		query = query.Where("warehouse_id = ?", params.WarehouseID)
	}
	if params.TxType != "" {
		query = query.Where("tx_type = ?", params.TxType)
	}
	if params.WorkOrderID != "" {
		query = query.Where("work_order_id = ?", params.WorkOrderID)
	}
	if params.ReferenceType != "" {
		query = query.Where("reference_type = ?", params.ReferenceType)
	}
	if params.ReferenceID != "" {
		query = query.Where("reference_id = ?", params.ReferenceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset, limit := params.normalize()
	var items []entity.InventoryTransaction
	err := query.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error
	return items, total, err
}

// ReservationRepository 预留仓库
type ReservationRepository struct {
	base
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{base{db: db}}
}

func (r *ReservationRepository) Create(ctx context.Context, res *entity.Reservation) error {
	return r.conn(ctx).Create(res).Error
}

func (r *ReservationRepository) FindByID(ctx context.Context, id string) (*entity.Reservation, error) {
	var res entity.Reservation
	err := r.conn(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("id = ?", id).First(&res).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

// FindForUpdate 加锁读取预留及其批次明细
func (r *ReservationRepository) FindForUpdate(ctx context.Context, id string) (*entity.Reservation, error) {
	var res entity.Reservation
	if err := database.ForUpdate(r.conn(ctx)).Where("id = ?", id).First(&res).Error; err != nil {
		return nil, notFound(err)
	}
	if err := r.conn(ctx).Where("reservation_id = ?", id).Order("seq ASC").Find(&res.Lines).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *ReservationRepository) FindByWorkOrder(ctx context.Context, workOrderID string) ([]entity.Reservation, error) {
	var items []entity.Reservation
	err := r.conn(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("work_order_id = ?", workOrderID).Order("created_at ASC").Find(&items).Error
	return items, err
}

func (r *ReservationRepository) Update(ctx context.Context, res *entity.Reservation) error {
	return r.conn(ctx).Omit(clause.Associations).Save(res).Error
}

func (r *ReservationRepository) UpdateLine(ctx context.Context, line *entity.ReservationLine) error {
	return r.conn(ctx).Save(line).Error
}
