package domain

import "github.com/shopspring/decimal"

// WorkOrderStatus 工单状态
type WorkOrderStatus string

const (
	WOStatusPending    WorkOrderStatus = "pending"
	WOStatusReleased   WorkOrderStatus = "released"
	WOStatusInProgress WorkOrderStatus = "in_progress"
	WOStatusOnHold     WorkOrderStatus = "on_hold"
	WOStatusCompleted  WorkOrderStatus = "completed"
	WOStatusCancelled  WorkOrderStatus = "cancelled"
)

// Terminal 终态不再接受任何数量变更
func (s WorkOrderStatus) Terminal() bool {
	switch s {
	case WOStatusCompleted, WOStatusCancelled:
		return true
	case WOStatusPending, WOStatusReleased, WOStatusInProgress, WOStatusOnHold:
		return false
	}
	return false
}

func (s WorkOrderStatus) Valid() bool {
	switch s {
	case WOStatusPending, WOStatusReleased, WOStatusInProgress, WOStatusOnHold,
		WOStatusCompleted, WOStatusCancelled:
		return true
	}
	return false
}

// WorkOrderPriority 工单优先级，由计划层给出
type WorkOrderPriority string

const (
	PriorityLow    WorkOrderPriority = "low"
	PriorityMedium WorkOrderPriority = "medium"
	PriorityHigh   WorkOrderPriority = "high"
	PriorityUrgent WorkOrderPriority = "urgent"
)

func (p WorkOrderPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// WorkOrderAction 工单状态机动作
type WorkOrderAction string

const (
	WOActionRelease  WorkOrderAction = "release"
	WOActionStart    WorkOrderAction = "start"
	WOActionComplete WorkOrderAction = "complete"
	WOActionCancel   WorkOrderAction = "cancel"
	WOActionHold     WorkOrderAction = "hold"
	WOActionResume   WorkOrderAction = "resume"
	WOActionSplit    WorkOrderAction = "split"
	WOActionUpdate   WorkOrderAction = "update"
	WOActionReport   WorkOrderAction = "report"
)

// NextWorkOrderStatus 计算动作后的状态；split/update/report 不改变状态但同样受状态约束
func NextWorkOrderStatus(current WorkOrderStatus, action WorkOrderAction) (WorkOrderStatus, bool) {
	switch action {
	case WOActionRelease:
		if current == WOStatusPending {
			return WOStatusReleased, true
		}
	case WOActionStart:
		if current == WOStatusReleased {
			return WOStatusInProgress, true
		}
	case WOActionComplete:
		if current == WOStatusInProgress {
			return WOStatusCompleted, true
		}
	case WOActionCancel:
		switch current {
		case WOStatusPending, WOStatusReleased, WOStatusInProgress:
			return WOStatusCancelled, true
		}
	case WOActionHold:
		if current == WOStatusInProgress {
			return WOStatusOnHold, true
		}
	case WOActionResume:
		if current == WOStatusOnHold {
			return WOStatusInProgress, true
		}
	case WOActionSplit, WOActionUpdate:
		switch current {
		case WOStatusPending, WOStatusReleased:
			return current, true
		}
	case WOActionReport:
		switch current {
		case WOStatusReleased:
			return WOStatusInProgress, true
		case WOStatusInProgress:
			return current, true
		}
	}
	return current, false
}

// Counters 工单数量计数器
type Counters struct {
	Planned   int64
	Completed int64
	Good      int64
	Defect    int64
	Scrap     int64
}

// Conserved good + defect + scrap ≤ completed ≤ planned，且均非负
func (c Counters) Conserved() bool {
	if c.Completed < 0 || c.Good < 0 || c.Defect < 0 || c.Scrap < 0 {
		return false
	}
	return c.Good+c.Defect+c.Scrap <= c.Completed && c.Completed <= c.Planned
}

// CounterDelta 一次报工或处置对计数器的增量
type CounterDelta struct {
	Completed int64 `json:"completed"`
	Good      int64 `json:"good"`
	Defect    int64 `json:"defect"`
	Scrap     int64 `json:"scrap"`
	Rework    int64 `json:"rework"`
}

func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

func (d CounterDelta) Sub(o CounterDelta) CounterDelta {
	return CounterDelta{
		Completed: d.Completed - o.Completed,
		Good:      d.Good - o.Good,
		Defect:    d.Defect - o.Defect,
		Scrap:     d.Scrap - o.Scrap,
		Rework:    d.Rework - o.Rework,
	}
}

// Apply 返回叠加增量后的计数器
func (c Counters) Apply(d CounterDelta) Counters {
	c.Completed += d.Completed
	c.Good += d.Good
	c.Defect += d.Defect
	c.Scrap += d.Scrap
	return c
}

// MoveToScrap 把 qty 件从不良转入报废，不良不足时再从良品扣减；
// 返回实际转入的数量，超出完工数的部分不计入
func (c Counters) MoveToScrap(qty int64) (Counters, int64) {
	if qty <= 0 {
		return c, 0
	}
	fromDefect := min(qty, c.Defect)
	fromGood := min(qty-fromDefect, c.Good)
	c.Defect -= fromDefect
	c.Good -= fromGood
	moved := fromDefect + fromGood
	c.Scrap += moved
	return c, moved
}

// SplitAllowed 拆分数量不低于计划数的 minRatio，且拆分后两侧数量都为正
func SplitAllowed(planned, splitQty int64, minRatio decimal.Decimal) bool {
	if splitQty <= 0 || planned-splitQty <= 0 {
		return false
	}
	return decimal.NewFromInt(splitQty).GreaterThanOrEqual(decimal.NewFromInt(planned).Mul(minRatio))
}
