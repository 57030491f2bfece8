package domain

import "strings"

// InspectionType 检验类型
type InspectionType string

const (
	InspectionIncoming  InspectionType = "iqc"  // 来料检验
	InspectionInProcess InspectionType = "ipqc" // 制程检验
	InspectionFinal     InspectionType = "fqc"  // 成品检验
	InspectionOutgoing  InspectionType = "oqc"  // 出货检验
)

// ParseInspectionType 同时接受缩写和全称
func ParseInspectionType(s string) (InspectionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iqc", "incoming":
		return InspectionIncoming, true
	case "ipqc", "in_process":
		return InspectionInProcess, true
	case "fqc", "final":
		return InspectionFinal, true
	case "oqc", "outgoing":
		return InspectionOutgoing, true
	}
	return "", false
}

// RequiresMaterial 来料检验必须关联物料，其余类型必须关联工单
func (t InspectionType) RequiresMaterial() bool {
	switch t {
	case InspectionIncoming:
		return true
	case InspectionInProcess, InspectionFinal, InspectionOutgoing:
		return false
	}
	return false
}

// InspectionStatus 检验状态
type InspectionStatus string

const (
	InspectionPending    InspectionStatus = "pending"
	InspectionInProgress InspectionStatus = "in_progress"
	InspectionPassed     InspectionStatus = "passed"
	InspectionFailed     InspectionStatus = "failed"
	InspectionRejected   InspectionStatus = "rejected"
)

// Resolved 已判定
func (s InspectionStatus) Resolved() bool {
	switch s {
	case InspectionPassed, InspectionFailed, InspectionRejected:
		return true
	case InspectionPending, InspectionInProgress:
		return false
	}
	return false
}

// InspectionLevel 检验水平
type InspectionLevel string

const (
	LevelGeneralI   InspectionLevel = "general_i"
	LevelGeneralII  InspectionLevel = "general_ii"
	LevelGeneralIII InspectionLevel = "general_iii"
	LevelSpecialS1  InspectionLevel = "special_s1"
	LevelSpecialS2  InspectionLevel = "special_s2"
)

func (l InspectionLevel) Valid() bool {
	switch l {
	case LevelGeneralI, LevelGeneralII, LevelGeneralIII, LevelSpecialS1, LevelSpecialS2:
		return true
	}
	return false
}

// DefectType 缺陷类型
type DefectType string

const (
	DefectAppearance  DefectType = "appearance"
	DefectDimension   DefectType = "dimension"
	DefectFunction    DefectType = "function"
	DefectPerformance DefectType = "performance"
	DefectMaterial    DefectType = "material"
	DefectProcess     DefectType = "process"
	DefectOther       DefectType = "other"
)

func (t DefectType) Valid() bool {
	switch t {
	case DefectAppearance, DefectDimension, DefectFunction, DefectPerformance,
		DefectMaterial, DefectProcess, DefectOther:
		return true
	}
	return false
}

// Severity 严重度
type Severity string

const (
	SeverityCritical    Severity = "critical"
	SeverityMajor       Severity = "major"
	SeverityMinor       Severity = "minor"
	SeverityObservation Severity = "observation"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeverityObservation:
		return true
	}
	return false
}

// DefectStatus 缺陷状态
type DefectStatus string

const (
	DefectOpen       DefectStatus = "open"
	DefectInProgress DefectStatus = "in_progress"
	DefectResolved   DefectStatus = "resolved"
	DefectClosed     DefectStatus = "closed"
	DefectCancelled  DefectStatus = "cancelled"
)

// AcceptsDisposition 仅未处置或处置中的缺陷可提交处置
func (s DefectStatus) AcceptsDisposition() bool {
	switch s {
	case DefectOpen, DefectInProgress:
		return true
	case DefectResolved, DefectClosed, DefectCancelled:
		return false
	}
	return false
}

// Disposition 不良品处置方式
type Disposition string

const (
	DispositionRework     Disposition = "rework"
	DispositionRepair     Disposition = "repair"
	DispositionScrap      Disposition = "scrap"
	DispositionConcession Disposition = "concession"
	DispositionReturn     Disposition = "return"
)

func (d Disposition) Valid() bool {
	switch d {
	case DispositionRework, DispositionRepair, DispositionScrap, DispositionConcession, DispositionReturn:
		return true
	}
	return false
}

// ResultingStatus 报废立即结案，其余处置等待后续关闭
func (d Disposition) ResultingStatus() DefectStatus {
	switch d {
	case DispositionScrap:
		return DefectResolved
	case DispositionRework, DispositionRepair, DispositionConcession, DispositionReturn:
		return DefectInProgress
	}
	return DefectInProgress
}

// CAStatus 纠正措施(OCAP)状态
type CAStatus string

const (
	CAPending    CAStatus = "pending"
	CATriggered  CAStatus = "triggered"
	CAInProgress CAStatus = "in_progress"
	CACompleted  CAStatus = "completed"
)

// NextCAStatus 纠正措施案例只能顺序推进
func NextCAStatus(current, target CAStatus) bool {
	switch target {
	case CAInProgress:
		return current == CATriggered
	case CACompleted:
		return current == CAInProgress
	case CAPending, CATriggered:
		return false
	}
	return false
}

// 升级原因
const (
	ReasonCritical        = "critical defect"
	ReasonMajorOverLimit  = "major defect over threshold"
	ReasonProcessMaterial = "process/material issue requires analysis"
)

// EscalationThresholds 升级阈值
type EscalationThresholds struct {
	MajorMinQty    int64
	AnalysisTypes  []DefectType
	AnalysisMinQty int64
}

// EscalationReason 按严重度、类型、数量判定是否升级为纠正措施，规则按顺序取第一条命中
func EscalationReason(sev Severity, typ DefectType, qty int64, t EscalationThresholds) (string, bool) {
	switch sev {
	case SeverityCritical:
		return ReasonCritical, true
	case SeverityMajor:
		// major 只看数量阈值，不再落到类型规则
		if qty >= t.MajorMinQty {
			return ReasonMajorOverLimit, true
		}
		return "", false
	}
	for _, at := range t.AnalysisTypes {
		if typ == at && qty >= t.AnalysisMinQty {
			return ReasonProcessMaterial, true
		}
	}
	return "", false
}
