package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// CodeRange 批量闭区间对应的样本量字码
type CodeRange struct {
	Min  int    `yaml:"min"`
	Max  int    `yaml:"max"`
	Code string `yaml:"code"`
}

// AcRe 接收数/拒收数
type AcRe struct {
	Ac int
	Re int
}

// Policy 启动时加载一次的只读策略表，包括 AQL 抽样表、升级阈值和时间窗口
type Policy struct {
	Version                string
	SampleSizeCodes        []CodeRange
	SampleSizes            map[string]int
	Levels                 []decimal.Decimal
	Acceptance             map[string]map[string]AcRe
	DefaultAcceptance      AcRe
	DefaultInspectionLevel domain.InspectionLevel
	Escalation             domain.EscalationThresholds
	DefaultDefectType      domain.DefectType
	DefaultSeverity        domain.Severity
	DefectTypeMapping      map[string]domain.DefectType
	SplitMinRatio          decimal.Decimal
	AmendmentWindow        time.Duration
}

type fileFormat struct {
	Version string `yaml:"version"`
	AQL     struct {
		SampleSizeCodes        []CodeRange                 `yaml:"sample_size_codes"`
		SampleSizes            map[string]int              `yaml:"sample_sizes"`
		Levels                 []string                    `yaml:"levels"`
		Acceptance             map[string]map[string][]int `yaml:"acceptance"`
		DefaultAcceptance      []int                       `yaml:"default_acceptance"`
		DefaultInspectionLevel string                      `yaml:"default_inspection_level"`
	} `yaml:"aql"`
	Escalation struct {
		MajorMinQty    int64    `yaml:"major_min_qty"`
		AnalysisTypes  []string `yaml:"analysis_types"`
		AnalysisMinQty int64    `yaml:"analysis_min_qty"`
	} `yaml:"escalation"`
	Defect struct {
		DefaultType     string            `yaml:"default_type"`
		DefaultSeverity string            `yaml:"default_severity"`
		TypeMapping     map[string]string `yaml:"type_mapping"`
	} `yaml:"defect"`
	WorkOrder struct {
		SplitMinRatio string `yaml:"split_min_ratio"`
	} `yaml:"work_order"`
	Reporting struct {
		AmendmentWindow string `yaml:"amendment_window"`
	} `yaml:"reporting"`
}

// Default 返回内置策略
func Default() *Policy {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("policy: embedded default is invalid: %v", err))
	}
	return p
}

// Load 从文件加载策略；path 为空时使用内置策略
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse 解析并校验策略
func Parse(data []byte) (*Policy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}

	p := &Policy{
		Version:           f.Version,
		SampleSizeCodes:   f.AQL.SampleSizeCodes,
		SampleSizes:       f.AQL.SampleSizes,
		Acceptance:        make(map[string]map[string]AcRe, len(f.AQL.Acceptance)),
		DefectTypeMapping: make(map[string]domain.DefectType, len(f.Defect.TypeMapping)),
	}

	if len(f.AQL.DefaultAcceptance) != 2 {
		return nil, fmt.Errorf("policy: default_acceptance must be [Ac, Re]")
	}
	p.DefaultAcceptance = AcRe{Ac: f.AQL.DefaultAcceptance[0], Re: f.AQL.DefaultAcceptance[1]}

	if len(p.SampleSizeCodes) == 0 {
		return nil, fmt.Errorf("policy: sample_size_codes is empty")
	}
	sort.Slice(p.SampleSizeCodes, func(i, j int) bool { return p.SampleSizeCodes[i].Min < p.SampleSizeCodes[j].Min })
	for i, r := range p.SampleSizeCodes {
		if r.Min > r.Max {
			return nil, fmt.Errorf("policy: range %s has min %d > max %d", r.Code, r.Min, r.Max)
		}
		if i > 0 && r.Min <= p.SampleSizeCodes[i-1].Max {
			return nil, fmt.Errorf("policy: range %s overlaps %s", r.Code, p.SampleSizeCodes[i-1].Code)
		}
		if _, ok := p.SampleSizes[r.Code]; !ok {
			return nil, fmt.Errorf("policy: no sample size for code %s", r.Code)
		}
	}

	for _, s := range f.AQL.Levels {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("policy: bad AQL level %q: %w", s, err)
		}
		p.Levels = append(p.Levels, d)
	}

	for code, row := range f.AQL.Acceptance {
		m := make(map[string]AcRe, len(row))
		for level, pair := range row {
			canon, ok := p.CanonicalLevel(level)
			if !ok {
				return nil, fmt.Errorf("policy: acceptance %s uses unknown level %s", code, level)
			}
			if len(pair) != 2 || pair[1] != pair[0]+1 {
				return nil, fmt.Errorf("policy: acceptance %s/%s must have Re = Ac + 1", code, level)
			}
			m[canon] = AcRe{Ac: pair[0], Re: pair[1]}
		}
		p.Acceptance[code] = m
	}

	p.DefaultInspectionLevel = domain.InspectionLevel(f.AQL.DefaultInspectionLevel)
	if !p.DefaultInspectionLevel.Valid() {
		return nil, fmt.Errorf("policy: invalid default inspection level %q", f.AQL.DefaultInspectionLevel)
	}

	p.Escalation = domain.EscalationThresholds{
		MajorMinQty:    f.Escalation.MajorMinQty,
		AnalysisMinQty: f.Escalation.AnalysisMinQty,
	}
	for _, s := range f.Escalation.AnalysisTypes {
		t := domain.DefectType(s)
		if !t.Valid() {
			return nil, fmt.Errorf("policy: invalid escalation type %q", s)
		}
		p.Escalation.AnalysisTypes = append(p.Escalation.AnalysisTypes, t)
	}

	p.DefaultDefectType = domain.DefectType(f.Defect.DefaultType)
	if !p.DefaultDefectType.Valid() {
		return nil, fmt.Errorf("policy: invalid default defect type %q", f.Defect.DefaultType)
	}
	p.DefaultSeverity = domain.Severity(f.Defect.DefaultSeverity)
	if !p.DefaultSeverity.Valid() {
		return nil, fmt.Errorf("policy: invalid default severity %q", f.Defect.DefaultSeverity)
	}
	for k, v := range f.Defect.TypeMapping {
		t := domain.DefectType(v)
		if !t.Valid() {
			return nil, fmt.Errorf("policy: mapping %s -> %q is not a defect type", k, v)
		}
		p.DefectTypeMapping[strings.ToLower(k)] = t
	}

	ratio, err := decimal.NewFromString(f.WorkOrder.SplitMinRatio)
	if err != nil {
		return nil, fmt.Errorf("policy: bad split_min_ratio: %w", err)
	}
	p.SplitMinRatio = ratio

	window, err := time.ParseDuration(f.Reporting.AmendmentWindow)
	if err != nil {
		return nil, fmt.Errorf("policy: bad amendment_window: %w", err)
	}
	p.AmendmentWindow = window

	return p, nil
}

// CanonicalLevel 把 "1"、"1.00" 等写法归一到表中的标准写法
func (p *Policy) CanonicalLevel(s string) (string, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	for _, l := range p.Levels {
		if l.Equal(d) {
			return l.StringFixed(levelPlaces(l)), true
		}
	}
	return "", false
}

// levelPlaces 0.10/0.15/0.25 等保留两位，1.0/1.5/2.5 保留一位
func levelPlaces(d decimal.Decimal) int32 {
	if d.LessThan(decimal.NewFromInt(1)) {
		return 2
	}
	return 1
}

// DefectTypeFor 按配置映射检验不良类别，无映射时取默认类型
func (p *Policy) DefectTypeFor(category string) domain.DefectType {
	if category == "" {
		return p.DefaultDefectType
	}
	if t, ok := p.DefectTypeMapping[strings.ToLower(category)]; ok {
		return t
	}
	if t := domain.DefectType(strings.ToLower(category)); t.Valid() {
		return t
	}
	return p.DefaultDefectType
}
