// Package aql 实现 AQL 抽样判定：批量 -> 样本量字码 -> 样本量，字码 x AQL -> Ac/Re。
// 引擎无状态，同样输入永远得到同样结果。
package aql

import (
	"fmt"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/policy"
)

// Result 判定结果
type Result string

const (
	Pass Result = "pass"
	Fail Result = "fail"
)

// Sample 抽样方案
type Sample struct {
	Code string `json:"sample_size_code"`
	Size int    `json:"sample_size"`
}

// Judgment 一次判定的完整结果
type Judgment struct {
	Sample
	Level     string `json:"aql_level"`
	Ac        int    `json:"ac"`
	Re        int    `json:"re"`
	Defective int    `json:"defective_qty"`
	Result    Result `json:"result"`
}

// Engine AQL 判定引擎
type Engine struct {
	p *policy.Policy
}

func NewEngine(p *policy.Policy) *Engine {
	return &Engine{p: p}
}

// SampleFor 按批量查样本量字码；不落在任何区间内的批量（含小于最小区间）一律取最大字码
func (e *Engine) SampleFor(batchSize int) Sample {
	ranges := e.p.SampleSizeCodes
	code := ranges[len(ranges)-1].Code
	for _, r := range ranges {
		if batchSize >= r.Min && batchSize <= r.Max {
			code = r.Code
			break
		}
	}
	return Sample{Code: code, Size: e.p.SampleSizes[code]}
}

// Limits 查接收数/拒收数，表中缺失的组合取默认值
func (e *Engine) Limits(code, level string) policy.AcRe {
	if row, ok := e.p.Acceptance[code]; ok {
		if ar, ok := row[level]; ok {
			return ar
		}
	}
	return e.p.DefaultAcceptance
}

// NormalizeLevel 校验 AQL 值属于固定集合并返回标准写法
func (e *Engine) NormalizeLevel(level string) (string, error) {
	canon, ok := e.p.CanonicalLevel(level)
	if !ok {
		return "", domain.InvalidArgument("aql", "evaluate", fmt.Sprintf("unsupported AQL level %q", level))
	}
	return canon, nil
}

// Evaluate 判定：不良数 ≤ Ac 则合格
func (e *Engine) Evaluate(batchSize, defective int, level string) (Judgment, error) {
	if batchSize <= 0 {
		return Judgment{}, domain.InvalidArgument("aql", "evaluate", "batch size must be positive")
	}
	if defective < 0 {
		return Judgment{}, domain.InvalidArgument("aql", "evaluate", "defective quantity must not be negative")
	}
	canon, err := e.NormalizeLevel(level)
	if err != nil {
		return Judgment{}, err
	}

	s := e.SampleFor(batchSize)
	ar := e.Limits(s.Code, canon)
	j := Judgment{
		Sample:    s,
		Level:     canon,
		Ac:        ar.Ac,
		Re:        ar.Re,
		Defective: defective,
		Result:    Fail,
	}
	if defective <= ar.Ac {
		j.Result = Pass
	}
	return j, nil
}
