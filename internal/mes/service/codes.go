package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/shared/sequence"
	"github.com/google/uuid"
)

// CodeGenerator 业务编码，流水号来自共享计数器，按天分段
type CodeGenerator struct {
	counter sequence.Counter
}

func NewCodeGenerator(counter sequence.Counter) *CodeGenerator {
	return &CodeGenerator{counter: counter}
}

func (g *CodeGenerator) next(ctx context.Context, key string) (int64, error) {
	n, err := g.counter.Next(ctx, key)
	if err != nil {
		return 0, errs.Wrapf(err, "next sequence %s", key)
	}
	return n, nil
}

// WorkOrder WO-{工厂}-{日期}-{4位流水}
func (g *CodeGenerator) WorkOrder(ctx context.Context, factory string, now time.Time) (string, error) {
	day := now.Format("20060102")
	n, err := g.next(ctx, "WO:"+factory+":"+day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("WO-%s-%s-%04d", factory, day, n), nil
}

// Report PR-{工单号}-{日期}-{3位流水}
func (g *CodeGenerator) Report(ctx context.Context, woCode string, now time.Time) (string, error) {
	day := now.Format("20060102")
	n, err := g.next(ctx, "PR:"+woCode+":"+day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PR-%s-%s-%03d", woCode, day, n), nil
}

// Inspection INS-{工厂}-{类型}-{日期}-{3位流水}
func (g *CodeGenerator) Inspection(ctx context.Context, factory string, typ domain.InspectionType, now time.Time) (string, error) {
	day := now.Format("20060102")
	t := strings.ToUpper(string(typ))
	n, err := g.next(ctx, "INS:"+factory+":"+t+":"+day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INS-%s-%s-%s-%03d", factory, t, day, n), nil
}

// Defect DEF-{工厂}-{日期}-{4位流水}
func (g *CodeGenerator) Defect(ctx context.Context, factory string, now time.Time) (string, error) {
	day := now.Format("20060102")
	n, err := g.next(ctx, "DEF:"+factory+":"+day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DEF-%s-%s-%04d", factory, day, n), nil
}

// CorrectiveAction OCAP-{工厂}-{日期}-{3位流水}
func (g *CodeGenerator) CorrectiveAction(ctx context.Context, factory string, now time.Time) (string, error) {
	day := now.Format("20060102")
	n, err := g.next(ctx, "OCAP:"+factory+":"+day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("OCAP-%s-%s-%03d", factory, day, n), nil
}

// Count CNT-{仓库}-{日期}-{3位流水}
func (g *CodeGenerator) Count(ctx context.Context, warehouseID string, now time.Time) (string, error) {
	day := now.Format("20060102")
	n, err := g.next(ctx, "CNT:"+warehouseID+":"+day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CNT-%s-%s-%03d", warehouseID, day, n), nil
}

// BatchCode BATCH-{物料编码}-{收货日期}-{6位随机}。
// 随机后缀不保证唯一，由批次号唯一索引兜底。
func BatchCode(materialCode string, receiveDate time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("BATCH-%s-%s-%s", materialCode, receiveDate.Format("20060102"), suffix)
}
