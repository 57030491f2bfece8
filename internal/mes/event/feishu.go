package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/errs"
	"github.com/ericaxiaweilin/EngHub/internal/shared/feishu"
	"go.uber.org/zap"
)

// CardSender 发送飞书卡片，*feishu.Client 满足
type CardSender interface {
	SendCard(ctx context.Context, chatID string, card feishu.InteractiveCard) (string, error)
}

// FeishuNotifier 纠正措施触发和严重缺陷推送到质量群。
// 其他事件忽略；发送在后台进行，失败只记日志，不影响业务提交。
type FeishuNotifier struct {
	sender  CardSender
	chatID  string
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewFeishuNotifier(sender CardSender, chatID string, log *zap.Logger) *FeishuNotifier {
	return &FeishuNotifier{sender: sender, chatID: chatID, log: log, timeout: 10 * time.Second}
}

func (n *FeishuNotifier) Publish(_ context.Context, e Event) error {
	card, ok := alertCard(e)
	if !ok {
		return nil
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if _, err := n.sender.SendCard(ctx, n.chatID, card); err != nil {
			n.log.Warn("feishu alert failed",
				zap.String("event", e.Type), zap.String("entity_code", e.EntityCode), errs.Field(err))
		}
	}()
	return nil
}

// Wait 等待已发出的告警完成，关闭进程前调用
func (n *FeishuNotifier) Wait() {
	n.wg.Wait()
}

func alertCard(e Event) (feishu.InteractiveCard, bool) {
	str := func(key string) string {
		if v, ok := e.Data[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	switch e.Type {
	case CATriggered:
		return feishu.NewAlertCard("纠正措施已触发 "+e.EntityCode, "red", []feishu.AlertField{
			{Label: "工厂", Value: e.Factory},
			{Label: "缺陷", Value: str("defect_code")},
			{Label: "严重度", Value: str("severity")},
			{Label: "数量", Value: str("quantity")},
			{Label: "触发原因", Value: str("reason")},
			{Label: "时间", Value: e.OccurredAt.Format("2006-01-02 15:04")},
		}, "请质量负责人开始根因分析"), true
	case DefectCreated:
		if str("severity") != "critical" {
			return feishu.InteractiveCard{}, false
		}
		return feishu.NewAlertCard("严重缺陷 "+e.EntityCode, "orange", []feishu.AlertField{
			{Label: "工厂", Value: e.Factory},
			{Label: "类型", Value: str("type")},
			{Label: "数量", Value: str("quantity")},
			{Label: "工单", Value: str("work_order_id")},
			{Label: "批次", Value: str("batch_code")},
			{Label: "工位", Value: str("station_id")},
		}, ""), true
	}
	return feishu.InteractiveCard{}, false
}
