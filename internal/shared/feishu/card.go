package feishu

import (
	"context"
	"encoding/json"
	"fmt"
)

// SendCard 向群聊发送消息卡片，返回消息ID
func (c *Client) SendCard(ctx context.Context, chatID string, card InteractiveCard) (string, error) {
	cardBytes, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("序列化卡片内容失败: %w", err)
	}
	reqBody := map[string]interface{}{
		"receive_id": chatID,
		"msg_type":   "interactive",
		"content":    string(cardBytes),
	}

	var resp SendMessageResponse
	if err := c.doRequest(ctx, "POST", "/open-apis/im/v1/messages?receive_id_type=chat_id", reqBody, &resp); err != nil {
		return "", fmt.Errorf("发送消息卡片失败: %w", err)
	}
	return resp.Data.MessageID, nil
}

// AlertField 卡片中并排显示的一项
type AlertField struct {
	Label string
	Value string
}

// NewAlertCard 质量告警卡片：标题、字段两列排布、可选底部提示
func NewAlertCard(title, template string, fields []AlertField, note string) InteractiveCard {
	cardFields := make([]CardField, 0, len(fields))
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		cardFields = append(cardFields, CardField{
			IsShort: true,
			Text:    CardText{Tag: "lark_md", Content: fmt.Sprintf("**%s**\n%s", f.Label, f.Value)},
		})
	}

	elements := []CardElement{{Tag: "div", Fields: cardFields}}
	if note != "" {
		elements = append(elements,
			CardElement{Tag: "hr"},
			CardElement{Tag: "note", Elements: []CardElement{{Tag: "plain_text", Content: note}}},
		)
	}
	return InteractiveCard{
		Config:   &CardConfig{WideScreenMode: true},
		Header:   &CardHeader{Title: CardText{Tag: "plain_text", Content: title}, Template: template},
		Elements: elements,
	}
}
