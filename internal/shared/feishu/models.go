package feishu

// BaseResponse 飞书API通用响应结构
type BaseResponse struct {
	Code int    `json:"code"` // 0 表示成功
	Msg  string `json:"msg"`
}

// InteractiveCard 飞书交互式消息卡片
type InteractiveCard struct {
	Config   *CardConfig   `json:"config,omitempty"`
	Header   *CardHeader   `json:"header,omitempty"`
	Elements []CardElement `json:"elements,omitempty"`
}

type CardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

// CardHeader Template 为标题颜色：blue/green/red/orange 等
type CardHeader struct {
	Title    CardText `json:"title"`
	Template string   `json:"template,omitempty"`
}

// CardText Tag 取 plain_text 或 lark_md
type CardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// CardElement div/hr/note 等卡片元素
type CardElement struct {
	Tag      string        `json:"tag"`
	Text     *CardText     `json:"text,omitempty"`
	Fields   []CardField   `json:"fields,omitempty"`
	Elements []CardElement `json:"elements,omitempty"` // note 子元素
	Content  string        `json:"content,omitempty"`
}

type CardField struct {
	IsShort bool     `json:"is_short"`
	Text    CardText `json:"text"`
}

// SendMessageResponse 发送消息响应
type SendMessageResponse struct {
	BaseResponse
	Data struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
}
