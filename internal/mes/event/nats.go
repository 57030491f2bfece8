package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ericaxiaweilin/EngHub/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Conn 发布所需的最小连接接口，*nats.Conn 满足
type Conn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher 发布到 {prefix}.{type}，如 mes.workorder.completed
type NATSPublisher struct {
	conn   Conn
	prefix string
}

func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "mes"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject 事件对应主题
func (p *NATSPublisher) Subject(e Event) string {
	return p.prefix + "." + e.Type
}

func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("publish %s: %w", p.Subject(e), err)
	}
	return nil
}

// ConnectNATS 建立连接；断线自动重连并记录日志
func ConnectNATS(cfg config.NATSConfig, log *zap.Logger) (*nats.Conn, error) {
	name := cfg.Name
	if name == "" {
		name = "nimo-mes"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}
