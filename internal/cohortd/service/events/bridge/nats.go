// Package bridge mirrors bus events onto NATS subjects.
package bridge

import (
	"fmt"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/events/domain/entity"
	"github.com/kiosk404/cohort/pkg/logger"
	"github.com/kiosk404/cohort/pkg/utils/json"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "cohort.events"

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBridge publishes every event to "<prefix>.<taskID>".
type NATSBridge struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
}

// Dial connects to url and returns a bridge owning the connection.
func Dial(url, prefix string) (*NATSBridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("cohortd"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("[EventBridge] nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("[EventBridge] nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats %s: %w", url, err)
	}
	b := New(nc, prefix)
	b.conn = nc
	return b, nil
}

// New wraps an existing publisher.
func New(pub Publisher, prefix string) *NATSBridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSBridge{pub: pub, prefix: prefix}
}

// Subject returns the subject an event of taskID is published on.
func (b *NATSBridge) Subject(taskID string) string {
	return b.prefix + "." + taskID
}

// Forward never fails the publisher; errors are logged.
func (b *NATSBridge) Forward(event *entity.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Warn("[EventBridge] failed to marshal event %d: %v", event.Seq, err)
		return
	}
	if err := b.pub.Publish(b.Subject(event.TaskID), data); err != nil {
		logger.Warn("[EventBridge] failed to publish event %d of task %s: %v", event.Seq, event.TaskID, err)
	}
}

// Close drains the owned connection, if any.
func (b *NATSBridge) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
