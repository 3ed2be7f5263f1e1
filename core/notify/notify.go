// Package notify publishes write notifications of entities.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/restful/core"
	"github.com/relabs-tech/restful/core/logger"
)

// Notification is the message published for every successful write
type Notification struct {
	Kind      string          `json:"kind"`
	Operation core.Operation  `json:"operation"`
	ID        int64           `json:"id"`
	Body      json.RawMessage `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes notifications to a kafka topic. Messages are keyed by kind,
// so notifications of one kind keep their order.
type Kafka struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafka returns a notifier writing to topic on brokers
func NewKafka(brokers []string, topic string) *Kafka {
	logger.Default().Infof("publishing notifications to kafka topic %s on %v", topic, brokers)
	return newKafka(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	})
}

func newKafka(writer messageWriter) *Kafka {
	return &Kafka{writer: writer, now: time.Now}
}

// Notify implements core.Notifier
func (k *Kafka) Notify(ctx context.Context, kind string, operation core.Operation, id int64, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	value, err := json.Marshal(Notification{
		Kind:      kind,
		Operation: operation,
		ID:        id,
		Body:      payload,
		CreatedAt: k.now().UTC(),
	})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(kind),
		Value: value,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(operation)},
			{Key: "id", Value: []byte(strconv.FormatInt(id, 10))},
		},
	})
}

// Close flushes pending messages and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Func adapts a function to core.Notifier
type Func func(ctx context.Context, kind string, operation core.Operation, id int64, payload []byte) error

// Notify implements core.Notifier
func (f Func) Notify(ctx context.Context, kind string, operation core.Operation, id int64, payload []byte) error {
	return f(ctx, kind, operation, id, payload)
}
