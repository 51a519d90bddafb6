package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderEventProducer writes order lifecycle events keyed by order id, so
// every event of one order lands on the same partition.
type OrderEventProducer struct {
	writer messageWriter
	topic  string
}

func NewOrderEventProducer(brokers []string, topic string) *OrderEventProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 5 * time.Second,
	}
	return &OrderEventProducer{writer: w, topic: topic}
}

func (p *OrderEventProducer) Publish(ctx context.Context, event models.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := event.AttemptKey
	if event.OrderID != 0 {
		key = strconv.FormatUint(uint64(event.OrderID), 10)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

func (p *OrderEventProducer) Close() error {
	return p.writer.Close()
}
