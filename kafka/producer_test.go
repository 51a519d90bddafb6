package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestOrderEventProducer_KeysByOrder(t *testing.T) {
	w := &recordingWriter{}
	p := &OrderEventProducer{writer: w, topic: "order.events"}

	require.NoError(t, p.Publish(context.Background(), models.OrderEvent{Type: models.EventOrderConfirmed, OrderID: 12, UserID: 3}))
	require.NoError(t, p.Publish(context.Background(), models.OrderEvent{Type: models.EventReconciliationRequired, AttemptKey: "att-1", UserID: 3}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "12", string(w.msgs[0].Key))
	assert.Equal(t, "order.confirmed", string(w.msgs[0].Headers[0].Value))
	assert.Equal(t, "att-1", string(w.msgs[1].Key))

	var decoded models.OrderEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, uint(12), decoded.OrderID)
}
