package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/restful/core"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotify(t *testing.T) {
	writer := &fakeWriter{}
	k := newKafka(writer)
	k.now = func() time.Time { return time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, k.Notify(context.Background(), "partner", core.OperationCreate, 3, []byte(`{"id":3,"name":"Acme"}`)))
	require.NoError(t, k.Notify(context.Background(), "partner", core.OperationDelete, 3, nil))
	require.Len(t, writer.messages, 2)

	m := writer.messages[0]
	assert.Equal(t, "partner", string(m.Key))
	assert.JSONEq(t, `{"kind":"partner","operation":"create","id":3,"body":{"id":3,"name":"Acme"},"created_at":"2021-03-01T12:00:00Z"}`,
		string(m.Value))
	assert.Equal(t, []kafka.Header{{Key: "operation", Value: []byte("create")}, {Key: "id", Value: []byte("3")}}, m.Headers)

	n := Notification{}
	require.NoError(t, json.Unmarshal(writer.messages[1].Value, &n))
	assert.Equal(t, core.OperationDelete, n.Operation)
	assert.Equal(t, "{}", string(n.Body))

	writer.err = errors.New("leader not available")
	assert.Error(t, k.Notify(context.Background(), "partner", core.OperationUpdate, 3, []byte(`{}`)))

	require.NoError(t, k.Close())
	assert.True(t, writer.closed)
}

func TestFunc(t *testing.T) {
	var got string
	var n core.Notifier = Func(func(ctx context.Context, kind string, operation core.Operation, id int64, payload []byte) error {
		got = kind + "/" + string(operation)
		return nil
	})
	require.NoError(t, n.Notify(context.Background(), "tag", core.OperationUpdate, 1, nil))
	assert.Equal(t, "tag/update", got)
}
