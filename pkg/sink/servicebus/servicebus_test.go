package servicebus

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent    []*azservicebus.Message
	sendErr error
	closed  bool
}

func (f *fakeSender) SendMessage(ctx context.Context, m *azservicebus.Message, _ *azservicebus.SendMessageOptions) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a deadline")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) NewMessageBatch(context.Context, *azservicebus.MessageBatchOptions) (*azservicebus.MessageBatch, error) {
	return nil, errors.New("batches are not supported by the fake")
}

func (f *fakeSender) SendMessageBatch(context.Context, *azservicebus.MessageBatch, *azservicebus.SendMessageBatchOptions) error {
	return errors.New("batches are not supported by the fake")
}

func (f *fakeSender) Close(context.Context) error {
	f.closed = true
	return nil
}

func TestNewMessage(t *testing.T) {
	m := newMessage(`{"dt":1,"payload":"x"}`)
	require.Equal(t, []byte(`{"dt":1,"payload":"x"}`), m.Body)
	require.Equal(t, "application/json", *m.ContentType)
	require.Equal(t, "MyPayload", *m.Subject)
	require.Equal(t, TimeToLive, *m.TimeToLive)
}

func TestSend(t *testing.T) {
	fs := &fakeSender{}
	s := &Sink{sender: fs, logger: logging.NewNoopLogger()}
	require.NoError(t, s.Send(context.Background(), "a"))
	require.Len(t, fs.sent, 1)

	fs.sendErr = &azservicebus.Error{Code: azservicebus.CodeTimeout}
	err := s.Send(context.Background(), "b")
	require.Error(t, err)
	require.Equal(t, "ServiceBus.timeout", sink.KindOf(err))

	fs.sendErr = errors.New("boom")
	require.Equal(t, "ErrorString", sink.KindOf(s.Send(context.Background(), "c")))

	require.Error(t, s.SendBatch(context.Background(), []string{"d"}))
	require.NoError(t, s.Close(context.Background()))
	require.True(t, fs.closed)
}

func TestNewRequiresQueueName(t *testing.T) {
	_, err := New(context.Background(), sink.Config{ConnectionString: "Endpoint=sb://example.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=v"})
	require.Error(t, err)
}

func TestNewRejectsMalformedConnectionString(t *testing.T) {
	_, err := New(context.Background(), sink.Config{ConnectionString: "not a connection string", Name: "q"})
	require.Error(t, err)
}

func TestRegistered(t *testing.T) {
	require.True(t, sink.Exists(sink.QueueClient))
}
