package nats

import (
	"context"
	"testing"
	"time"

	"github.com/informalsystems/sink-load-test/pkg/sink"
	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestPublish(t *testing.T) {
	srv := runTestNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	ch := make(chan *nats.Msg, 16)
	subscription, err := sub.ChanSubscribe("loadtest", ch)
	require.NoError(t, err)
	defer func() { _ = subscription.Unsubscribe() }()
	require.NoError(t, sub.Flush())

	s, err := New(sink.Config{ConnectionString: srv.ClientURL(), Name: "loadtest"})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "one"))
	require.NoError(t, s.SendBatch(context.Background(), []string{"two", "three"}))

	var got []string
	for len(got) < 3 {
		select {
		case m := <-ch:
			got = append(got, string(m.Data))
		case <-time.After(5 * time.Second):
			t.Fatalf("only received %v", got)
		}
	}
	require.Equal(t, []string{"one", "two", "three"}, got)

	require.NoError(t, s.Close(context.Background()))
	require.True(t, s.nc.IsClosed())
	err = s.Send(context.Background(), "four")
	require.Error(t, err)
	require.Equal(t, "ConnectionClosed", sink.KindOf(err))

	// closing twice is harmless
	require.NoError(t, s.Close(context.Background()))
}

func TestNewRequiresSubject(t *testing.T) {
	_, err := New(sink.Config{ConnectionString: "nats://127.0.0.1:1"})
	require.Error(t, err)
}

func TestNewFailsWithoutServer(t *testing.T) {
	_, err := New(sink.Config{ConnectionString: "nats://127.0.0.1:1", Name: "x", SendTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestWrap(t *testing.T) {
	require.Nil(t, wrap("send", nil))
	require.Equal(t, "ConnectionClosed", sink.KindOf(wrap("send", nats.ErrConnectionClosed)))
	require.Equal(t, "MaxPayload", sink.KindOf(wrap("send", nats.ErrMaxPayload)))
	require.Equal(t, "Timeout", sink.KindOf(wrap("send", nats.ErrTimeout)))
}
