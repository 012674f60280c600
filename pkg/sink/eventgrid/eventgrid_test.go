package eventgrid

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/informalsystems/sink-load-test/pkg/sink"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type topicServer struct {
	mtx      sync.Mutex
	requests [][]Event
	keys     []string
	uris     []string
	status   int
}

func (ts *topicServer) handle(rc *fasthttp.RequestCtx) {
	var events []Event
	if err := json.Unmarshal(rc.PostBody(), &events); err != nil {
		rc.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	ts.mtx.Lock()
	ts.requests = append(ts.requests, events)
	ts.keys = append(ts.keys, string(rc.Request.Header.Peek(sasHeader)))
	ts.uris = append(ts.uris, string(rc.RequestURI()))
	status := ts.status
	ts.mtx.Unlock()
	if status == 0 {
		status = fasthttp.StatusOK
	}
	rc.SetStatusCode(status)
}

func newInMemoryTopic(t *testing.T) (*topicServer, *fasthttp.Client) {
	t.Helper()

	ts := &topicServer{}
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: ts.handle}
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ln)
		close(done)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		_ = srv.Shutdown()
		<-done
	})
	return ts, &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
}

func TestParseConnectionString(t *testing.T) {
	testCases := []struct {
		connStr     string
		expEndpoint string
		expKey      string
		expErr      bool
	}{
		{
			"Endpoint=https://mytopic.westus2-1.eventgrid.azure.net/api/events,TopicKey=abc123==",
			"https://mytopic.westus2-1.eventgrid.azure.net/api/events?api-version=2018-01-01",
			"abc123==",
			false,
		},
		{
			"Endpoint=https://mytopic.westus2-1.eventgrid.azure.net, TopicKey=k",
			"https://mytopic.westus2-1.eventgrid.azure.net/api/events?api-version=2018-01-01",
			"k",
			false,
		},
		{"Endpoint=https://host", "", "", true},
		{"TopicKey=k", "", "", true},
		{"Endpoint=/just/a/path,TopicKey=k", "", "", true},
	}
	for i, tc := range testCases {
		endpoint, key, err := ParseConnectionString(tc.connStr)
		if tc.expErr {
			require.Error(t, err, "test case %d", i)
			continue
		}
		require.NoError(t, err, "test case %d", i)
		require.Equal(t, tc.expEndpoint, endpoint, "test case %d", i)
		require.Equal(t, tc.expKey, key, "test case %d", i)
	}
}

func TestPublish(t *testing.T) {
	ts, client := newInMemoryTopic(t)
	s, err := New(sink.Config{ConnectionString: "Endpoint=http://topic.test/api/events,TopicKey=secret="}, client)
	require.NoError(t, err)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Send(context.Background(), `{"dt":1,"payload":"a"}`))
	require.NoError(t, s.SendBatch(context.Background(), []string{"b", "c", "d"}))

	require.Len(t, ts.requests, 2)
	require.Len(t, ts.requests[0], 1)
	ev := ts.requests[0][0]
	require.Equal(t, `{"dt":1,"payload":"a"}`, ev.Data)
	require.Equal(t, EventType, ev.EventType)
	require.Equal(t, Subject, ev.Subject)
	require.Equal(t, DataVersion, ev.DataVersion)
	require.True(t, fixed.Equal(ev.EventTime))
	require.Len(t, ev.ID, 36)

	require.Len(t, ts.requests[1], 3)
	require.NotEqual(t, ts.requests[1][0].ID, ts.requests[1][1].ID)
	require.Equal(t, []string{"secret=", "secret="}, ts.keys)
	require.Equal(t, "/api/events?api-version=2018-01-01", ts.uris[0])
	require.NoError(t, s.Close(context.Background()))
}

func TestPublishRejected(t *testing.T) {
	ts, client := newInMemoryTopic(t)
	ts.status = fasthttp.StatusUnauthorized
	s, err := New(sink.Config{ConnectionString: "Endpoint=http://topic.test,TopicKey=wrong"}, client)
	require.NoError(t, err)

	err = s.Send(context.Background(), "x")
	require.Error(t, err)
	require.Equal(t, "HTTP401", sink.KindOf(err))
}

func TestPublishCancelled(t *testing.T) {
	_, client := newInMemoryTopic(t)
	s, err := New(sink.Config{ConnectionString: "Endpoint=http://topic.test,TopicKey=k"}, client)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, "Canceled", sink.KindOf(s.Send(ctx, "x")))
}
