package storagequeue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/informalsystems/sink-load-test/pkg/sink"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	messages []string
	err      error
}

func (q *fakeQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if q.err != nil {
		return azqueue.EnqueueMessagesResponse{}, q.err
	}
	q.messages = append(q.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestSendAndSendBatch(t *testing.T) {
	q := &fakeQueue{}
	s := &Sink{queue: q}
	require.NoError(t, s.Send(context.Background(), `{"dt":1,"payload":"a"}`))
	require.NoError(t, s.SendBatch(context.Background(), []string{`{"dt":1,"payload":"b"}`, `{"dt":2,"payload":"c"}`}))
	require.Len(t, q.messages, 2)
	require.Equal(t, `{"dt":1,"payload":"a"}`, q.messages[0])

	var batch []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(q.messages[1]), &batch))
	require.Len(t, batch, 2)
	require.Equal(t, "c", batch[1]["payload"])
	require.NoError(t, s.Close(context.Background()))
}

func TestErrorsAreClassified(t *testing.T) {
	q := &fakeQueue{err: &azcore.ResponseError{ErrorCode: "QueueBeingDeleted", StatusCode: 409}}
	s := &Sink{queue: q}
	require.Equal(t, "Storage.QueueBeingDeleted", sink.KindOf(s.Send(context.Background(), "x")))
}

func TestJoinPayloads(t *testing.T) {
	require.Equal(t, "[]", joinPayloads(nil))
	require.Equal(t, `[{"a":1}]`, joinPayloads([]string{`{"a":1}`}))
	require.Equal(t, `[{"a":1},{"b":2}]`, joinPayloads([]string{`{"a":1}`, `{"b":2}`}))
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), sink.Config{ConnectionString: "garbage"})
	require.Error(t, err)
	_, err = New(context.Background(), sink.Config{ConnectionString: "garbage", Name: "q"})
	require.Error(t, err)
	require.True(t, sink.Exists(sink.BlobQueue))
}
