package routerloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/device"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

func TestExtractCommandProbesFieldsInOrder(t *testing.T) {
	assert.Equal(t, "TTP00002=?", extractCommand([]byte(`{"cmd":"TTP00002=?"}`)))
	assert.Equal(t, "TTP00002=?", extractCommand([]byte(`{"msg":"TTP00002=?"}`)))
	assert.Equal(t, "TTP00002=?", extractCommand([]byte(`{"line":"TTP00002=?"}`)))
	assert.Equal(t, "TTP00002=?", extractCommand([]byte(`{"text":"TTP00002=?"}`)))
	assert.Equal(t, "msg wins", extractCommand([]byte(`{"msg":"msg wins","cmd":"cmd loses"}`)))
}

func TestExtractCommandPlaintextFallback(t *testing.T) {
	assert.Equal(t, "TTP00002=?", extractCommand([]byte("TTP00002=?")))
}

type echoAdapter struct{}

func (echoAdapter) Execute(ctx context.Context, cmd model.ParsedCommand) (string, error) {
	if cmd.IsRead() {
		return device.ReplyRead(cmd.Pkey, "16"), nil
	}
	return device.ReplyAck(cmd.Pkey, cmd.Value), nil
}

func TestProcessMultiCommand(t *testing.T) {
	r := &Router{Adapters: map[string]device.Adapter{
		"vj6530": echoAdapter{},
	}}
	row := &model.InboxRecord{ID: 1, Payload: []byte(`{"cmd":"TTP00002=23, TTP00003=10"}`)}

	replies, err := r.process(context.Background(), row)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACK_TTP00002=23", "ACK_TTP00003=10"}, replies)
}

func TestProcessParseFailureDoesNotBlockOthers(t *testing.T) {
	r := &Router{Adapters: map[string]device.Adapter{"vj6530": echoAdapter{}}}
	row := &model.InboxRecord{ID: 1, Payload: []byte(`{"cmd":"TTP 2=3, TTP00003=10"}`)}

	replies, err := r.process(context.Background(), row)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACK_TTP00003=10"}, replies)
}

func TestProcessUnknownChannel(t *testing.T) {
	r := &Router{Adapters: map[string]device.Adapter{}}
	row := &model.InboxRecord{ID: 1, Payload: []byte(`{"cmd":"TTP00002=?"}`)}

	replies, err := r.process(context.Background(), row)
	require.NoError(t, err)
	assert.Equal(t, []string{"TTP00002=NAK_UnknownDevice"}, replies)
}

func TestBuildJobCorrelation(t *testing.T) {
	r := &Router{PeerInboxURL: "https://peer.example/api/inbox"}
	row := &model.InboxRecord{ID: 1, IdempotencyKey: "k1"}

	job := r.buildJob(row, "TTP00002=16")
	assert.Equal(t, "k1", job.CorrelationID)
	assert.Equal(t, "k1", job.Headers["X-Correlation-Id"])
	assert.NotEqual(t, "k1", job.Headers["X-Idempotency-Key"])
	assert.NotEmpty(t, job.Headers["X-Idempotency-Key"])
	assert.Equal(t, "https://peer.example/api/inbox", job.URL)
	assert.Contains(t, string(job.Body), "TTP00002=16")
}
