package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

func startEmbeddedNATS(t *testing.T) *nats.Conn {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Timeout(2*time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestJetStreamPublisher(t *testing.T) {
	nc := startEmbeddedNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, err := NewJetStreamPublisher(ctx, nc, "REDPACKET_TEST", "rp")
	require.NoError(t, err)

	event := ClaimEvent{
		ActivityID:     9,
		UserID:         "alice",
		ShareIndex:     3,
		Amount:         125,
		TransactionRef: "RP-abc",
		ClaimedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, pub.PublishClaim(ctx, event))
	// same transaction ref is de-duplicated by the stream
	require.NoError(t, pub.PublishClaim(ctx, event))
	require.NoError(t, pub.PublishSettlement(ctx, SettlementEvent{
		ActivityID: 9, UserID: "alice", Amount: 125, TransactionRef: "RP-abc", SettledAt: time.Now(),
	}))

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	stream, err := js.Stream(ctx, "REDPACKET_TEST")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), info.State.Msgs)

	msg, err := stream.GetLastMsgForSubject(ctx, pub.ClaimSubject(9))
	require.NoError(t, err)

	var got ClaimEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, event, got)
}

func TestNopPublisher(t *testing.T) {
	pub := NewNop()
	require.NoError(t, pub.PublishClaim(context.Background(), ClaimEvent{}))
	require.NoError(t, pub.PublishSettlement(context.Background(), SettlementEvent{}))
}
