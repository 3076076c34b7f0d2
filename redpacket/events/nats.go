package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	claimsToken      = "claims"
	settlementsToken = "settlements"
)

// JetStreamPublisher publishes events to a JetStream stream. The transaction
// reference is used as the message id so the broker drops duplicates.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	prefix string
}

// Connect dials url and returns a publisher bound to the given stream, creating
// or updating the stream to cover prefix.>.
func Connect(ctx context.Context, url, stream, prefix string) (*JetStreamPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("redpacket"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	pub, err := NewJetStreamPublisher(ctx, nc, stream, prefix)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return pub, nc, nil
}

func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, stream, prefix string) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", stream, err)
	}

	slog.Info("Event stream ready",
		slog.String("type", "sys"),
		slog.String("stream", stream),
		slog.String("subjects", prefix+".>"))

	return &JetStreamPublisher{js: js, prefix: prefix}, nil
}

func (p *JetStreamPublisher) ClaimSubject(activityID int64) string {
	return fmt.Sprintf("%s.%s.%d", p.prefix, claimsToken, activityID)
}

func (p *JetStreamPublisher) SettlementSubject(activityID int64) string {
	return fmt.Sprintf("%s.%s.%d", p.prefix, settlementsToken, activityID)
}

func (p *JetStreamPublisher) PublishClaim(ctx context.Context, event ClaimEvent) error {
	return p.publish(ctx, p.ClaimSubject(event.ActivityID), "claim-"+event.TransactionRef, event)
}

func (p *JetStreamPublisher) PublishSettlement(ctx context.Context, event SettlementEvent) error {
	return p.publish(ctx, p.SettlementSubject(event.ActivityID), "settle-"+event.TransactionRef, event)
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject, msgID string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
