package publisher

import (
	"StructuredVault/internal/core"
	"StructuredVault/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher pushes committed vault events to NATS JetStream for downstream
// consumers. Delivery is best-effort: the engine drops publishes when the
// channel is full, and a failed publish is logged, not retried. Consumers
// that need completeness read the persisted event log.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
	logger    zerolog.Logger
}

// Message is the JSON wire form of a published event.
type Message struct {
	Sequence  int64       `json:"sequence"`
	VaultName string      `json:"vault_name"`
	ActionID  uint64      `json:"action_id"`
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
	StateHash string      `json:"state_hash"`
	PrevHash  string      `json:"prev_hash"`
	Timestamp time.Time   `json:"timestamp"`
}

func New(js jetstream.JetStream, inputChan <-chan core.Output) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run consumes the publish channel until ctx is cancelled or the channel
// closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, output); err != nil {
				p.logger.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("publish failed")
			}
		}
	}
}

// publish sends one event to svault.events.{event_type}.
func (p *Publisher) publish(ctx context.Context, output core.Output) error {
	env := output.Envelope
	msg := Message{
		Sequence:  env.Sequence,
		VaultName: env.VaultName,
		ActionID:  env.ActionID,
		EventType: env.EventType.String(),
		Payload:   env.Payload,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		PrevHash:  hex.EncodeToString(env.PrevHash[:]),
		Timestamp: env.Timestamp,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("svault.events.%s", msg.EventType)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SVAULT_EVENTS",
		Subjects:  []string{"svault.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	return nil
}
