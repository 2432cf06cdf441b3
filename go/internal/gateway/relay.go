package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const originHeader = "Scoreboard-Origin"

// RelayConfig holds configuration for the JetStream event relay
type RelayConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string // events go to <prefix>.<room>
	MaxAge        time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultRelayConfig returns default relay configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           nats.DefaultURL,
		StreamName:    "SCOREBOARD_EVENTS",
		SubjectPrefix: "scoreboard.events",
		MaxAge:        time.Hour,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Relay shares room events between gateway instances over JetStream. Events
// published locally are forwarded to the stream; events other instances
// forwarded are delivered to local rooms.
type Relay struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config RelayConfig
	origin string
	local  events.Publisher

	consumeCtx jetstream.ConsumeContext
}

// NewRelay connects to NATS and makes sure the stream exists. Remote events
// are handed to local.
func NewRelay(ctx context.Context, cfg RelayConfig, local events.Publisher) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("scoreboard-gateway"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc, jetstream.WithPublishAsyncErrHandler(func(_ jetstream.JetStream, msg *nats.Msg, err error) {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to relay event")
	}))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := newRelay(cfg, local)
	r.nc, r.js = nc, js
	if err := r.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return r, nil
}

func newRelay(cfg RelayConfig, local events.Publisher) *Relay {
	return &Relay{
		config: cfg,
		origin: uuid.New().String(),
		local:  local,
	}
}

func (r *Relay) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Scoreboard room events shared between gateway instances",
		Subjects:    []string{r.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      r.config.MaxAge,
		Storage:     jetstream.MemoryStorage,
		Duplicates:  time.Minute,
	}

	stream, err := r.js.Stream(ctx, r.config.StreamName)
	if err != nil {
		if _, err = r.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if info.Config.MaxAge != sc.MaxAge || info.Config.Duplicates != sc.Duplicates {
		if _, err = r.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// Publish forwards ev to the stream without waiting for the ack.
func (r *Relay) Publish(_ context.Context, ev *events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for relay")
		return
	}
	msg := &nats.Msg{
		Subject: subjectFor(r.config.SubjectPrefix, ev.Room),
		Data:    data,
		Header: nats.Header{
			originHeader: []string{r.origin},
			"Event-Type": []string{string(ev.Type)},
		},
	}
	if _, err := r.js.PublishMsgAsync(msg, jetstream.WithMsgID(ev.ID)); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to relay event")
	}
}

// Start consumes events from other instances until Stop is called. Only
// events published after Start are delivered.
func (r *Relay) Start(ctx context.Context) error {
	consumer, err := r.js.OrderedConsumer(ctx, r.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{r.config.SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	r.consumeCtx, err = consumer.Consume(func(msg jetstream.Msg) {
		if err := r.deliver(ctx, msg.Headers(), msg.Data()); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process relayed event")
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	log.Info().
		Str("stream", r.config.StreamName).
		Str("origin", r.origin).
		Msg("event relay started")
	return nil
}

// deliver hands a relayed event to local rooms. Events this instance
// published itself are skipped; they were delivered locally already.
func (r *Relay) deliver(ctx context.Context, headers nats.Header, data []byte) error {
	if headers.Get(originHeader) == r.origin {
		return nil
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	r.local.Publish(ctx, &ev)
	return nil
}

// Stop stops consuming and closes the NATS connection
func (r *Relay) Stop() error {
	if r.consumeCtx != nil {
		r.consumeCtx.Stop()
	}
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			r.nc.Close()
			return fmt.Errorf("drain NATS connection: %w", err)
		}
	}
	log.Info().Msg("event relay stopped")
	return nil
}

// subjectFor maps a room onto a single subject token.
func subjectFor(prefix, room string) string {
	return prefix + "." + strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(room)
}
