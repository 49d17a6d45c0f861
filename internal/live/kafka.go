package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"stockboard/internal/domain"
	"stockboard/internal/eventbus"
	applog "stockboard/internal/log"
)

// KafkaSource reads the same notification payloads from a topic. The kind may
// arrive in an event_type header instead of the body.
type KafkaSource struct {
	stateMachine
	brokers []string
	topic   string
	groupID string
	pub     eventbus.Publisher

	mu     sync.Mutex
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	done   chan struct{}
}

func NewKafkaSource(brokers []string, topic, groupID string, pub eventbus.Publisher, hook StateHook) *KafkaSource {
	return &KafkaSource{
		stateMachine: stateMachine{state: Disconnected, hook: hook, name: "kafka"},
		brokers:      brokers,
		topic:        topic,
		groupID:      groupID,
		pub:          pub,
	}
}

func (k *KafkaSource) Connect(ctx context.Context) error {
	if !k.transition(Connecting, Disconnected) {
		return nil
	}
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(k.brokers, k.groupID, config)
	if err != nil {
		k.transition(Disconnected)
		return &domain.Error{Kind: domain.KindNetwork, Op: "live.connect", Err: fmt.Errorf("kafka consumer group: %w", err)}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	k.mu.Lock()
	k.group, k.cancel, k.done = group, cancel, done
	k.mu.Unlock()

	applog.Logger.Info().
		Strs("brokers", k.brokers).
		Str("group_id", k.groupID).
		Str("topic", k.topic).
		Msg("kafka live source started")

	go func() {
		for err := range group.Errors() {
			applog.Logger.Error().Err(err).Msg("kafka consumer error")
		}
	}()
	go k.consume(runCtx, group, done)
	return nil
}

func (k *KafkaSource) consume(ctx context.Context, group sarama.ConsumerGroup, done chan struct{}) {
	defer close(done)
	h := &claimHandler{source: k}
	for ctx.Err() == nil {
		// Consume returns on every rebalance; only an error ends the session.
		if err := group.Consume(ctx, []string{k.topic}, h); err != nil {
			if !errors.Is(err, sarama.ErrClosedConsumerGroup) {
				applog.Logger.Warn().Err(err).Msg("kafka live source lost")
			}
			break
		}
	}
	k.transition(Disconnected)
}

func (k *KafkaSource) Close() error {
	k.mu.Lock()
	group, cancel, done := k.group, k.cancel, k.done
	k.group = nil
	k.mu.Unlock()
	if group == nil {
		return nil
	}
	cancel()
	err := group.Close()
	<-done
	return err
}

type claimHandler struct {
	source *KafkaSource
}

func (h *claimHandler) Setup(sarama.ConsumerGroupSession) error {
	h.source.transition(Open, Connecting)
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *claimHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.source.handle(session.Context(), msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

func (k *KafkaSource) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	carrier := propagation.MapCarrier{}
	var kind domain.NotificationKind
	for _, h := range msg.Headers {
		switch key := string(h.Key); key {
		case "traceparent", "tracestate":
			carrier[key] = string(h.Value)
		case "event_type":
			kind = domain.NotificationKind(h.Value)
		}
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	ctx, span := otel.Tracer("live-kafka").Start(ctx, "kafka.consume.notification",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.source", msg.Topic),
			attribute.Int("messaging.kafka.partition", int(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	dispatch(ctx, k.pub, msg.Value, kind)
}
