package kafka

import (
	_c "context"
	"fmt"
	"strconv"
	"time"

	"github.com/RuiFG/streaming/streaming-trigger/checkpoint"
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/RuiFG/streaming/streaming-trigger/window"
	"github.com/Shopify/sarama"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

type Config struct {
	SaramaConfig *sarama.Config
	Addresses    []string
	Topics       []string
	GroupId      string
}

// Dispatcher receives every consumed message, usually a trigger engine.
type Dispatcher interface {
	Dispatch(ctx _c.Context, message any) error
}

type FormatFn func(message *sarama.ConsumerMessage) *window.Event

func SplitId(topic string, partition int32) string {
	return fmt.Sprintf("%s-%d", topic, partition)
}

// DefaultFormatFn keys events by the message key, messages without a timestamp
// are stamped with the consume time.
func DefaultFormatFn(message *sarama.ConsumerMessage) *window.Event {
	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return &window.Event{
		Key:       string(message.Key),
		Value:     message.Value,
		Timestamp: timestamp.UnixMilli(),
		SplitId:   SplitId(message.Topic, message.Partition),
		Offset:    strconv.FormatInt(message.Offset, 10),
	}
}

// Handler is a sarama.ConsumerGroupHandler forwarding messages to a Dispatcher.
type Handler struct {
	formatFn   FormatFn
	dispatcher Dispatcher
	backend    checkpoint.Backend
	logger     log.Logger
}

type HandlerOption func(h *Handler) error

func WithFormatFn(fn FormatFn) HandlerOption {
	return func(h *Handler) error {
		if fn == nil {
			return errors.Errorf("FormatFn can't be nil")
		}
		h.formatFn = fn
		return nil
	}
}

// WithOffsetBackend resumes claimed partitions after the offsets saved in backend.
func WithOffsetBackend(backend checkpoint.Backend) HandlerOption {
	return func(h *Handler) error {
		h.backend = backend
		return nil
	}
}

func WithLogger(logger log.Logger) HandlerOption {
	return func(h *Handler) error {
		h.logger = logger
		return nil
	}
}

func (h *Handler) Setup(session sarama.ConsumerGroupSession) error {
	if h.backend == nil {
		return nil
	}
	for topic, partitions := range session.Claims() {
		for _, partition := range partitions {
			split := SplitId(topic, partition)
			offsets, ok, err := h.backend.Get(split)
			if err != nil {
				return errors.WithMessagef(err, "failed to load offsets of %s", split)
			}
			if !ok {
				continue
			}
			value, ok := offsets[split]
			if !ok {
				continue
			}
			offset, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				h.logger.Warnw("illegal saved offset, ignore it.", "split", split, "offset", value)
				continue
			}
			session.ResetOffset(topic, partition, offset+1, "")
			h.logger.Infow("resume partition.", "split", split, "offset", offset+1)
		}
	}
	return nil
}

func (h *Handler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *Handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.dispatcher.Dispatch(session.Context(), h.formatFn(message)); err != nil {
				h.logger.Warnw("can't dispatch kafka message.",
					"topic", message.Topic,
					"partition", message.Partition,
					"offset", message.Offset,
					"err", err)
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func NewHandler(dispatcher Dispatcher, options ...HandlerOption) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.Errorf("dispatcher can't be nil")
	}
	h := &Handler{
		formatFn:   DefaultFormatFn,
		dispatcher: dispatcher,
		logger:     log.Global().Named("kafka"),
	}
	for _, option := range options {
		if err := option(h); err != nil {
			return nil, errors.WithMessage(err, "illegal parameter")
		}
	}
	return h, nil
}

// Source consumes the configured topics with a consumer group until its context is done.
type Source struct {
	config        Config
	handler       sarama.ConsumerGroupHandler
	consumerGroup sarama.ConsumerGroup
	clock         clock.Clock
	backoff       time.Duration
	logger        log.Logger
}

// Run waits the rebalance retry backoff before consuming again after a failed session.
func (s *Source) Run(ctx _c.Context) error {
	for {
		if err := s.consumerGroup.Consume(ctx, s.config.Topics, s.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			s.logger.Warnw("can't consume kafka.", "topics", s.config.Topics, "backoff", s.backoff, "err", err)
			timer := s.clock.Timer(s.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Source) Close() error {
	return s.consumerGroup.Close()
}

func newSource(config Config, handler sarama.ConsumerGroupHandler, consumerGroup sarama.ConsumerGroup, clk clock.Clock, logger log.Logger) *Source {
	backoff := config.SaramaConfig.Consumer.Group.Rebalance.Retry.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Source{
		config:        config,
		handler:       handler,
		consumerGroup: consumerGroup,
		clock:         clk,
		backoff:       backoff,
		logger:        logger,
	}
}

func NewSource(config Config, handler sarama.ConsumerGroupHandler, logger log.Logger) (*Source, error) {
	if config.SaramaConfig == nil {
		config.SaramaConfig = sarama.NewConfig()
	}
	consumerGroup, err := sarama.NewConsumerGroup(config.Addresses, config.GroupId, config.SaramaConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create consumer group %s", config.GroupId)
	}
	return newSource(config, handler, consumerGroup, clock.New(), logger), nil
}
