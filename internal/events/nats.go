package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

// SubjectPrefix is prepended to the recipient id to form a subject
const SubjectPrefix = "dealroom.events."

// Subject returns the subject a recipient's events are published on
func Subject(recipientID string) string {
	return SubjectPrefix + recipientID
}

// Envelope is the wire form of a deal event
type Envelope struct {
	Kind           string                   `json:"kind"`
	ConversationID string                   `json:"conversation_id"`
	SenderID       string                   `json:"sender_id"`
	RecipientID    string                   `json:"recipient_id"`
	Message        *entity.Message          `json:"message,omitempty"`
	State          *entity.TransactionState `json:"state,omitempty"`
	OccurredAt     time.Time                `json:"occurred_at"`
}

// Config holds NATS connection settings
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect opens a NATS connection with reconnect logging
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("dealroom"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return conn, nil
}

// Publisher publishes deal events
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewPublisher creates an event publisher
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{
		nc:     nc,
		logger: slog.Default(),
	}
}

// Publish sends an event to its recipient's subject
func (p *Publisher) Publish(ctx context.Context, ev Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	subject := Subject(ev.RecipientID)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	p.logger.Debug("published event", "subject", subject, "kind", ev.Kind)
	return nil
}

// Handler processes a received event
type Handler func(ctx context.Context, ev Envelope)

// SubscriberConfig sizes the worker pool
type SubscriberConfig struct {
	WorkerCount int
	BufferSize  int
}

// Subscriber receives deal events for every recipient and hands them to a
// bounded worker pool
type Subscriber struct {
	nc           *nats.Conn
	handler      Handler
	logger       *slog.Logger
	config       SubscriberConfig
	subscription *nats.Subscription
	msgChan      chan *nats.Msg
	wg           sync.WaitGroup
	cancelFunc   context.CancelFunc
}

// NewSubscriber creates an event subscriber
func NewSubscriber(nc *nats.Conn, handler Handler, config SubscriberConfig) *Subscriber {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 8
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	return &Subscriber{
		nc:      nc,
		handler: handler,
		logger:  slog.Default(),
		config:  config,
	}
}

// Start subscribes and starts the workers
func (s *Subscriber) Start(ctx context.Context) error {
	s.msgChan = make(chan *nats.Msg, s.config.BufferSize)

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx)
	}

	sub, err := s.nc.Subscribe(SubjectPrefix+">", func(msg *nats.Msg) {
		select {
		case s.msgChan <- msg:
		default:
			s.logger.Warn("event buffer full, dropping event", "subject", msg.Subject)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to events: %w", err)
	}

	s.subscription = sub
	s.logger.Info("event subscriber started",
		"subject", SubjectPrefix+">",
		"workers", s.config.WorkerCount,
	)
	return nil
}

// Stop unsubscribes and waits for the workers
func (s *Subscriber) Stop() {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe", "error", err)
		}
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
}

func (s *Subscriber) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.msgChan:
			if !ok {
				return
			}
			s.dispatch(ctx, msg.Data)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, data []byte) {
	ev, err := Decode(data)
	if err != nil {
		s.logger.Error("failed to decode event", "error", err)
		return
	}
	s.handler(ctx, ev)
}

// Decode parses an event payload
func Decode(data []byte) (Envelope, error) {
	var ev Envelope
	if err := json.Unmarshal(data, &ev); err != nil {
		return Envelope{}, fmt.Errorf("decoding event: %w", err)
	}
	if ev.RecipientID == "" {
		return Envelope{}, fmt.Errorf("decoding event: missing recipient")
	}
	return ev, nil
}
