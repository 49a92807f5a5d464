package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/gochat-dm/internal/message"
)

// Engine persists inbound messages and delivers them: the sender is
// acknowledged on its own handle first, then the recipient is attempted
// through the registry.
type Engine struct {
	store            message.Store
	registry         *Registry
	metrics          *Metrics
	log              *slog.Logger
	maxContentLength int
	storeTimeout     time.Duration
}

// NewEngine wires an engine to its store and registry. metrics may be nil.
func NewEngine(store message.Store, registry *Registry, metrics *Metrics, log *slog.Logger, maxContentLength int, storeTimeout time.Duration) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{
		store:            store,
		registry:         registry,
		metrics:          metrics,
		log:              log,
		maxContentLength: maxContentLength,
		storeTimeout:     storeTimeout,
	}
}

// HandleInbound validates, persists and delivers one frame from senderID,
// whose connection is sender.
//
// It returns a *message.ValidationError for bad frames and a
// *message.StorageError when the message could not be persisted; in both
// cases nothing was sent to anyone. A non-nil error after a successful
// persist means the sender's own acknowledgment failed, which is a
// transport failure of the sender connection; the recipient is still
// attempted. The recipient being offline or unreachable is not an error.
func (e *Engine) HandleInbound(ctx context.Context, sender Handle, senderID uuid.UUID, frame InboundFrame) (message.Message, error) {
	recipientID, err := message.ParseRecipient(frame.RecipientID, senderID)
	if err != nil {
		e.metrics.inbound.WithLabelValues(resultInvalid).Inc()
		return message.Message{}, err
	}
	if err := message.ValidateContent(frame.Content, e.maxContentLength); err != nil {
		e.metrics.inbound.WithLabelValues(resultInvalid).Inc()
		return message.Message{}, err
	}

	msg, err := e.persist(ctx, senderID, recipientID, frame.Content)
	if err != nil {
		e.metrics.inbound.WithLabelValues(resultStorageError).Inc()
		e.log.Error("failed to persist message", "sender_id", senderID, "recipient_id", recipientID, "error", err)
		return message.Message{}, err
	}

	ackErr := sender.SendJSON(newSentReceipt(msg))
	if ackErr != nil {
		e.metrics.inbound.WithLabelValues(resultAckFailed).Inc()
	} else {
		e.metrics.inbound.WithLabelValues(resultPersisted).Inc()
	}

	// The message is stored either way, so the recipient still gets it.
	result, err := e.registry.Send(recipientID, newMessagePush(msg))
	e.metrics.fanout.WithLabelValues(result.String()).Inc()
	e.log.Debug("message delivered",
		"message_id", msg.ID,
		"sender_id", senderID,
		"recipient_id", recipientID,
		"fanout", result.String(),
		"fanout_error", err,
	)
	return msg, ackErr
}

func (e *Engine) persist(ctx context.Context, senderID, recipientID uuid.UUID, content string) (message.Message, error) {
	if e.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.storeTimeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := e.store.Create(ctx, senderID, recipientID, content)
	e.metrics.storeCreate.Observe(time.Since(start).Seconds())
	if err != nil {
		return message.Message{}, message.WrapStorage("create", err)
	}
	return msg, nil
}
