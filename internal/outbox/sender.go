// Package outbox queues outgoing text messages and delivers them through the
// provider. Entries are keyed by a client-generated id so a crash between
// send and acknowledgment never duplicates a message on retry.
package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wavault/wavault/internal/bus"
	"github.com/wavault/wavault/internal/store"
)

// TextSender is the provider side of the sender. *greenapi.Client
// implements it.
type TextSender interface {
	SendMessage(ctx context.Context, chatID, text string) (providerMsgID string, err error)
}

// Sender drains queued outgoing messages.
type Sender struct {
	db     *store.DB
	client TextSender
	bus    *bus.Bus
	logger *zap.Logger
}

// SentEvent is the payload of "outbox.sent".
type SentEvent struct {
	ClientMsgID   string
	ChatID        string
	ProviderMsgID string
}

func NewSender(db *store.DB, client TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{db: db, client: client, bus: b, logger: logger.Named("outbox")}
}

// Queue stores a message for delivery and returns its client id.
func (s *Sender) Queue(waChatID, body string) (string, error) {
	clientID := uuid.NewString()
	if err := s.db.QueueOutbox(clientID, waChatID, body); err != nil {
		return "", fmt.Errorf("queue message: %w", err)
	}
	s.logger.Debug("message queued",
		zap.String("client_msg_id", clientID),
		zap.String("chat_id", waChatID))
	return clientID, nil
}

// Drain sends every pending entry in queue order. A failing entry is marked
// and skipped so one bad message never blocks the rest.
func (s *Sender) Drain(ctx context.Context) (sent, failed int, err error) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		return 0, 0, fmt.Errorf("load outbox: %w", err)
	}

	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return sent, failed, err
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			return sent, failed, fmt.Errorf("mark sending: %w", err)
		}

		providerID, sendErr := s.client.SendMessage(ctx, entry.WhatsAppChatID, entry.Body)
		if sendErr != nil {
			failed++
			if err := s.db.MarkOutboxFailed(entry.ClientMsgID, sendErr.Error()); err != nil {
				s.logger.Warn("mark outbox failed",
					zap.String("client_msg_id", entry.ClientMsgID), zap.Error(err))
			}
			s.logger.Error("send failed",
				zap.String("client_msg_id", entry.ClientMsgID),
				zap.String("chat_id", entry.WhatsAppChatID),
				zap.Error(sendErr))
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, providerID); err != nil {
			return sent, failed, fmt.Errorf("mark sent: %w", err)
		}
		sent++
		s.bus.Publish(bus.Event{Kind: "outbox.sent", Payload: SentEvent{
			ClientMsgID:   entry.ClientMsgID,
			ChatID:        entry.WhatsAppChatID,
			ProviderMsgID: providerID,
		}})
	}
	return sent, failed, nil
}
