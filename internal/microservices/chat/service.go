package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"haulhub/internal/microservices/realtime"
)

const (
	TypeMessage = "chat_message"
	TypeAck     = "chat_ack"
	TypeHistory = "chat_history"

	MaxBodyLength       = 2000
	DefaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var (
	ErrInvalidPayload   = errors.New("invalid chat payload")
	ErrMissingRecipient = errors.New("to_user_id is required")
	ErrEmptyBody        = errors.New("message body is empty")
	ErrBodyTooLong      = fmt.Errorf("message body exceeds %d characters", MaxBodyLength)
)

// Deliverer is the slice of the realtime router the chat service needs.
type Deliverer interface {
	SendToUser(userID, msgType string, data any) (int, error)
	SendToConnection(connID, msgType string, data any) error
}

// HandlerRegistrar accepts inbound message handlers.
type HandlerRegistrar interface {
	RegisterHandler(msgType string, h realtime.Handler) error
}

type sendRequest struct {
	ToUserID string `json:"to_user_id"`
	Body     string `json:"body"`
}

type historyRequest struct {
	WithUserID string `json:"with_user_id"`
	Limit      int    `json:"limit"`
}

type outbound struct {
	ID           int64     `json:"id"`
	FromUserID   string    `json:"from_user_id"`
	FromUserName string    `json:"from_user_name"`
	Body         string    `json:"body"`
	SentAt       time.Time `json:"sent_at"`
}

type ack struct {
	ID        int64  `json:"id"`
	ToUserID  string `json:"to_user_id"`
	Delivered int    `json:"delivered"`
}

type Service struct {
	repo      MessageRepository
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo MessageRepository, deliverer Deliverer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, deliverer: deliverer, logger: logger, now: time.Now}
}

// Register wires the chat message types into the router.
func (s *Service) Register(r HandlerRegistrar) error {
	if err := r.RegisterHandler(TypeMessage, s.HandleMessage); err != nil {
		return err
	}
	return r.RegisterHandler(TypeHistory, s.HandleHistory)
}

// HandleMessage stores a direct message, pushes it to every connection of
// the recipient and acknowledges the sender's connection.
func (s *Service) HandleMessage(ctx context.Context, src realtime.Source, data json.RawMessage) error {
	var req sendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	req.ToUserID = strings.TrimSpace(req.ToUserID)
	req.Body = strings.TrimSpace(req.Body)
	switch {
	case req.ToUserID == "":
		return ErrMissingRecipient
	case req.Body == "":
		return ErrEmptyBody
	case utf8.RuneCountInString(req.Body) > MaxBodyLength:
		return ErrBodyTooLong
	}

	msg := &Message{
		FromUserID:   src.UserID,
		FromUserName: src.UserName,
		ToUserID:     req.ToUserID,
		Body:         req.Body,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return fmt.Errorf("store chat message: %w", err)
	}

	delivered, err := s.deliverer.SendToUser(msg.ToUserID, TypeMessage, outbound{
		ID:           msg.ID,
		FromUserID:   msg.FromUserID,
		FromUserName: msg.FromUserName,
		Body:         msg.Body,
		SentAt:       msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("deliver chat message: %w", err)
	}
	s.logger.Info("chat_message_sent",
		"message_id", msg.ID,
		"from_user_id", msg.FromUserID,
		"to_user_id", msg.ToUserID,
		"delivered", delivered,
	)

	return s.deliverer.SendToConnection(src.ConnectionID, TypeAck, ack{
		ID:        msg.ID,
		ToUserID:  msg.ToUserID,
		Delivered: delivered,
	})
}

// HandleHistory replies with the newest messages between the caller and
// another user.
func (s *Service) HandleHistory(ctx context.Context, src realtime.Source, data json.RawMessage) error {
	var req historyRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(req.WithUserID) == "" {
		return ErrMissingRecipient
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := s.repo.Conversation(ctx, src.UserID, req.WithUserID, limit)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}
	return s.deliverer.SendToConnection(src.ConnectionID, TypeHistory, map[string]any{
		"with_user_id": req.WithUserID,
		"messages":     messages,
	})
}
