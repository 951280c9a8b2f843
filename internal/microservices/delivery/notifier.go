package delivery

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Outbound message types.
const (
	TypeNewDelivery   = "new_delivery"
	TypeOfferAccepted = "offer_accepted"
	TypeAdminAlert    = "admin_alert"

	RoleHauler = "hauler"
	RoleAdmin  = "admin"
)

var ErrMissingConnection = errors.New("client connection id is required")

// Broadcaster is the part of the realtime router notifications go through.
type Broadcaster interface {
	BroadcastToRole(role, msgType string, data any) (int, error)
	SendToConnection(connID, msgType string, data any) error
}

// Offer is a delivery request open to every online hauler.
type Offer struct {
	ID             string     `json:"id" binding:"required"`
	ClientUserID   string     `json:"client_user_id" binding:"required"`
	PickupAddress  string     `json:"pickup_address" binding:"required"`
	DropoffAddress string     `json:"dropoff_address" binding:"required"`
	Price          float64    `json:"price" binding:"gte=0"`
	PickupAt       *time.Time `json:"pickup_at,omitempty"`
}

// Acceptance tells a waiting client which hauler took their offer.
type Acceptance struct {
	OfferID            string `json:"offer_id" binding:"required"`
	HaulerID           string `json:"hauler_id" binding:"required"`
	HaulerName         string `json:"hauler_name"`
	ClientConnectionID string `json:"client_connection_id" binding:"required"`
}

type Alert struct {
	Level   string `json:"level" binding:"omitempty,oneof=info warning critical"`
	Message string `json:"message" binding:"required"`
}

type Notifier struct {
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewNotifier(b Broadcaster, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{broadcaster: b, logger: logger}
}

// NewDelivery pushes an offer to every connected hauler and returns how many
// connections received it.
func (n *Notifier) NewDelivery(offer Offer) (int, error) {
	delivered, err := n.broadcaster.BroadcastToRole(RoleHauler, TypeNewDelivery, offer)
	if err != nil {
		return 0, fmt.Errorf("broadcast offer %s: %w", offer.ID, err)
	}
	n.logger.Info("delivery_offer_broadcast", "offer_id", offer.ID, "delivered", delivered)
	return delivered, nil
}

// OfferAccepted notifies the one client connection waiting on the offer.
// A connection that has already gone away is not an error.
func (n *Notifier) OfferAccepted(a Acceptance) error {
	if a.ClientConnectionID == "" {
		return ErrMissingConnection
	}
	if err := n.broadcaster.SendToConnection(a.ClientConnectionID, TypeOfferAccepted, a); err != nil {
		return fmt.Errorf("notify acceptance of %s: %w", a.OfferID, err)
	}
	n.logger.Info("offer_accepted_sent", "offer_id", a.OfferID, "hauler_id", a.HaulerID)
	return nil
}

func (n *Notifier) AdminAlert(alert Alert) (int, error) {
	if alert.Level == "" {
		alert.Level = "info"
	}
	delivered, err := n.broadcaster.BroadcastToRole(RoleAdmin, TypeAdminAlert, alert)
	if err != nil {
		return 0, fmt.Errorf("broadcast admin alert: %w", err)
	}
	n.logger.Warn("admin_alert_broadcast", "level", alert.Level, "delivered", delivered)
	return delivered, nil
}
