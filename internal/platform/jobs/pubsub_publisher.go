package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/vendora/api/internal/services"
)

// PubSubEventPublisher fans order and review domain events out to Pub/Sub
// topics for downstream consumers (notifications, analytics exports).
type PubSubEventPublisher struct {
	orders  *pubsub.Topic
	reviews *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a publisher bound to the given topics.
// Either topic may be nil, in which case events of that kind are dropped.
func NewPubSubEventPublisher(orders, reviews *pubsub.Topic) (*PubSubEventPublisher, error) {
	if orders == nil && reviews == nil {
		return nil, errors.New("pubsub event publisher: at least one topic is required")
	}
	return &PubSubEventPublisher{
		orders:  orders,
		reviews: reviews,
		marshal: json.Marshal,
	}, nil
}

type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"order_id"`
	OrderNumber    string         `json:"order_number"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status"`
	ActorID        string         `json:"actor_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent enqueues an order lifecycle event on the orders topic.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if p.orders == nil {
		return nil
	}

	data, err := p.marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt,
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", event.CurrentStatus)
	setAttr(attrs, "actorId", event.ActorID)

	result := p.orders.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

type reviewEventMessage struct {
	Type       string    `json:"type"`
	ProductID  string    `json:"product_id"`
	UserID     string    `json:"user_id"`
	Rating     int       `json:"rating"`
	IsVerified bool      `json:"is_verified"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PublishReviewEvent enqueues a review event on the reviews topic.
func (p *PubSubEventPublisher) PublishReviewEvent(ctx context.Context, event services.ReviewEvent) error {
	if p == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if p.reviews == nil {
		return nil
	}

	data, err := p.marshal(reviewEventMessage{
		Type:       event.Type,
		ProductID:  event.ProductID,
		UserID:     event.UserID,
		Rating:     event.Rating,
		IsVerified: event.IsVerified,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshal review event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "productId", event.ProductID)
	setAttr(attrs, "userId", event.UserID)

	result := p.reviews.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish review event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
