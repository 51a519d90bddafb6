package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	awspkg "github.com/Reyuuh/eshop-soulcaller-backend/pkg/aws"
)

// EventPublisher delivers committed order events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event models.OrderEvent) error
}

// SNSEventPublisher fans order events out through an SNS topic.
type SNSEventPublisher struct {
	sns      awspkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(sns awspkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{sns: sns, topicArn: topicArn}
}

func (p *SNSEventPublisher) Publish(ctx context.Context, event models.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.sns.Publish(ctx, p.topicArn, payload, map[string]string{"event_type": event.Type})
}

// MultiPublisher publishes to every sink and joins their errors.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event models.OrderEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.OrderEvent) error { return nil }
