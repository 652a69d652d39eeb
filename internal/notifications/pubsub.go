package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/phone"
)

const defaultPublishTimeout = 10 * time.Second

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// smsMessage is the payload the SMS relay consumes.
type smsMessage struct {
	MessageID string    `json:"message_id"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	QueuedAt  time.Time `json:"queued_at"`
}

// PubSubSender hands messages to the SMS relay through a Pub/Sub topic. The
// returned id is the relay message id carried in the payload.
type PubSubSender struct {
	pub     publisher
	logg    *logger.Logger
	timeout time.Duration
}

func NewPubSubSender(pub publisher, logg *logger.Logger) (*PubSubSender, error) {
	if pub == nil {
		return nil, errors.New("publisher required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &PubSubSender{pub: pub, logg: logg, timeout: defaultPublishTimeout}, nil
}

func (s *PubSubSender) Send(ctx context.Context, to, text string) (string, error) {
	msg := smsMessage{
		MessageID: uuid.NewString(),
		To:        to,
		Body:      text,
		QueuedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode sms message")
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := s.pub.Publish(publishCtx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"message_id": msg.MessageID,
			"kind":       "review_request",
		},
	})
	if result == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "sms publisher unavailable")
	}
	serverID, err := result.Get(publishCtx)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish sms")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"message_id":        msg.MessageID,
		"pubsub_message_id": serverID,
		"to":                phone.Mask(to),
	}), "sms queued")
	return msg.MessageID, nil
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
