package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/pubsub"
)

const (
	SenderModeLog    = "log"
	SenderModePubSub = "pubsub"
)

// Sender delivers one SMS and returns the carrier-side message id. An error
// means the message was not accepted.
type Sender interface {
	Send(ctx context.Context, phone, text string) (string, error)
}

// NewFromConfig builds the sender selected by REVIEWFLOW_SMS_SENDER.
func NewFromConfig(cfg config.DispatchConfig, ps *pubsub.Client, logg *logger.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SenderMode)) {
	case "", SenderModeLog:
		return NewLogSender(logg), nil
	case SenderModePubSub:
		if ps == nil {
			return nil, fmt.Errorf("pubsub sender requires a pubsub client")
		}
		pub := ps.SMSPublisher()
		if pub == nil {
			return nil, fmt.Errorf("sms topic publisher unavailable")
		}
		return NewPubSubSender(newGCPPublisher(pub), logg)
	default:
		return nil, fmt.Errorf("unknown sms sender %q", cfg.SenderMode)
	}
}
