package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/phone"
)

// LogSender records messages in the log instead of delivering them. Used in
// development and when no relay is configured.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) Send(ctx context.Context, to, text string) (string, error) {
	id := "log_" + uuid.NewString()
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"message_id": id,
			"to":         phone.Mask(to),
			"length":     len(text),
		}), "sms send skipped by log sender")
	}
	return id, nil
}
