package testsend

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reviewflow-backend/internal/notifications"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/phone"
)

const (
	defaultDailyLimit = 5
	dayLayout         = "2006-01-02"
	testPrefix        = "[TEST] "
)

type quotaRepository interface {
	LockForUpdate(tx *gorm.DB, businessID uuid.UUID, today string) (*models.TestSendQuota, error)
	Save(tx *gorm.DB, quota *models.TestSendQuota) error
	Find(ctx context.Context, businessID uuid.UUID) (*models.TestSendQuota, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type integrationLookup interface {
	FindByBusinessAndProvider(ctx context.Context, businessID uuid.UUID, provider enums.Provider) (*models.Integration, error)
}

type renderer interface {
	Render(data notifications.MessageData) (string, error)
}

// ServiceParams wires the test-send service.
type ServiceParams struct {
	DB            txRunner
	Repo          quotaRepository
	Integrations  integrationLookup
	Sender        notifications.Sender
	Renderer      renderer
	Config        config.TestSendConfig
	DefaultRegion string
	Logger        *logger.Logger
	Now           func() time.Time
}

// Service sends quota-limited test messages. It never touches the
// transaction ledger.
type Service struct {
	db           txRunner
	repo         quotaRepository
	integrations integrationLookup
	sender       notifications.Sender
	renderer     renderer
	limit        int
	location     *time.Location
	region       string
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("transaction runner required")
	case params.Repo == nil:
		return nil, errors.New("quota repository required")
	case params.Integrations == nil:
		return nil, errors.New("integration lookup required")
	case params.Sender == nil:
		return nil, errors.New("sender required")
	case params.Renderer == nil:
		return nil, errors.New("renderer required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	limit := params.Config.DailyLimit
	if limit <= 0 {
		limit = defaultDailyLimit
	}
	region := params.DefaultRegion
	if region == "" {
		region = "US"
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:           params.DB,
		repo:         params.Repo,
		integrations: params.Integrations,
		sender:       params.Sender,
		renderer:     params.Renderer,
		limit:        limit,
		location:     params.Config.Location(),
		region:       region,
		logg:         params.Logger,
		now:          now,
	}, nil
}

// Input selects the integration whose template context is used and an
// optional recipient. The integration's test phone is used when Phone is empty.
type Input struct {
	Provider enums.Provider
	Phone    string
}

// Result reports a successful send and what is left for today.
type Result struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Status is the business's quota for today.
type Status struct {
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetOn   string `json:"reset_on"`
}

// Send checks the daily ceiling, sends one test message, and counts it only
// when the sender confirms. The counter row stays locked for the whole
// check-send-increment sequence.
func (s *Service) Send(ctx context.Context, businessID uuid.UUID, in Input) (*Result, error) {
	integ, err := s.integrations.FindByBusinessAndProvider(ctx, businessID, in.Provider)
	if err != nil {
		return nil, err
	}
	recipient, err := s.recipient(integ, in.Phone)
	if err != nil {
		return nil, err
	}
	text, err := s.renderer.Render(notifications.MessageData{Provider: string(in.Provider)})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render test message")
	}

	ctx = s.logg.WithBusinessID(ctx, businessID.String())
	today := s.today()
	var result *Result
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		quota, err := s.repo.LockForUpdate(tx, businessID, today)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load test-send quota")
		}
		if quota.ResetOn != today {
			quota.SentCount = 0
			quota.ResetOn = today
		}
		if quota.SentCount >= s.limit {
			return pkgerrors.New(pkgerrors.CodeRateLimit, "daily test-send limit reached").
				WithDetails(map[string]any{"limit": s.limit, "remaining": 0})
		}

		messageID, err := s.sender.Send(ctx, recipient, testPrefix+text)
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "to", phone.Mask(recipient)), "test send failed", err)
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send test message")
		}

		quota.SentCount++
		if err := s.repo.Save(tx, quota); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save test-send quota")
		}
		result = &Result{
			MessageID: messageID,
			To:        phone.Mask(recipient),
			Limit:     s.limit,
			Remaining: s.limit - quota.SentCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"provider":  string(in.Provider),
		"remaining": result.Remaining,
	}), "test message sent")
	return result, nil
}

// Status returns today's usage without locking.
func (s *Service) Status(ctx context.Context, businessID uuid.UUID) (*Status, error) {
	today := s.today()
	quota, err := s.repo.Find(ctx, businessID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load test-send quota")
	}
	used := 0
	if quota != nil && quota.ResetOn == today {
		used = quota.SentCount
	}
	return &Status{Limit: s.limit, Used: used, Remaining: max(s.limit-used, 0), ResetOn: today}, nil
}

func (s *Service) recipient(integ *models.Integration, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		if integ.TestPhone == nil || *integ.TestPhone == "" {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "test phone is required")
		}
		return *integ.TestPhone, nil
	}
	normalized, err := phone.NormalizeE164(raw, s.region)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid phone number")
	}
	return normalized, nil
}

func (s *Service) today() string {
	return s.now().In(s.location).Format(dayLayout)
}
