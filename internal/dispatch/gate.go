package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/internal/ledger"
	"github.com/angelmondragon/reviewflow-backend/internal/notifications"
	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
	"github.com/angelmondragon/reviewflow-backend/pkg/metrics"
	"github.com/angelmondragon/reviewflow-backend/pkg/phone"
	"github.com/angelmondragon/reviewflow-backend/pkg/redis"
)

const defaultFrequencyWindow = 30 * 24 * time.Hour

// Failure reasons stored on failed or skipped transactions.
const (
	ReasonReconnectRequired = "reconnect_required"
	ReasonUnmappedLocation  = "unmapped_location"
	ReasonInvalidPhone      = "invalid_phone"
	ReasonTestPhoneMissing  = "test_phone_missing"
	ReasonAmbiguousSend     = "ambiguous_send"
	ReasonSendFailed        = "send_failed"
	ReasonRenderFailed      = "render_failed"
)

type ledgerStore interface {
	MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, outcome ledger.Outcome) (bool, error)
	LastSentSince(ctx context.Context, businessID uuid.UUID, phone string, since time.Time) (*models.Transaction, error)
}

type lockStore interface {
	redis.LockStore
	LockKey(scope string, parts ...string) string
}

type renderer interface {
	Render(data notifications.MessageData) (string, error)
}

// GateParams wires the dispatch gate.
type GateParams struct {
	Ledger   ledgerStore
	Sender   notifications.Sender
	Renderer renderer
	Locks    lockStore
	Metrics  *metrics.DispatchMetrics
	Config   config.DispatchConfig
	Logger   *logger.Logger
	Now      func() time.Time
}

// Gate decides whether a recorded purchase may trigger a review request and
// writes exactly one terminal status for it.
type Gate struct {
	ledger   ledgerStore
	sender   notifications.Sender
	renderer renderer
	locks    lockStore
	metrics  *metrics.DispatchMetrics
	window   time.Duration
	lockTTL  time.Duration
	logg     *logger.Logger
	now      func() time.Time
}

// NewGate validates dependencies.
func NewGate(params GateParams) (*Gate, error) {
	switch {
	case params.Ledger == nil:
		return nil, errors.New("ledger required")
	case params.Sender == nil:
		return nil, errors.New("sender required")
	case params.Renderer == nil:
		return nil, errors.New("renderer required")
	case params.Locks == nil:
		return nil, errors.New("lock store required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	window := params.Config.FrequencyWindow
	if window <= 0 {
		window = defaultFrequencyWindow
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Gate{
		ledger:   params.Ledger,
		sender:   params.Sender,
		renderer: params.Renderer,
		locks:    params.Locks,
		metrics:  params.Metrics,
		window:   window,
		lockTTL:  params.Config.LockTTL,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Input is one pending transaction with the state it is judged against.
// Location is nil when the provider location is not mapped locally.
type Input struct {
	Transaction *models.Transaction
	Integration *models.Integration
	Location    *models.Location
	FirstName   string
}

// Result is the terminal decision for a transaction.
type Result struct {
	TransactionID uuid.UUID            `json:"transaction_id"`
	Status        enums.DispatchStatus `json:"status"`
	MessageID     string               `json:"message_id,omitempty"`
	Reason        string               `json:"reason,omitempty"`
}

// Evaluate runs the checks in order and stops at the first that blocks:
// consent, usable integration, enabled location, test-mode recipient,
// frequency. Only a send that was never attempted is ever performed; a
// transaction already marked as attempted is closed as failed.
//
// A contended phone lock returns a retryable error and leaves the
// transaction pending and unattempted.
func (g *Gate) Evaluate(ctx context.Context, in Input) (*Result, error) {
	txn, integ := in.Transaction, in.Integration
	if txn == nil || integ == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction and integration are required")
	}
	ctx = g.logg.WithFields(ctx, map[string]any{
		"business_id":    txn.BusinessID.String(),
		"integration_id": integ.ID.String(),
		"provider":       string(txn.Provider),
		"transaction_id": txn.ID.String(),
	})

	if txn.DispatchStatus.IsTerminal() {
		return resultFor(txn), nil
	}
	if txn.SendAttemptedAt != nil {
		return g.finish(ctx, txn, enums.DispatchStatusFailed, ReasonAmbiguousSend, "")
	}

	if !integ.ConsentConfirmed {
		return g.finish(ctx, txn, enums.DispatchStatusSkippedConsent, "", "")
	}
	if !integ.Usable(g.now()) {
		return g.finish(ctx, txn, enums.DispatchStatusFailed, ReasonReconnectRequired, "")
	}
	if in.Location == nil {
		return g.finish(ctx, txn, enums.DispatchStatusSkippedDisabledLocation, ReasonUnmappedLocation, "")
	}
	if !in.Location.Enabled || in.Location.IntegrationID != integ.ID {
		return g.finish(ctx, txn, enums.DispatchStatusSkippedDisabledLocation, "", "")
	}

	customerPhone := txn.CustomerPhone
	if customerPhone == "" {
		return g.finish(ctx, txn, enums.DispatchStatusFailed, ReasonInvalidPhone, "")
	}
	recipient := customerPhone
	if integ.TestMode {
		if integ.TestPhone == nil || *integ.TestPhone == "" {
			return g.finish(ctx, txn, enums.DispatchStatusFailed, ReasonTestPhoneMissing, "")
		}
		recipient = *integ.TestPhone
	}

	var result *Result
	key := g.locks.LockKey("dispatch", txn.BusinessID.String(), customerPhone)
	err := redis.TryWithLock(ctx, g.locks, key, g.lockTTL, func(ctx context.Context) error {
		since := g.now().Add(-g.window)
		prior, err := g.ledger.LastSentSince(ctx, txn.BusinessID, customerPhone, since)
		if err != nil {
			return err
		}
		if prior != nil {
			result, err = g.finish(ctx, txn, enums.DispatchStatusSkippedFrequency, "", "")
			return err
		}
		result, err = g.send(ctx, txn, integ, in, recipient)
		return err
	})
	if errors.Is(err, redis.ErrLockHeld) {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatch in progress for recipient")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Gate) send(ctx context.Context, txn *models.Transaction, integ *models.Integration, in Input, recipient string) (*Result, error) {
	text, err := g.renderer.Render(notifications.MessageData{
		FirstName:    in.FirstName,
		CustomerName: txn.CustomerName,
		LocationName: in.Location.DisplayName,
		Provider:     string(integ.Provider),
	})
	if err != nil {
		g.logg.Error(ctx, "render review request", err)
		return g.finish(ctx, txn, enums.DispatchStatusFailed, ReasonRenderFailed, "")
	}

	attempted, err := g.ledger.MarkAttempted(ctx, txn.ID, g.now())
	if err != nil {
		return nil, err
	}
	if !attempted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already attempted")
	}

	messageID, err := g.sender.Send(ctx, recipient, text)
	if err != nil {
		g.metrics.IncSendError(string(txn.Provider))
		g.logg.Error(g.logg.WithField(ctx, "to", phone.Mask(recipient)), "review request send failed", err)
		return g.finishSend(ctx, txn, enums.DispatchStatusFailed, ReasonSendFailed, "", recipient)
	}
	return g.finishSend(ctx, txn, enums.DispatchStatusSent, "", messageID, recipient)
}

func (g *Gate) finish(ctx context.Context, txn *models.Transaction, status enums.DispatchStatus, reason, messageID string) (*Result, error) {
	return g.finishSend(ctx, txn, status, reason, messageID, "")
}

// finishSend writes the terminal outcome; recipient is empty when no send
// was attempted.
func (g *Gate) finishSend(ctx context.Context, txn *models.Transaction, status enums.DispatchStatus, reason, messageID, recipient string) (*Result, error) {
	outcome := ledger.Outcome{Status: status, CompletedAt: g.now()}
	if recipient != "" {
		outcome.RecipientPhone = &recipient
	}
	if reason != "" {
		outcome.FailureReason = &reason
	}
	if messageID != "" {
		outcome.MessageID = &messageID
	}
	// Terminal writes outlive request cancellation.
	written, err := g.ledger.Complete(context.WithoutCancel(ctx), txn.ID, outcome)
	if err != nil {
		return nil, err
	}
	if !written {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already completed")
	}

	txn.DispatchStatus = status
	txn.FailureReason = outcome.FailureReason
	txn.MessageID = outcome.MessageID
	txn.RecipientPhone = outcome.RecipientPhone
	g.metrics.IncOutcome(string(txn.Provider), string(status))
	g.logg.Info(g.logg.WithFields(ctx, map[string]any{
		"status": string(status),
		"reason": reason,
		"to":     phone.Mask(txn.CustomerPhone),
	}), "dispatch decided")
	return resultFor(txn), nil
}

func resultFor(txn *models.Transaction) *Result {
	res := &Result{TransactionID: txn.ID, Status: txn.DispatchStatus}
	if txn.MessageID != nil {
		res.MessageID = *txn.MessageID
	}
	if txn.FailureReason != nil {
		res.Reason = *txn.FailureReason
	}
	return res
}
