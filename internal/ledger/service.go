package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/reviewflow-backend/pkg/db"
	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/pagination"
	"github.com/angelmondragon/reviewflow-backend/pkg/phone"
)

const uniqueEventConstraint = "transactions_integration_event_key"

// Service records purchases and their dispatch outcomes.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*models.Transaction, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, outcome Outcome) (bool, error)
	LastSentSince(ctx context.Context, businessID uuid.UUID, phone string, since time.Time) (*models.Transaction, error)
	List(ctx context.Context, businessID uuid.UUID, input ListInput) (*ListResult, error)
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// RecordInput is one normalized purchase as received.
type RecordInput struct {
	BusinessID      uuid.UUID
	IntegrationID   uuid.UUID
	LocationID      *uuid.UUID
	Provider        enums.Provider
	ProviderEventID string
	CustomerName    string
	CustomerPhone   string
	PurchaseAmount  decimal.Decimal
	Currency        string
	TestMode        bool
	ReceivedAt      time.Time
}

// ListInput filters the ledger listing.
type ListInput struct {
	pagination.Params
	Status   *enums.DispatchStatus
	Provider *enums.Provider
}

// TransactionView is the business-facing row with the phone masked.
type TransactionView struct {
	ID              uuid.UUID            `json:"id"`
	IntegrationID   uuid.UUID            `json:"integration_id"`
	LocationID      *uuid.UUID           `json:"location_id,omitempty"`
	Provider        enums.Provider       `json:"provider"`
	ProviderEventID *string              `json:"provider_event_id,omitempty"`
	CustomerName    string               `json:"customer_name"`
	CustomerPhone   string               `json:"customer_phone"`
	RecipientPhone  string               `json:"recipient_phone,omitempty"`
	PurchaseAmount  decimal.Decimal      `json:"purchase_amount"`
	Currency        string               `json:"currency"`
	DispatchStatus  enums.DispatchStatus `json:"dispatch_status"`
	TestMode        bool                 `json:"test_mode"`
	FailureReason   *string              `json:"failure_reason,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// ListResult is one page of the ledger.
type ListResult struct {
	Items      []TransactionView `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// Record inserts a pending transaction. When the provider event was already
// recorded for the integration it returns the existing row and false.
func (s *service) Record(ctx context.Context, input RecordInput) (*models.Transaction, bool, error) {
	if input.BusinessID == uuid.Nil || input.IntegrationID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "business and integration are required")
	}
	if !input.Provider.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid provider")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "USD"
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	txn := &models.Transaction{
		BusinessID:     input.BusinessID,
		IntegrationID:  input.IntegrationID,
		LocationID:     input.LocationID,
		Provider:       input.Provider,
		CustomerName:   strings.TrimSpace(input.CustomerName),
		CustomerPhone:  input.CustomerPhone,
		PurchaseAmount: input.PurchaseAmount.Round(2),
		Currency:       currency,
		DispatchStatus: enums.DispatchStatusPending,
		TestMode:       input.TestMode,
		CreatedAt:      receivedAt,
	}
	if eventID := strings.TrimSpace(input.ProviderEventID); eventID != "" {
		txn.ProviderEventID = &eventID
	}

	if err := s.repo.Create(ctx, txn); err != nil {
		if txn.ProviderEventID != nil && db.IsUniqueViolation(err, uniqueEventConstraint) {
			existing, findErr := s.repo.FindByEvent(ctx, input.IntegrationID, *txn.ProviderEventID)
			if findErr != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "load recorded event")
			}
			return existing, false, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transaction")
	}
	return txn, true, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	return txn, nil
}

func (s *service) MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	ok, err := s.repo.MarkAttempted(ctx, id, at)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark send attempted")
	}
	return ok, nil
}

func (s *service) Complete(ctx context.Context, id uuid.UUID, outcome Outcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("status %q is not terminal", outcome.Status))
	}
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now().UTC()
	}
	ok, err := s.repo.Complete(ctx, id, outcome)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete transaction")
	}
	return ok, nil
}

func (s *service) LastSentSince(ctx context.Context, businessID uuid.UUID, phone string, since time.Time) (*models.Transaction, error) {
	txn, err := s.repo.LastSentSince(ctx, businessID, phone, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "query recent sends")
	}
	return txn, nil
}

func (s *service) List(ctx context.Context, businessID uuid.UUID, input ListInput) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.List(ctx, listParams{
		BusinessID: businessID,
		Limit:      input.Limit,
		Cursor:     cursor,
		Status:     input.Status,
		Provider:   input.Provider,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}

	out := &ListResult{Items: make([]TransactionView, 0, len(rows))}
	for _, row := range rows {
		out.Items = append(out.Items, toView(row))
	}
	if next != nil {
		out.NextCursor = pagination.EncodeCursor(*next)
	}
	return out, nil
}

func toView(t models.Transaction) TransactionView {
	return TransactionView{
		ID:              t.ID,
		IntegrationID:   t.IntegrationID,
		LocationID:      t.LocationID,
		Provider:        t.Provider,
		ProviderEventID: t.ProviderEventID,
		CustomerName:    t.CustomerName,
		CustomerPhone:   phone.Mask(t.CustomerPhone),
		PurchaseAmount:  t.PurchaseAmount,
		Currency:        t.Currency,
		DispatchStatus:  t.DispatchStatus,
		RecipientPhone:  maskOptional(t.RecipientPhone),
		TestMode:        t.TestMode,
		FailureReason:   t.FailureReason,
		CreatedAt:       t.CreatedAt,
		CompletedAt:     t.CompletedAt,
	}
}

func maskOptional(p *string) string {
	if p == nil {
		return ""
	}
	return phone.Mask(*p)
}
