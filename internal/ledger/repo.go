package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reviewflow-backend/pkg/db/models"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	"github.com/angelmondragon/reviewflow-backend/pkg/pagination"
)

// Repository manages persistence for dispatch transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByEvent(ctx context.Context, integrationID uuid.UUID, eventID string) (*models.Transaction, error)
	MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, outcome Outcome) (bool, error)
	LastSentSince(ctx context.Context, businessID uuid.UUID, phone string, since time.Time) (*models.Transaction, error)
	List(ctx context.Context, params listParams) ([]models.Transaction, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Outcome is the terminal state written once per transaction.
// RecipientPhone is set only when a send was attempted.
type Outcome struct {
	Status         enums.DispatchStatus
	MessageID      *string
	FailureReason  *string
	RecipientPhone *string
	CompletedAt    time.Time
}

type listParams struct {
	BusinessID uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	Status     *enums.DispatchStatus
	Provider   *enums.Provider
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByEvent(ctx context.Context, integrationID uuid.UUID, eventID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).
		Where("integration_id = ? AND provider_event_id = ?", integrationID, eventID).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// MarkAttempted stamps send_attempted_at on a pending row that has not been
// attempted yet. It returns false when another attempt got there first.
func (r *repository) MarkAttempted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND dispatch_status = ? AND send_attempted_at IS NULL", id, enums.DispatchStatusPending).
		Update("send_attempted_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Complete moves a pending row to its terminal status. Terminal rows are
// never rewritten.
func (r *repository) Complete(ctx context.Context, id uuid.UUID, outcome Outcome) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND dispatch_status = ?", id, enums.DispatchStatusPending).
		Updates(map[string]any{
			"dispatch_status": outcome.Status,
			"message_id":      outcome.MessageID,
			"failure_reason":  outcome.FailureReason,
			"recipient_phone": outcome.RecipientPhone,
			"completed_at":    outcome.CompletedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LastSentSince returns the most recent live send to phone for the business
// created after since, or nil. Test-mode rows never reached the customer
// (see recipient_phone) and are not counted.
func (r *repository) LastSentSince(ctx context.Context, businessID uuid.UUID, phone string, since time.Time) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND customer_phone = ? AND dispatch_status = ? AND test_mode = ? AND created_at > ?",
			businessID, phone, enums.DispatchStatusSent, false, since).
		Order("created_at DESC").
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) List(ctx context.Context, params listParams) ([]models.Transaction, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("business_id = ?", params.BusinessID)
	if params.Status != nil {
		query = query.Where("dispatch_status = ?", *params.Status)
	}
	if params.Provider != nil {
		query = query.Where("provider = ?", *params.Provider)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Transaction
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[len(rows)-1]
		return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return rows, nil, nil
}
