package payments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/technovacao/registration/app/models"
)

// Completion is the effect of one pending -> completed attempt. RowsAffected
// is zero when nothing was pending, which makes duplicate deliveries no-ops.
type Completion struct {
	RowsAffected int64
	PendingID    uint
	HeldSeats    int
}

// Store persists checkout attempts and the webhook audit trail. It holds no
// business rules.
type Store interface {
	InsertPending(ctx context.Context, p *models.PendingPayment) (uint, error)
	MarkCompletedByProviderID(ctx context.Context, providerPaymentID string) (Completion, error)
	MarkCompletedByExternalReference(ctx context.Context, ref, providerPaymentID string) (Completion, error)
	MarkCompletedByTeamUser(ctx context.Context, teamID, userID, providerPaymentID string) (Completion, error)
	ListPendingForTeam(ctx context.Context, teamID, userID string) ([]models.PendingPayment, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PendingPayment, error)
	ClearHold(ctx context.Context, id uint, seats int) (bool, error)
	AppendWebhookLog(ctx context.Context, entry *models.WebhookLog) (uint, error)
	ListWebhookLogs(ctx context.Context, source string, beforeID uint, limit int) ([]models.WebhookLog, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a Store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) InsertPending(ctx context.Context, p *models.PendingPayment) (uint, error) {
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *gormStore) MarkCompletedByProviderID(ctx context.Context, providerPaymentID string) (Completion, error) {
	if providerPaymentID == "" {
		return Completion{}, nil
	}
	return s.complete(ctx, providerPaymentID, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("provider_payment_id = ?", providerPaymentID)
	})
}

func (s *gormStore) MarkCompletedByExternalReference(ctx context.Context, ref, providerPaymentID string) (Completion, error) {
	if ref == "" {
		return Completion{}, nil
	}
	return s.complete(ctx, providerPaymentID, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("external_reference = ?", ref)
	})
}

// MarkCompletedByTeamUser completes the oldest pending attempt of the pair.
// It is the fallback for attempts stored before the provider id was known.
func (s *gormStore) MarkCompletedByTeamUser(ctx context.Context, teamID, userID, providerPaymentID string) (Completion, error) {
	if teamID == "" || userID == "" {
		return Completion{}, nil
	}
	return s.complete(ctx, providerPaymentID, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("team_id = ? AND user_id = ?", teamID, userID)
	})
}

// complete locks the first matching pending row and flips it with a
// conditional update, so concurrent callers see exactly one RowsAffected=1.
func (s *gormStore) complete(ctx context.Context, providerPaymentID string, scope func(*gorm.DB) *gorm.DB) (Completion, error) {
	var out Completion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.PendingPayment
		err := scope(tx.Clauses(clause.Locking{Strength: "UPDATE"})).
			Where("status = ?", models.PaymentStatusPending).
			Order("id ASC").
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":       models.PaymentStatusCompleted,
			"completed_at": time.Now(),
			"held_seats":   0,
		}
		if providerPaymentID != "" && row.ProviderPaymentID == "" {
			updates["provider_payment_id"] = providerPaymentID
		}
		res := tx.Model(&models.PendingPayment{}).
			Where("id = ? AND status = ?", row.ID, models.PaymentStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		out.RowsAffected = res.RowsAffected
		if res.RowsAffected > 0 {
			out.PendingID = row.ID
			out.HeldSeats = row.HeldSeats
		}
		return nil
	})
	return out, err
}

func (s *gormStore) ListPendingForTeam(ctx context.Context, teamID, userID string) ([]models.PendingPayment, error) {
	var rows []models.PendingPayment
	q := s.db.WithContext(ctx).Where("team_id = ? AND status = ?", teamID, models.PaymentStatusPending)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Order("created_at DESC").Find(&rows).Error
	return rows, err
}

func (s *gormStore) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PendingPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.PendingPayment
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, createdBefore).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ClearHold zeroes the held seats of a still-pending row. It reports false
// when another caller already cleared or completed it.
func (s *gormStore) ClearHold(ctx context.Context, id uint, seats int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.PendingPayment{}).
		Where("id = ? AND status = ? AND held_seats = ?", id, models.PaymentStatusPending, seats).
		Update("held_seats", 0)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) AppendWebhookLog(ctx context.Context, entry *models.WebhookLog) (uint, error) {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return 0, err
	}
	return entry.ID, nil
}

// ListWebhookLogs pages backwards through the log, newest first.
func (s *gormStore) ListWebhookLogs(ctx context.Context, source string, beforeID uint, limit int) ([]models.WebhookLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Model(&models.WebhookLog{})
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var rows []models.WebhookLog
	err := q.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
