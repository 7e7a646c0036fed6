package payments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/capacity"
)

// Roster reads teams for checkout and writes the paid flags on reconciliation.
type Roster interface {
	Team(ctx context.Context, teamID string) (*models.Team, error)
	User(ctx context.Context, userID string) (*models.User, error)
	SelectMembers(ctx context.Context, teamID string, ids []string) ([]Selected, error)
	SelectRobots(ctx context.Context, teamID string, ids []string) ([]Selected, error)
	MarkMembersPaid(ctx context.Context, teamID string, ids []string, heldSeats int) (int64, error)
	MarkMembersPaidByEmail(ctx context.Context, email string, heldSeats int) (int64, error)
	MarkRobotsPaid(ctx context.Context, teamID string, ids []string) (int64, error)
}

// Seats reserves and releases units of a global ceiling.
type Seats interface {
	Reserve(ctx context.Context, kind capacity.Kind, n int64) error
	Release(ctx context.Context, kind capacity.Kind, n int64) error
}

type gormRoster struct {
	db    *gorm.DB
	guard *capacity.Guard
}

// NewRoster creates a Roster backed by GORM. Member payments settle against
// the members counter of guard inside the same transaction.
func NewRoster(db *gorm.DB, guard *capacity.Guard) Roster {
	return &gormRoster{db: db, guard: guard}
}

func (r *gormRoster) Team(ctx context.Context, teamID string) (*models.Team, error) {
	var team models.Team
	if err := r.db.WithContext(ctx).Where("id = ?", teamID).Take(&team).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

func (r *gormRoster) User(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRoster) SelectMembers(ctx context.Context, teamID string, ids []string) ([]Selected, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Selected
	err := r.db.WithContext(ctx).Table("team_members").
		Select("users.id AS id, users.name AS name, users.email AS email, team_members.is_paid AS is_paid").
		Joins("JOIN users ON users.id = team_members.user_id").
		Where("team_members.team_id = ? AND team_members.user_id IN ?", teamID, ids).
		Scan(&rows).Error
	return rows, err
}

func (r *gormRoster) SelectRobots(ctx context.Context, teamID string, ids []string) ([]Selected, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Selected
	err := r.db.WithContext(ctx).Model(&models.Robot{}).
		Select("id, name, is_paid").
		Where("team_id = ? AND id IN ?", teamID, ids).
		Scan(&rows).Error
	return rows, err
}

// MarkMembersPaid flips the unpaid members and settles the members counter
// against heldSeats in one transaction: extra newly paid members must fit
// under the ceiling, surplus held seats are given back.
func (r *gormRoster) MarkMembersPaid(ctx context.Context, teamID string, ids []string, heldSeats int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return r.markMembers(ctx, heldSeats, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("team_id = ? AND user_id IN ?", teamID, ids)
	})
}

// MarkMembersPaidByEmail is the legacy path: every unpaid roster entry of the
// user owning email is marked paid.
func (r *gormRoster) MarkMembersPaidByEmail(ctx context.Context, email string, heldSeats int) (int64, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return r.markMembers(ctx, heldSeats, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ?", user.ID)
	})
}

func (r *gormRoster) markMembers(ctx context.Context, heldSeats int, scope func(*gorm.DB) *gorm.DB) (int64, error) {
	var updated int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := scope(tx.Model(&models.TeamMember{})).
			Where("is_paid = ?", false).
			Updates(map[string]interface{}{"is_paid": true, "paid_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected

		diff := updated - int64(heldSeats)
		switch {
		case diff > 0:
			return r.guard.ReserveTx(tx, capacity.Members, diff)
		case diff < 0:
			return r.guard.ReleaseTx(tx, capacity.Members, -diff)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func (r *gormRoster) MarkRobotsPaid(ctx context.Context, teamID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.Robot{}).
		Where("team_id = ? AND id IN ? AND is_paid = ?", teamID, ids, false).
		Updates(map[string]interface{}{"is_paid": true, "paid_at": time.Now()})
	return res.RowsAffected, res.Error
}
