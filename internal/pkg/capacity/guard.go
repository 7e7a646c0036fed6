package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/config"
)

// Kind names a global ceiling backed by a capacity_counters row.
type Kind string

const (
	Members       Kind = models.CounterMembers
	Accommodation Kind = models.CounterAccommodation
	Registrations Kind = models.CounterRegistrations
)

var ErrCapacityExceeded = errors.New("capacity exceeded")

// CapacityError is returned when a reservation would cross a ceiling.
type CapacityError struct {
	Kind      Kind
	Requested int64
	Remaining int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s limit reached: %d requested, only %d remaining", e.Kind, e.Requested, e.Remaining)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

// Decision is the read-only answer of Check. Remaining is meaningless when
// Unlimited is set.
type Decision struct {
	Allowed   bool  `json:"allowed"`
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Unlimited bool  `json:"unlimited"`
}

// Guard enforces the global ceilings with conditional counter updates.
type Guard struct {
	db     *gorm.DB
	limits map[Kind]int64
}

func NewGuard(db *gorm.DB, limits config.Limits) *Guard {
	return &Guard{
		db: db,
		limits: map[Kind]int64{
			Members:       int64(limits.MaxPaidMembers),
			Accommodation: int64(limits.MaxAccommodation),
			Registrations: int64(limits.MaxRegistrations),
		},
	}
}

// Limit returns the configured ceiling; zero or less means unlimited.
func (g *Guard) Limit(kind Kind) int64 {
	return g.limits[kind]
}

func (g *Guard) Used(ctx context.Context, kind Kind) (int64, error) {
	return usedTx(g.db.WithContext(ctx), kind)
}

// Check reports whether requested more units fit under the ceiling right now.
// It does not reserve anything; held seats already count as used.
func (g *Guard) Check(ctx context.Context, kind Kind, requested int64) (Decision, error) {
	used, err := g.Used(ctx, kind)
	if err != nil {
		return Decision{}, err
	}
	return decide(used, g.Limit(kind), requested), nil
}

func decide(used, limit, requested int64) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Used: used, Limit: limit, Unlimited: true}
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   requested <= remaining,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
	}
}

func (g *Guard) Reserve(ctx context.Context, kind Kind, n int64) error {
	return g.ReserveTx(g.db.WithContext(ctx), kind, n)
}

func (g *Guard) Release(ctx context.Context, kind Kind, n int64) error {
	return g.ReleaseTx(g.db.WithContext(ctx), kind, n)
}

// ReserveTx adds n to the counter in a single conditional statement, so
// concurrent callers can never push it past the limit.
func (g *Guard) ReserveTx(tx *gorm.DB, kind Kind, n int64) error {
	if n <= 0 {
		return nil
	}
	limit := g.Limit(kind)

	var res *gorm.DB
	if limit <= 0 {
		res = tx.Exec("UPDATE capacity_counters SET used = used + ? WHERE name = ?", n, string(kind))
	} else {
		res = tx.Exec("UPDATE capacity_counters SET used = used + ? WHERE name = ? AND used + ? <= ?", n, string(kind), n, limit)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	used, err := usedTx(tx, kind)
	if err != nil {
		return err
	}
	d := decide(used, limit, n)
	log.Infof("[Capacity] Denied %d %s (used=%d limit=%d)", n, kind, used, limit)
	return &CapacityError{Kind: kind, Requested: n, Remaining: d.Remaining}
}

// ReleaseTx subtracts n from the counter, never going below zero.
func (g *Guard) ReleaseTx(tx *gorm.DB, kind Kind, n int64) error {
	if n <= 0 {
		return nil
	}
	return tx.Exec("UPDATE capacity_counters SET used = CASE WHEN used >= ? THEN used - ? ELSE 0 END WHERE name = ?", n, n, string(kind)).Error
}

func usedTx(tx *gorm.DB, kind Kind) (int64, error) {
	var counter models.CapacityCounter
	if err := tx.Where("name = ?", string(kind)).Take(&counter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("capacity counter %q is not seeded: %w", kind, err)
		}
		return 0, err
	}
	return counter.Used, nil
}

// LockCategory loads a category with a row lock held until tx ends, so the
// count and the following robot insert are serialized per category.
func LockCategory(tx *gorm.DB, categoryID uint) (*models.Category, error) {
	var category models.Category
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&category, categoryID).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// CheckCategoryTx locks the category and denies when its registered robots
// already fill robot_limit. A limit of zero means unlimited.
func CheckCategoryTx(tx *gorm.DB, categoryID uint) (*models.Category, error) {
	category, err := LockCategory(tx, categoryID)
	if err != nil {
		return nil, err
	}
	if category.RobotLimit <= 0 {
		return category, nil
	}
	count, err := RegisteredCount(tx, categoryID)
	if err != nil {
		return nil, err
	}
	if count >= int64(category.RobotLimit) {
		return nil, &CapacityError{
			Kind:      Kind("category:" + category.Name),
			Requested: 1,
			Remaining: 0,
		}
	}
	return category, nil
}

// RegisteredCount counts every robot in the category, paid or not.
func RegisteredCount(db *gorm.DB, categoryID uint) (int64, error) {
	var n int64
	err := db.Model(&models.Robot{}).Where("category_id = ?", categoryID).Count(&n).Error
	return n, err
}

// ConfirmedPaidCount counts only the paid robots in the category.
func ConfirmedPaidCount(db *gorm.DB, categoryID uint) (int64, error) {
	var n int64
	err := db.Model(&models.Robot{}).Where("category_id = ? AND is_paid = ?", categoryID, true).Count(&n).Error
	return n, err
}
