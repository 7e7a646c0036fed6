package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/capacity"
)

var (
	ErrEmailTaken      = errors.New("email already registered")
	ErrAlreadyLeader   = errors.New("user already leads a team")
	ErrAlreadyMember   = errors.New("user is already a member of the team")
	ErrNotMember       = errors.New("user is not a member of the team")
	ErrLeaderRemoval   = errors.New("the leader cannot be removed from the team")
	ErrMemberPaid      = errors.New("members who already paid cannot be removed")
	ErrResetTokenUsed  = errors.New("reset token is invalid or expired")
	ErrCategoryMissing = errors.New("category not found")
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Register(user *models.User) error
	GetByID(id string) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	UpdatePassword(id, passwordHash string) error
	SetAccommodation(id string, want bool) (*models.User, error)
	Count() (int64, error)
}

// TeamRepository defines the interface for teams and their rosters
type TeamRepository interface {
	Create(team *models.Team) error
	GetByID(id string) (*models.Team, error)
	GetByLeader(userID string) (*models.Team, error)
	ListPublic() ([]models.Team, error)
	ListForUser(userID string) ([]models.TeamSummary, error)
	AddMember(teamID, userID string) error
	RemoveMember(teamID, userID string) error
	IsMember(teamID, userID string) (bool, error)
	Members(teamID string) ([]models.TeamMemberView, error)
	CountPaidMembers() (int64, error)
}

// RobotRepository defines the interface for robot-related database operations
type RobotRepository interface {
	Create(robot *models.Robot) error
	ListByTeam(teamID string) ([]models.RobotView, error)
	ListByCategory(categoryID uint) ([]models.RobotView, error)
}

// CategoryRepository defines the interface for competition categories
type CategoryRepository interface {
	Create(category *models.Category) error
	GetByID(id uint) (*models.Category, error)
	ListWithStats() ([]models.CategoryStats, error)
}

// PasswordResetRepository stores one-time password reset tokens
type PasswordResetRepository interface {
	Create(token *models.PasswordResetToken) error
	Consume(rawToken string, newPasswordHash string) (*models.User, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User          UserRepository
	Team          TeamRepository
	Robot         RobotRepository
	Category      CategoryRepository
	PasswordReset PasswordResetRepository
}

// NewRepositories creates a new instance of all repositories. The guard
// enforces the registration and accommodation ceilings.
func NewRepositories(db *gorm.DB, guard *capacity.Guard) *Repositories {
	return &Repositories{
		User:          NewUserRepository(db, guard),
		Team:          NewTeamRepository(db),
		Robot:         NewRobotRepository(db),
		Category:      NewCategoryRepository(db),
		PasswordReset: NewPasswordResetRepository(db),
	}
}
