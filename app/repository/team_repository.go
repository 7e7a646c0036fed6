package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
)

type teamRepository struct {
	db *gorm.DB
}

// NewTeamRepository creates a new team repository instance
func NewTeamRepository(db *gorm.DB) TeamRepository {
	return &teamRepository{db: db}
}

// Create inserts the team and enrolls its leader in the same transaction.
func (r *teamRepository) Create(team *models.Team) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var led int64
		if err := tx.Model(&models.Team{}).Where("leader_id = ?", team.LeaderID).Count(&led).Error; err != nil {
			return err
		}
		if led > 0 {
			return ErrAlreadyLeader
		}
		if err := tx.Create(team).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyLeader
			}
			return err
		}
		return tx.Create(&models.TeamMember{
			TeamID: team.ID,
			UserID: team.LeaderID,
			Role:   models.TEAM_ROLE_LEADER,
		}).Error
	})
}

func (r *teamRepository) GetByID(id string) (*models.Team, error) {
	var team models.Team
	if err := r.db.Where("id = ?", id).First(&team).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

func (r *teamRepository) GetByLeader(userID string) (*models.Team, error) {
	var team models.Team
	if err := r.db.Where("leader_id = ?", userID).First(&team).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

// ListPublic returns every team, newest first.
func (r *teamRepository) ListPublic() ([]models.Team, error) {
	var teams []models.Team
	err := r.db.Order("created_at DESC").Find(&teams).Error
	return teams, err
}

// ListForUser returns the teams the user belongs to.
func (r *teamRepository) ListForUser(userID string) ([]models.TeamSummary, error) {
	var rows []models.TeamSummary
	err := r.db.Table("teams").
		Select("teams.id, teams.name, teams.leader_id = ? AS is_leader", userID).
		Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("team_members.user_id = ?", userID).
		Order("teams.name ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *teamRepository) AddMember(teamID, userID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.TeamMember{}).Where("team_id = ? AND user_id = ?", teamID, userID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyMember
		}
		err := tx.Create(&models.TeamMember{TeamID: teamID, UserID: userID, Role: models.TEAM_ROLE_MEMBER}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyMember
		}
		return err
	})
}

// RemoveMember deletes an unpaid, non-leader roster entry.
func (r *teamRepository) RemoveMember(teamID, userID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var member models.TeamMember
		err := tx.Where("team_id = ? AND user_id = ?", teamID, userID).First(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotMember
		}
		if err != nil {
			return err
		}
		if member.Role == models.TEAM_ROLE_LEADER {
			return ErrLeaderRemoval
		}
		if member.IsPaid {
			return ErrMemberPaid
		}
		res := tx.Where("team_id = ? AND user_id = ? AND is_paid = ?", teamID, userID, false).Delete(&models.TeamMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMemberPaid
		}
		return nil
	})
}

func (r *teamRepository) IsMember(teamID, userID string) (bool, error) {
	var n int64
	err := r.db.Model(&models.TeamMember{}).Where("team_id = ? AND user_id = ?", teamID, userID).Count(&n).Error
	return n > 0, err
}

// Members lists the roster with each user's public profile, leader first.
func (r *teamRepository) Members(teamID string) ([]models.TeamMemberView, error) {
	var rows []models.TeamMemberView
	err := r.db.Table("team_members").
		Select("users.id, users.name, users.email, users.photo, team_members.role, team_members.is_paid").
		Joins("JOIN users ON users.id = team_members.user_id").
		Where("team_members.team_id = ?", teamID).
		Order("team_members.role = 'leader' DESC, users.name ASC").
		Scan(&rows).Error
	return rows, err
}

// CountPaidMembers counts roster entries marked paid across all teams.
func (r *teamRepository) CountPaidMembers() (int64, error) {
	var n int64
	err := r.db.Model(&models.TeamMember{}).Where("is_paid = ?", true).Count(&n).Error
	return n, err
}
