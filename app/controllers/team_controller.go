package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/app/repository"
	"github.com/technovacao/registration/internal/pkg/media"
	"github.com/technovacao/registration/internal/pkg/usercontext"
	"github.com/technovacao/registration/internal/pkg/utils"
)

type createTeamRequest struct {
	Name        string `json:"name" form:"name" validate:"required,min=2,max=150"`
	Institution string `json:"institution" form:"institution" validate:"max=200"`
}

type addMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type publicTeam struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Photo       string `json:"photo"`
	Institution string `json:"institution"`
}

type TeamController struct {
	repos    *repository.Repositories
	uploader media.Uploader
}

func NewTeamController(repos *repository.Repositories, uploader media.Uploader) *TeamController {
	return &TeamController{repos: repos, uploader: uploader}
}

func (tc *TeamController) HandleCreate(c *fiber.Ctx) error {
	var req createTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	photo, err := uploadPhoto(c, tc.uploader, "teams")
	if err != nil {
		return photoError(c, err)
	}

	team := &models.Team{
		Name:        req.Name,
		Institution: strings.TrimSpace(req.Institution),
		Photo:       photo,
		LeaderID:    usercontext.GetUserID(c),
	}
	if err := tc.repos.Team.Create(team); err != nil {
		if errors.Is(err, repository.ErrAlreadyLeader) {
			return jsonError(c, fiber.StatusBadRequest, "already_leader", err.Error())
		}
		log.Errorf("[Team] Failed to create team: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not create team")
	}
	return c.Status(fiber.StatusCreated).JSON(team)
}

func (tc *TeamController) HandleList(c *fiber.Ctx) error {
	teams, err := tc.repos.Team.ListPublic()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to list teams")
	}
	out := make([]publicTeam, 0, len(teams))
	for _, t := range teams {
		out = append(out, publicTeam{ID: t.ID, Name: t.Name, Photo: t.Photo, Institution: t.Institution})
	}
	return c.JSON(out)
}

func (tc *TeamController) HandleMine(c *fiber.Ctx) error {
	teams, err := tc.repos.Team.ListForUser(usercontext.GetUserID(c))
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to list teams")
	}
	if teams == nil {
		teams = []models.TeamSummary{}
	}
	return c.JSON(teams)
}

func (tc *TeamController) HandleAddMember(c *fiber.Ctx) error {
	team, err := tc.leaderTeam(c)
	if team == nil {
		return err
	}

	var req addMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	user, err := tc.repos.User.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "user_not_found", "no user registered with this email")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to load user")
	}

	if err := tc.repos.Team.AddMember(team.ID, user.ID); err != nil {
		if errors.Is(err, repository.ErrAlreadyMember) {
			return jsonError(c, fiber.StatusBadRequest, "already_member", err.Error())
		}
		log.Errorf("[Team] Failed to add %s to %s: %v", user.ID, team.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not add member")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	})
}

func (tc *TeamController) HandleRemoveMember(c *fiber.Ctx) error {
	team, err := tc.leaderTeam(c)
	if team == nil {
		return err
	}

	err = tc.repos.Team.RemoveMember(team.ID, c.Params("userId"))
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"success": true})
	case errors.Is(err, repository.ErrNotMember):
		return jsonError(c, fiber.StatusNotFound, "not_member", err.Error())
	case errors.Is(err, repository.ErrLeaderRemoval), errors.Is(err, repository.ErrMemberPaid):
		return jsonError(c, fiber.StatusBadRequest, "cannot_remove", err.Error())
	default:
		log.Errorf("[Team] Failed to remove member from %s: %v", team.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not remove member")
	}
}

func (tc *TeamController) HandleMembers(c *fiber.Ctx) error {
	team, err := tc.memberTeam(c)
	if team == nil {
		return err
	}
	members, err := tc.repos.Team.Members(team.ID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to list members")
	}
	if members == nil {
		members = []models.TeamMemberView{}
	}
	for i := range members {
		members[i].Photo = utils.AvatarURL(members[i].Photo, members[i].Email)
	}
	return c.JSON(members)
}

func (tc *TeamController) HandleRobots(c *fiber.Ctx) error {
	team, err := tc.memberTeam(c)
	if team == nil {
		return err
	}
	robots, err := tc.repos.Robot.ListByTeam(team.ID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to list robots")
	}
	if robots == nil {
		robots = []models.RobotView{}
	}
	return c.JSON(robots)
}

// loadTeam resolves :id. On failure it returns a nil team and the already
// written response.
func (tc *TeamController) loadTeam(c *fiber.Ctx) (*models.Team, error) {
	team, err := tc.repos.Team.GetByID(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jsonError(c, fiber.StatusNotFound, "team_not_found", "team not found")
		}
		return nil, jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to load team")
	}
	return team, nil
}

func (tc *TeamController) leaderTeam(c *fiber.Ctx) (*models.Team, error) {
	team, err := tc.loadTeam(c)
	if team == nil {
		return nil, err
	}
	if team.LeaderID != usercontext.GetUserID(c) {
		return nil, jsonError(c, fiber.StatusForbidden, "not_leader", "only the team leader can do this")
	}
	return team, nil
}

func (tc *TeamController) memberTeam(c *fiber.Ctx) (*models.Team, error) {
	team, err := tc.loadTeam(c)
	if team == nil {
		return nil, err
	}
	uc := usercontext.GetUserContext(c)
	if uc.IsAdmin {
		return team, nil
	}
	ok, err := tc.repos.Team.IsMember(team.ID, uc.UserID)
	if err != nil {
		return nil, jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to check membership")
	}
	if !ok {
		return nil, jsonError(c, fiber.StatusForbidden, "not_member", "only team members can see this")
	}
	return team, nil
}
