package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/app/repository"
	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/media"
	"github.com/technovacao/registration/internal/pkg/usercontext"
)

type createRobotRequest struct {
	Name       string `json:"name" form:"name" validate:"required,min=1,max=150"`
	TeamID     string `json:"teamId" form:"teamId" validate:"required"`
	CategoryID uint   `json:"categoryId" form:"categoryId" validate:"required"`
}

type RobotController struct {
	repos    *repository.Repositories
	uploader media.Uploader
}

func NewRobotController(repos *repository.Repositories, uploader media.Uploader) *RobotController {
	return &RobotController{repos: repos, uploader: uploader}
}

func (rc *RobotController) HandleCreate(c *fiber.Ctx) error {
	var req createRobotRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	team, err := rc.repos.Team.GetByID(req.TeamID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "team_not_found", "team not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to load team")
	}
	if team.LeaderID != usercontext.GetUserID(c) {
		return jsonError(c, fiber.StatusForbidden, "not_leader", "only the team leader can register robots")
	}

	photo, err := uploadPhoto(c, rc.uploader, "robots")
	if err != nil {
		return photoError(c, err)
	}

	robot := &models.Robot{
		Name:       req.Name,
		Photo:      photo,
		TeamID:     team.ID,
		CategoryID: req.CategoryID,
	}
	if err := rc.repos.Robot.Create(robot); err != nil {
		if errors.Is(err, repository.ErrCategoryMissing) {
			return jsonError(c, fiber.StatusNotFound, "category_not_found", err.Error())
		}
		if errors.Is(err, capacity.ErrCapacityExceeded) {
			return jsonError(c, fiber.StatusBadRequest, "category_full", "category full")
		}
		log.Errorf("[Robot] Failed to create robot for team %s: %v", team.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not create robot")
	}
	return c.Status(fiber.StatusCreated).JSON(robot)
}

func (rc *RobotController) HandleByCategory(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "category id must be a number")
	}
	robots, err := rc.repos.Robot.ListByCategory(uint(id))
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to list robots")
	}
	if robots == nil {
		robots = []models.RobotView{}
	}
	return c.JSON(robots)
}

type CategoryController struct {
	repos *repository.Repositories
}

func NewCategoryController(repos *repository.Repositories) *CategoryController {
	return &CategoryController{repos: repos}
}

func (cc *CategoryController) HandleList(c *fiber.Ctx) error {
	stats, err := cc.repos.Category.ListWithStats()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to list categories")
	}
	if stats == nil {
		stats = []models.CategoryStats{}
	}
	return c.JSON(stats)
}
