package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/app/repository"
	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/config"
	"github.com/technovacao/registration/internal/pkg/middleware"
	"github.com/technovacao/registration/internal/pkg/payments"
	"github.com/technovacao/registration/internal/pkg/security"
)

const testSecret = "test-jwt-secret"

type memDB struct {
	mu            sync.Mutex
	users         map[string]*models.User
	teams         map[string]*models.Team
	members       map[string][]*models.TeamMember
	robots        []*models.Robot
	categories    map[uint]*models.Category
	resets        map[string]*models.PasswordResetToken
	accommodation int
	maxAccomm     int
}

func newMemDB() *memDB {
	return &memDB{
		users:      map[string]*models.User{},
		teams:      map[string]*models.Team{},
		members:    map[string][]*models.TeamMember{},
		categories: map[uint]*models.Category{},
		resets:     map[string]*models.PasswordResetToken{},
	}
}

func (m *memDB) repos() *repository.Repositories {
	return &repository.Repositories{
		User:          memUsers{m},
		Team:          memTeams{m},
		Robot:         memRobots{m},
		Category:      memCategories{m},
		PasswordReset: memResets{m},
	}
}

type memUsers struct{ m *memDB }

func (r memUsers) Register(u *models.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.users {
		if existing.Email == u.Email {
			return repository.ErrEmailTaken
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	r.m.users[u.ID] = u
	return nil
}

func (r memUsers) GetByID(id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, ok := r.m.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memUsers) GetByEmail(email string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Email == models.NormalizeEmail(email) {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memUsers) Update(u *models.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.users[u.ID] = u
	return nil
}

func (r memUsers) UpdatePassword(id, hash string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r memUsers) SetAccommodation(id string, want bool) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if u.Accommodation == want {
		return u, nil
	}
	if want {
		if r.m.maxAccomm > 0 && r.m.accommodation >= r.m.maxAccomm {
			return nil, &capacity.CapacityError{Kind: capacity.Accommodation, Requested: 1, Remaining: 0}
		}
		r.m.accommodation++
	} else {
		r.m.accommodation--
	}
	u.Accommodation = want
	return u, nil
}

func (r memUsers) Count() (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return int64(len(r.m.users)), nil
}

type memTeams struct{ m *memDB }

func (r memTeams) Create(t *models.Team) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.teams {
		if existing.LeaderID == t.LeaderID {
			return repository.ErrAlreadyLeader
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	r.m.teams[t.ID] = t
	r.m.members[t.ID] = []*models.TeamMember{{TeamID: t.ID, UserID: t.LeaderID, Role: models.TEAM_ROLE_LEADER}}
	return nil
}

func (r memTeams) GetByID(id string) (*models.Team, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if t, ok := r.m.teams[id]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memTeams) GetByLeader(userID string) (*models.Team, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.teams {
		if t.LeaderID == userID {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memTeams) ListPublic() ([]models.Team, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]models.Team, 0, len(r.m.teams))
	for _, t := range r.m.teams {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memTeams) ListForUser(userID string) ([]models.TeamSummary, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.TeamSummary
	for teamID, ms := range r.m.members {
		for _, mem := range ms {
			if mem.UserID == userID {
				t := r.m.teams[teamID]
				out = append(out, models.TeamSummary{ID: t.ID, Name: t.Name, IsLeader: t.LeaderID == userID})
			}
		}
	}
	return out, nil
}

func (r memTeams) AddMember(teamID, userID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, mem := range r.m.members[teamID] {
		if mem.UserID == userID {
			return repository.ErrAlreadyMember
		}
	}
	r.m.members[teamID] = append(r.m.members[teamID], &models.TeamMember{TeamID: teamID, UserID: userID, Role: models.TEAM_ROLE_MEMBER})
	return nil
}

func (r memTeams) RemoveMember(teamID, userID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ms := r.m.members[teamID]
	for i, mem := range ms {
		if mem.UserID != userID {
			continue
		}
		if mem.Role == models.TEAM_ROLE_LEADER {
			return repository.ErrLeaderRemoval
		}
		if mem.IsPaid {
			return repository.ErrMemberPaid
		}
		r.m.members[teamID] = append(ms[:i:i], ms[i+1:]...)
		return nil
	}
	return repository.ErrNotMember
}

func (r memTeams) IsMember(teamID, userID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, mem := range r.m.members[teamID] {
		if mem.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r memTeams) Members(teamID string) ([]models.TeamMemberView, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.TeamMemberView
	for _, mem := range r.m.members[teamID] {
		u := r.m.users[mem.UserID]
		out = append(out, models.TeamMemberView{ID: u.ID, Name: u.Name, Email: u.Email, Role: mem.Role, IsPaid: mem.IsPaid})
	}
	return out, nil
}

func (r memTeams) CountPaidMembers() (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, ms := range r.m.members {
		for _, mem := range ms {
			if mem.IsPaid {
				n++
			}
		}
	}
	return n, nil
}

type memRobots struct{ m *memDB }

func (r memRobots) Create(robot *models.Robot) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cat, ok := r.m.categories[robot.CategoryID]
	if !ok {
		return repository.ErrCategoryMissing
	}
	count := 0
	for _, existing := range r.m.robots {
		if existing.CategoryID == robot.CategoryID {
			count++
		}
	}
	if cat.RobotLimit > 0 && count >= cat.RobotLimit {
		return &capacity.CapacityError{Kind: capacity.Kind("category:" + cat.Name), Requested: 1}
	}
	if robot.ID == "" {
		robot.ID = uuid.NewString()
	}
	r.m.robots = append(r.m.robots, robot)
	return nil
}

func (r memRobots) ListByTeam(teamID string) ([]models.RobotView, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.RobotView
	for _, robot := range r.m.robots {
		if robot.TeamID == teamID {
			out = append(out, models.RobotView{ID: robot.ID, Name: robot.Name, Category: r.m.categories[robot.CategoryID].Name})
		}
	}
	return out, nil
}

func (r memRobots) ListByCategory(categoryID uint) ([]models.RobotView, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.RobotView
	for _, robot := range r.m.robots {
		if robot.CategoryID == categoryID {
			out = append(out, models.RobotView{ID: robot.ID, Name: robot.Name, TeamName: r.m.teams[robot.TeamID].Name})
		}
	}
	return out, nil
}

type memCategories struct{ m *memDB }

func (r memCategories) Create(c *models.Category) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c.ID = uint(len(r.m.categories) + 1)
	r.m.categories[c.ID] = c
	return nil
}

func (r memCategories) GetByID(id uint) (*models.Category, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if c, ok := r.m.categories[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r memCategories) ListWithStats() ([]models.CategoryStats, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.CategoryStats
	for _, c := range r.m.categories {
		s := models.CategoryStats{ID: c.ID, Name: c.Name, RobotLimit: c.RobotLimit}
		for _, robot := range r.m.robots {
			if robot.CategoryID == c.ID {
				s.RegisteredCount++
				if robot.IsPaid {
					s.ConfirmedPaidCount++
				}
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memResets struct{ m *memDB }

func (r memResets) Create(t *models.PasswordResetToken) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.resets[t.TokenHash] = t
	return nil
}

func (r memResets) Consume(raw, hash string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	t, ok := r.m.resets[models.HashResetToken(raw)]
	if !ok || !t.Usable(time.Now()) {
		return nil, repository.ErrResetTokenUsed
	}
	now := time.Now()
	t.UsedAt = &now
	u := r.m.users[t.UserID]
	u.PasswordHash = hash
	return u, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeMailer) SendPasswordReset(to, name, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, link)
	return nil
}

type fakeCheckout struct {
	checkoutReq payments.CheckoutRequest
	chargeReq   payments.ChargeRequest
	checkoutRes *payments.CheckoutResult
	chargeRes   *payments.ChargeResult
	pending     []models.PendingPayment
	err         error
}

func (f *fakeCheckout) CreateCheckout(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutResult, error) {
	f.checkoutReq = req
	return f.checkoutRes, f.err
}

func (f *fakeCheckout) ProcessPayment(_ context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	f.chargeReq = req
	return f.chargeRes, f.err
}

func (f *fakeCheckout) ListPending(_ context.Context, teamID, requesterID string) ([]models.PendingPayment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pending, nil
}

func (f *fakeCheckout) Pricing() config.Pricing {
	return config.Pricing{MemberCents: 5500, RobotCents: 2000, Currency: "BRL"}
}

type fakeNotifier struct {
	mu      sync.Mutex
	inbound []payments.Inbound
	status  int
	logs    []models.WebhookLog
	logArgs []any
}

func (f *fakeNotifier) HandleNotification(_ context.Context, in payments.Inbound) payments.Ack {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, in)
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return payments.Ack{Status: status}
}

func (f *fakeNotifier) ListLogs(_ context.Context, source string, beforeID uint, limit int) ([]models.WebhookLog, error) {
	f.logArgs = []any{source, beforeID, limit}
	return f.logs, nil
}

var errBoom = errors.New("boom")

type harness struct {
	app      *fiber.App
	db       *memDB
	checkout *fakeCheckout
	notifier *fakeNotifier
	mailer   *fakeMailer
}

// newHarness mounts every handler on a fresh app with test doubles.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:       newMemDB(),
		checkout: &fakeCheckout{},
		notifier: &fakeNotifier{},
		mailer:   &fakeMailer{},
	}
	InitializeControllers(Dependencies{
		Repos:      h.db.repos(),
		Checkout:   h.checkout,
		Reconciler: h.notifier,
		Mailer:     h.mailer,
		JWT:        config.JWT{Secret: testSecret, TTL: time.Hour},
		Limits:     config.Limits{MaxPaidMembers: 10},
		MP:         config.MercadoPago{PublicKey: "APP_USR-public", FrontendURL: "https://front.test"},
	})

	app := fiber.New()
	auth := middleware.RequireAuth(testSecret)

	app.Post("/auth/register", HandleRegister)
	app.Post("/auth/login", HandleLogin)
	app.Post("/auth/password/forgot", HandleForgotPassword)
	app.Post("/auth/password/reset", HandleResetPassword)
	app.Get("/auth/me", auth, HandleMe)
	app.Put("/auth/accommodation", auth, HandleAccommodation)

	app.Get("/teams", HandleTeamList)
	app.Post("/teams", auth, HandleTeamCreate)
	app.Get("/teams/mine", auth, HandleTeamMine)
	app.Post("/teams/:id/members", auth, HandleTeamAddMember)
	app.Delete("/teams/:id/members/:userId", auth, HandleTeamRemoveMember)
	app.Get("/teams/:id/members", auth, HandleTeamMembers)
	app.Get("/teams/:id/robots", auth, HandleTeamRobots)

	app.Post("/robots", auth, HandleRobotCreate)
	app.Get("/robots/category/:id", HandleRobotByCategory)
	app.Get("/categories", HandleCategoryList)

	app.Post("/payments/checkout", auth, HandlePaymentCheckout)
	app.Post("/payments/process", auth, HandlePaymentProcess)
	app.Get("/payments/config", HandlePaymentConfig)
	app.Get("/payments/count", HandlePaymentCount)
	app.Get("/payments/pending/:teamId", auth, HandlePaymentPending)

	app.Post("/webhook/mercadopago", HandleMercadoPagoWebhook)
	app.Post("/webhook/even3", HandleEven3Webhook)
	app.Get("/webhook/mercadopago/logs", auth, middleware.RequireAdmin, HandleWebhookLogs)

	h.app = app
	return h
}

func (h *harness) addUser(t *testing.T, name, email, role string) *models.User {
	t.Helper()
	u, err := models.NewUser(name, email, "secret123", "", nil)
	require.NoError(t, err)
	u.Role = role
	require.NoError(t, h.db.repos().User.Register(u))
	return u
}

func tokenFor(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := security.GenerateToken(u.ID, u.Email, u.Role, time.Hour, testSecret)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (h *harness) doList(t *testing.T, method, path, token string) (*http.Response, []map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}
