package agent

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
)

// Statuses
const (
	StatusPending  = "pending"
	StatusNormal   = "normal"
	StatusDisabled = "disabled"
)

var (
	ErrNotFound error = core.NotFoundError{Resource: "agent"}
	ErrPending        = core.NewBusinessError(http.StatusBadRequest, "account under review")
	ErrDisabled       = core.NewBusinessError(http.StatusForbidden, "agent account disabled")

	nowFunc = time.Now // mockable
)

type Agent struct {
	ID         string          `json:"id"`
	UserID     null.String     `json:"user_id"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone"`
	Status     string          `json:"status"`
	RebateRate decimal.Decimal `json:"rebate_rate"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type NewAgent struct {
	UserID     null.String     `json:"user_id"`
	Name       string          `json:"name" validate:"required"`
	Phone      string          `json:"phone" validate:"omitempty,max=32"`
	Status     string          `json:"status" validate:"omitempty,oneof=pending normal disabled"`
	RebateRate decimal.Decimal `json:"rebate_rate" validate:"gte=0,lte=100"`
}

func (na *NewAgent) Validate(validate *validator.Validate) error {
	na.Name = core.CleanString(na.Name)
	na.Phone = core.CleanString(na.Phone)
	return validate.Struct(na)
}

type UpdateAgent struct {
	Name       string           `json:"name"`
	Phone      string           `json:"phone" validate:"omitempty,max=32"`
	Status     string           `json:"status" validate:"omitempty,oneof=pending normal disabled"`
	RebateRate *decimal.Decimal `json:"rebate_rate" validate:"omitempty,gte=0,lte=100"`
}

func (ua *UpdateAgent) Validate(validate *validator.Validate) error {
	ua.Name = core.CleanString(ua.Name)
	ua.Phone = core.CleanString(ua.Phone)
	return validate.Struct(ua)
}

type QueryFilter struct {
	Search string `query:"search"`
	Status string `query:"status"`
}

func (qf QueryFilter) Match(a Agent) bool {
	if qf.Status != "" && a.Status != qf.Status {
		return false
	}
	if qf.Search != "" {
		s := strings.ToLower(qf.Search)
		if !strings.Contains(strings.ToLower(a.Name), s) && !strings.Contains(a.Phone, s) {
			return false
		}
	}
	return true
}

// NormalizeRate turns a percentage (60) into a ratio (0.6). Ratios are kept as is.
func NormalizeRate(rate decimal.Decimal) decimal.Decimal {
	if rate.GreaterThan(decimal.NewFromInt(1)) {
		return rate.Div(decimal.NewFromInt(100))
	}
	return rate
}

type Repository interface {
	CreateAgent(ctx context.Context, a Agent) (Agent, error)
	GetAgent(ctx context.Context, id string) (Agent, error)
	QueryAgents(ctx context.Context, filter QueryFilter, page core.Page) ([]Agent, int, error)
	UpdateAgent(ctx context.Context, a Agent) (Agent, error)
}

// RateSource provides the fallback rebate rate (the `default_rebate_rate` setting).
type RateSource interface {
	DefaultRebateRate(ctx context.Context) decimal.Decimal
}

type Service struct {
	repo  Repository
	rates RateSource
}

func NewService(repo Repository, rates RateSource) *Service {
	return &Service{repo: repo, rates: rates}
}

func (svc *Service) Create(ctx context.Context, na NewAgent) (Agent, error) {
	now := nowFunc().UTC()
	status := na.Status
	if status == "" {
		status = StatusPending
	}
	a := Agent{
		ID:         uuid.New().String(),
		UserID:     na.UserID,
		Name:       na.Name,
		Phone:      na.Phone,
		Status:     status,
		RebateRate: NormalizeRate(na.RebateRate),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	a, err := svc.repo.CreateAgent(ctx, a)
	return a, errors.Wrap(err, "creating agent")
}

func (svc *Service) Get(ctx context.Context, id string) (Agent, error) {
	return svc.repo.GetAgent(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, page core.Page) ([]Agent, int, error) {
	filter.Search = core.CleanString(filter.Search)
	return svc.repo.QueryAgents(ctx, filter, page.Normalize())
}

func (svc *Service) Update(ctx context.Context, a Agent, ua UpdateAgent) (Agent, error) {
	if ua.Name != "" {
		a.Name = ua.Name
	}
	if ua.Phone != "" {
		a.Phone = ua.Phone
	}
	if ua.Status != "" {
		a.Status = ua.Status
	}
	if ua.RebateRate != nil {
		a.RebateRate = NormalizeRate(*ua.RebateRate)
	}
	a.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateAgent(ctx, a)
}

// CheckLogin gates logins of users attached to an agent.
// A missing agent does not block the login.
func (svc *Service) CheckLogin(ctx context.Context, agentID null.String) error {
	if !agentID.Valid || agentID.String == "" {
		return nil
	}
	a, err := svc.repo.GetAgent(ctx, agentID.String)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "getting agent")
	}
	switch a.Status {
	case StatusPending:
		return ErrPending
	case StatusDisabled:
		return ErrDisabled
	}
	return nil
}

// RebateRate is the share of a task commission paid to a student of the agent.
func (svc *Service) RebateRate(ctx context.Context, agentID null.String) (decimal.Decimal, error) {
	fallback := svc.rates.DefaultRebateRate(ctx)
	if !agentID.Valid || agentID.String == "" {
		return fallback, nil
	}
	a, err := svc.repo.GetAgent(ctx, agentID.String)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return fallback, nil
		}
		return decimal.Zero, errors.Wrap(err, "getting agent")
	}
	if !a.RebateRate.IsPositive() {
		return fallback, nil
	}
	return a.RebateRate, nil
}
