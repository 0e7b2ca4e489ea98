package support

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
)

var (
	ErrNotFound      error = core.NotFoundError{Resource: "virtual customer service"}
	ErrAccountExists       = errors.New("account already exists")

	nowFunc = time.Now // mockable
)

type Repository interface {
	CreateVirtualAgent(ctx context.Context, va VirtualAgent) (VirtualAgent, error)
	GetVirtualAgent(ctx context.Context, id string) (VirtualAgent, error)
	GetVirtualAgentByAccount(ctx context.Context, account string) (VirtualAgent, error)
	// QueryVirtualAgents returns the matching page (oldest first) and the total match count.
	QueryVirtualAgents(ctx context.Context, filter QueryFilter, page *core.Page) ([]VirtualAgent, int, error)
	UpdateVirtualAgent(ctx context.Context, va VirtualAgent) (VirtualAgent, error)
}

type Service struct {
	tx        core.Transactor
	repo      Repository
	tasks     task.Repository
	users     *user.Service
	allocator *Allocator
	validate  *validator.Validate
	logger    core.Logger
}

func NewService(
	tx core.Transactor,
	repo Repository,
	tasks task.Repository,
	users *user.Service,
	allocator *Allocator,
	validate *validator.Validate,
	logger core.Logger,
) *Service {
	return &Service{
		tx:        tx,
		repo:      repo,
		tasks:     tasks,
		users:     users,
		allocator: allocator,
		validate:  validate,
		logger:    logger,
	}
}

func accountTaken() error {
	return core.NewValidationError(ErrAccountExists, core.FieldError{Field: "account", Error: ErrAccountExists.Error()})
}

// Create adds a virtual agent and its backing `support:` user.
// The user logs in with the account and the given password, or user.DefaultPassword.
func (svc *Service) Create(ctx context.Context, nva NewVirtualAgent) (VirtualAgent, error) {
	var va VirtualAgent
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.GetVirtualAgentByAccount(ctx, nva.Account); err == nil {
			return accountTaken()
		} else if errors.Cause(err) != ErrNotFound {
			return errors.Wrap(err, "checking account")
		}
		if _, err := svc.users.GetByUsername(ctx, nva.Account); err == nil {
			return accountTaken()
		} else if errors.Cause(err) != user.ErrNotFound {
			return errors.Wrap(err, "checking username")
		}

		pwd := nva.Password
		if pwd == "" {
			pwd = user.DefaultPassword
		}
		usr, err := svc.users.Create(ctx, user.NewUser{
			Name:     nva.Name,
			Username: nva.Account,
			Phone:    nva.Phone,
			Password: pwd,
			Roles:    []string{user.RoleSupport},
		})
		if err != nil {
			return errors.Wrap(err, "creating user")
		}

		now := nowFunc().UTC()
		va, err = svc.repo.CreateVirtualAgent(ctx, VirtualAgent{
			ID:        uuid.New().String(),
			UserID:    usr.ID,
			Name:      nva.Name,
			Account:   nva.Account,
			Phone:     nva.Phone,
			Status:    StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return err
	})
	if err != nil {
		return VirtualAgent{}, err
	}
	svc.allocator.Invalidate()
	return va, nil
}

// BatchCreate creates every valid row; the others are reported by row number.
func (svc *Service) BatchCreate(ctx context.Context, rows []NewVirtualAgent) BatchResult {
	res := BatchResult{Errors: []core.RowError{}, Created: []VirtualAgent{}}
	for i := range rows {
		nva := rows[i]
		err := nva.Validate(svc.validate)
		if err == nil {
			var va VirtualAgent
			if va, err = svc.Create(ctx, nva); err == nil {
				res.SuccessCount++
				res.Created = append(res.Created, va)
				continue
			}
		}
		res.ErrorCount++
		res.Errors = append(res.Errors, core.RowError{Row: i + 1, Message: rowMessage(err)})
	}
	return res
}

func rowMessage(err error) string {
	switch e := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		if len(e) > 0 {
			return e[0].Field() + ": " + e[0].Tag()
		}
	case *core.ValidationError:
		if len(e.Fields) > 0 {
			return e.Fields[0].Field + ": " + e.Fields[0].Error
		}
	}
	return err.Error()
}

func (svc *Service) Get(ctx context.Context, id string) (VirtualAgent, error) {
	va, err := svc.repo.GetVirtualAgent(ctx, id)
	if err != nil {
		return VirtualAgent{}, err
	}
	if va.IsDeleted {
		return VirtualAgent{}, ErrNotFound
	}
	return va, nil
}

func (svc *Service) List(ctx context.Context, filter QueryFilter, page core.Page) ([]VirtualAgent, int, error) {
	filter.IncludeDeleted = false
	page = page.Normalize()
	return svc.repo.QueryVirtualAgents(ctx, filter, &page)
}

// Update changes the name and status only.
func (svc *Service) Update(ctx context.Context, id string, uva UpdateVirtualAgent) (VirtualAgent, error) {
	var va VirtualAgent
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if va, err = svc.Get(ctx, id); err != nil {
			return err
		}
		if uva.Name != "" {
			va.Name = uva.Name
		}
		if uva.Status != "" {
			va.Status = uva.Status
		}
		va.UpdatedAt = nowFunc().UTC()
		va, err = svc.repo.UpdateVirtualAgent(ctx, va)
		return err
	})
	if err != nil {
		return VirtualAgent{}, err
	}
	svc.allocator.Invalidate()
	return va, nil
}

// Delete soft deletes the agent, deactivates its user and hands its unfinished
// virtual tasks over to the remaining active agents, round-robin.
// It returns the number of reassigned tasks.
func (svc *Service) Delete(ctx context.Context, id string) (int, error) {
	var reassigned int
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		va, err := svc.Get(ctx, id)
		if err != nil {
			return err
		}
		now := nowFunc().UTC()
		va.IsDeleted = true
		va.Status = StatusInactive
		va.UpdatedAt = now
		if _, err = svc.repo.UpdateVirtualAgent(ctx, va); err != nil {
			return errors.Wrap(err, "deleting virtual agent")
		}

		if usr, err := svc.users.GetByID(ctx, va.UserID); err == nil {
			if _, err = svc.users.Deactivate(ctx, usr); err != nil {
				return errors.Wrap(err, "deactivating user")
			}
		} else if errors.Cause(err) != user.ErrNotFound {
			return errors.Wrap(err, "getting user")
		}

		tasks, _, err := svc.tasks.QueryTasks(ctx, task.QueryFilter{
			FounderID: va.ID,
			IsVirtual: task.BoolPtr(true),
			Statuses:  task.ReassignableStatuses,
		}, []core.DBOrdering{{Field: "created_at", Ascending: true}}, nil)
		if err != nil {
			return errors.Wrap(err, "querying tasks")
		}
		if len(tasks) == 0 {
			return nil
		}

		heirs, _, err := svc.repo.QueryVirtualAgents(ctx, QueryFilter{Status: StatusActive}, nil)
		if err != nil {
			return errors.Wrap(err, "listing active agents")
		}
		for i, t := range tasks {
			if len(heirs) == 0 {
				t.Founder, t.FounderID = task.FounderSystem, null.String{}
			} else {
				heir := heirs[i%len(heirs)]
				t.Founder, t.FounderID = heir.Name, null.StringFrom(heir.ID)
			}
			t.UpdatedAt = now
			if _, err = svc.tasks.UpdateTask(ctx, t); err != nil {
				return errors.Wrap(err, "reassigning task")
			}
		}
		reassigned = len(tasks)
		return nil
	})
	if err != nil {
		return 0, err
	}
	svc.allocator.Invalidate()
	svc.logger.Info("support.Delete", "id", id, "reassigned", reassigned)
	return reassigned, nil
}

func (svc *Service) Stats(ctx context.Context) ([]Stats, error) {
	return svc.allocator.Stats(ctx)
}
