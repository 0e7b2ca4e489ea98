package user

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
)

var (
	// errors
	ErrNotFound         error = core.NotFoundError{Resource: "user"}
	ErrEmailExists            = errors.New("a user with this email already exists")
	ErrUsernameExists         = errors.New("a user with this username already exists")
	ErrInvalidPassword        = errors.New("invalid password")
	ErrCannotResetAdmin       = core.NewBusinessError(http.StatusForbidden, "admin passwords cannot be reset")

	nowFunc = time.Now // mockable
)

type Repository interface {
	// CheckUniqueness returns ErrUsernameExists or ErrEmailExists when another user holds the username or email.
	CheckUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
	CreateUser(ctx context.Context, usr User) (User, error)
	// QueryUsers applies AND operation on available QueryFilter fields.
	// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
	QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
	GetUser(ctx context.Context, filter GetFilter) (User, error)
	UpdateUser(ctx context.Context, usr User) (User, error)
	DeleteUsers(ctx context.Context, ids ...string) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) checkUniqueness(uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUniqueness(context.Background(), uname, email, exclUsers...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := nowFunc().UTC()
	usr := User{
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		Phone:     nu.Phone,
		AgentID:   nu.AgentID,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	usr.SetActive(true)
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	if filter != nil {
		filter.Clean()
		if filter.IsEmpty() {
			filter = nil
		}
	}
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	uname = core.CleanString(uname, true /* lower */)
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: []string{uname, uname}})
}

// StudentsByName returns the active students with exactly this name.
func (svc *Service) StudentsByName(ctx context.Context, name string) ([]User, error) {
	active := true
	return svc.repo.QueryUsers(ctx, &QueryFilter{
		Name:     core.CleanString(name),
		Roles:    StudentRoles,
		IsActive: &active,
	}, nil)
}

// Students returns every active student.
func (svc *Service) Students(ctx context.Context) ([]User, error) {
	active := true
	return svc.repo.QueryUsers(ctx, &QueryFilter{Roles: StudentRoles, IsActive: &active}, nil)
}

func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	usr.Phone = uu.Phone
	if uu.AgentID.Valid {
		usr.AgentID = uu.AgentID
	}
	if uu.IsActive != nil {
		usr.SetActive(*uu.IsActive)
	}
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	usr.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Deactivate(ctx context.Context, usr User) (User, error) {
	usr.SetActive(false)
	usr.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetPassword(ctx context.Context, usr User, pwd string) (User, error) {
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// ChangePassword replaces the password of usr after checking the old one.
func (svc *Service) ChangePassword(ctx context.Context, usr User, cp ChangePassword) (User, error) {
	if err := usr.CheckPassword(cp.OldPassword); err != nil {
		return User{}, core.NewValidationError(ErrInvalidPassword, core.FieldError{Field: "old_password", Error: ErrInvalidPassword.Error()})
	}
	return svc.SetPassword(ctx, usr, cp.Password)
}

// ResetPassword sets DefaultPassword on a non admin account.
func (svc *Service) ResetPassword(ctx context.Context, usr User) (User, error) {
	if usr.IsAdmin() {
		return User{}, ErrCannotResetAdmin
	}
	return svc.SetPassword(ctx, usr, DefaultPassword)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsers(ctx, ids...)
}
