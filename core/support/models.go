package support

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/taskpool/core"
)

// Statuses
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// VirtualAgent is a virtual customer service account publishing virtual tasks.
type VirtualAgent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Account   string    `json:"account"`
	Phone     string    `json:"phone"`
	Status    string    `json:"status"`
	IsDeleted bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NewVirtualAgent struct {
	Name     string `json:"name" validate:"required,max=64"`
	Account  string `json:"account" validate:"required,min=3,max=64,alphanum_"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Password string `json:"password" validate:"omitempty,min=6"`
}

func (nva *NewVirtualAgent) Validate(validate *validator.Validate) error {
	nva.Name = core.CleanString(nva.Name)
	nva.Account = core.CleanString(nva.Account, true /* lower */)
	nva.Phone = core.CleanString(nva.Phone)
	return validate.Struct(nva)
}

type UpdateVirtualAgent struct {
	Name   string `json:"name" validate:"omitempty,max=64"`
	Status string `json:"status" validate:"omitempty,oneof=active inactive"`
}

func (uva *UpdateVirtualAgent) Validate(validate *validator.Validate) error {
	uva.Name = core.CleanString(uva.Name)
	return validate.Struct(uva)
}

type QueryFilter struct {
	Status         string `query:"status"`
	IncludeDeleted bool
}

func (qf QueryFilter) Match(va VirtualAgent) bool {
	if va.IsDeleted && !qf.IncludeDeleted {
		return false
	}
	return qf.Status == "" || va.Status == qf.Status
}

type BatchResult struct {
	SuccessCount int             `json:"success_count"`
	ErrorCount   int             `json:"error_count"`
	Errors       []core.RowError `json:"errors"`
	Created      []VirtualAgent  `json:"created"`
}

// Stats is the workload of one active agent as seen by the allocator.
type Stats struct {
	VirtualAgent
	OpenTasks int  `json:"open_tasks"`
	Priority  int  `json:"priority"`
	IsNew     bool `json:"is_new"`
}
