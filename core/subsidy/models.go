package subsidy

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
)

// Pool statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Pool is the subsidy ledger of one student.
// Total = Remaining + Allocated + Completed at all times.
type Pool struct {
	ID                   string          `json:"id"`
	StudentID            string          `json:"student_id"`
	StudentName          string          `json:"student_name"`
	TotalSubsidy         decimal.Decimal `json:"total_subsidy"`
	RemainingAmount      decimal.Decimal `json:"remaining_amount"`
	AllocatedAmount      decimal.Decimal `json:"allocated_amount"`
	CompletedAmount      decimal.Decimal `json:"completed_amount"`
	BonusCompletedAmount decimal.Decimal `json:"bonus_completed_amount"`
	BonusIncome          decimal.Decimal `json:"bonus_income"`
	Status               string          `json:"status"`
	ImportBatch          string          `json:"import_batch"`
	LastAllocationAt     null.Time       `json:"last_allocation_at"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Balanced reports whether the ledger invariant holds.
func (p Pool) Balanced() bool {
	return p.TotalSubsidy.Equal(core.Sum(p.RemainingAmount, p.AllocatedAmount, p.CompletedAmount)) &&
		!p.RemainingAmount.IsNegative() && !p.AllocatedAmount.IsNegative() && !p.CompletedAmount.IsNegative()
}

func (p *Pool) add(amount decimal.Decimal) {
	p.TotalSubsidy = p.TotalSubsidy.Add(amount)
	p.RemainingAmount = p.RemainingAmount.Add(amount)
	p.refreshStatus()
}

// allocate moves amount from remaining to allocated.
func (p *Pool) allocate(amount decimal.Decimal) {
	p.RemainingAmount = core.NonNegative(p.RemainingAmount.Sub(amount))
	p.AllocatedAmount = p.AllocatedAmount.Add(amount)
}

// release moves amount from allocated back to remaining.
func (p *Pool) release(amount decimal.Decimal) {
	if amount.GreaterThan(p.AllocatedAmount) {
		amount = p.AllocatedAmount
	}
	p.AllocatedAmount = p.AllocatedAmount.Sub(amount)
	p.RemainingAmount = p.RemainingAmount.Add(amount)
}

// complete moves amount from allocated to completed.
func (p *Pool) complete(amount decimal.Decimal) {
	p.AllocatedAmount = core.NonNegative(p.AllocatedAmount.Sub(amount))
	p.CompletedAmount = p.CompletedAmount.Add(amount)
	p.refreshStatus()
}

func (p *Pool) refreshStatus() {
	if p.TotalSubsidy.IsPositive() && p.CompletedAmount.GreaterThanOrEqual(p.TotalSubsidy) {
		p.Status = StatusCompleted
	} else {
		p.Status = StatusActive
	}
}

type QueryFilter struct {
	Status     string `query:"status"`
	StudentIDs []string
}

func (qf QueryFilter) Match(p Pool) bool {
	if qf.Status != "" && p.Status != qf.Status {
		return false
	}
	if len(qf.StudentIDs) > 0 {
		for _, id := range qf.StudentIDs {
			if id == p.StudentID {
				return true
			}
		}
		return false
	}
	return true
}

// Totals aggregates every pool.
type Totals struct {
	Students     int             `boil:"students"`
	TotalSubsidy decimal.Decimal `boil:"total_subsidy"`
}

type Entry struct {
	StudentName string          `json:"student_name"`
	Amount      decimal.Decimal `json:"amount"`
}

type ImportRequest struct {
	Entries []Entry `json:"entries" validate:"required,min=1"`
}

func (ir *ImportRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(ir)
}

type ImportResult struct {
	ImportBatch    string          `json:"import_batch"`
	SuccessCount   int             `json:"success_count"`
	ErrorCount     int             `json:"error_count"`
	Errors         []core.RowError `json:"errors"`
	PoolsCreated   int             `json:"pools_created"`
	PoolsUpdated   int             `json:"pools_updated"`
	TasksGenerated int             `json:"tasks_generated"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

type SweepResult struct {
	Skipped           bool            `json:"skipped"`
	ProcessedStudents int             `json:"processed_students"`
	ExpiredTasks      int             `json:"expired_tasks"`
	RecycledAmount    decimal.Decimal `json:"recycled_amount"`
	RegeneratedTasks  int             `json:"regenerated_tasks"`
}

type ReallocateResult struct {
	StudentID      string          `json:"student_id"`
	RecycledTasks  int             `json:"recycled_tasks"`
	Amount         decimal.Decimal `json:"amount"`
	TasksGenerated int             `json:"tasks_generated"`
}

type SyncResult struct {
	SyncedTasks      int             `json:"synced_tasks"`
	AffectedStudents int             `json:"affected_students"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

type Stats struct {
	TotalStudents       int             `json:"total_students"`
	TotalSubsidy        decimal.Decimal `json:"total_subsidy"`
	TotalTasksGenerated int             `json:"total_tasks_generated"`
	TotalTasksCompleted int             `json:"total_tasks_completed"`
	CompletionRate      decimal.Decimal `json:"completion_rate"`
}

type StudentIncome struct {
	StudentID       string          `json:"student_id"`
	StudentName     string          `json:"student_name"`
	CompletedTasks  int             `json:"completed_tasks"`
	IncomeAmount    decimal.Decimal `json:"income_amount"`
	TotalSubsidy    decimal.Decimal `json:"total_subsidy"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
}

type IncomeReport struct {
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Students    []StudentIncome `json:"students"`
	TotalTasks  int             `json:"total_tasks"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}
