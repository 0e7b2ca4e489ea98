package bonus

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/taskpool/core/task"
)

// Achievement records whether a student reached the daily target on Date.
type Achievement struct {
	ID              string          `json:"id"`
	StudentID       string          `json:"student_id"`
	StudentName     string          `json:"student_name"`
	Date            time.Time       `json:"date"`
	DailyTarget     decimal.Decimal `json:"daily_target"`
	CompletedAmount decimal.Decimal `json:"completed_amount"`
	IsAchieved      bool            `json:"is_achieved"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type AchievementFilter struct {
	Date      time.Time
	StudentID string
	Achieved  *bool
}

func (af AchievementFilter) Match(a Achievement) bool {
	if !af.Date.IsZero() && !a.Date.Equal(af.Date) {
		return false
	}
	if af.StudentID != "" && a.StudentID != af.StudentID {
		return false
	}
	return af.Achieved == nil || a.IsAchieved == *af.Achieved
}

// Pool is the bonus pool of one day: expired amounts turned into tasks
// open to the students who reached the previous day's target.
// Total = CarryForward + NewExpired.
type Pool struct {
	ID                 string          `json:"id"`
	Date               time.Time       `json:"date"`
	CarryForwardAmount decimal.Decimal `json:"carry_forward_amount"`
	NewExpiredAmount   decimal.Decimal `json:"new_expired_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	GeneratedAmount    decimal.Decimal `json:"generated_amount"`
	CompletedAmount    decimal.Decimal `json:"completed_amount"`
	RemainingAmount    decimal.Decimal `json:"remaining_amount"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type Collected struct {
	Date         time.Time       `json:"date"`
	NormalTasks  int             `json:"expired_normal_tasks"`
	NormalAmount decimal.Decimal `json:"expired_normal_amount"`
	BonusTasks   int             `json:"expired_bonus_tasks"`
	BonusAmount  decimal.Decimal `json:"expired_bonus_amount"`
}

type GenerateResult struct {
	Date           time.Time       `json:"date"`
	TasksGenerated int             `json:"tasks_generated"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

type DailyResult struct {
	Skipped      bool           `json:"skipped"`
	Date         time.Time      `json:"date"`
	Achievements int            `json:"achievements"`
	Qualified    int            `json:"qualified_students"`
	Pool         *Pool          `json:"pool"`
	Generated    GenerateResult `json:"generated"`
}

type ExpiredResult struct {
	ExpiredTasks   int             `json:"expired_tasks"`
	RecycledAmount decimal.Decimal `json:"recycled_amount"`
	Generated      GenerateResult  `json:"generated"`
}

type CompleteResult struct {
	Task          task.Task       `json:"task"`
	RebateRate    decimal.Decimal `json:"rebate_rate"`
	StudentIncome decimal.Decimal `json:"student_income"`
	Leftover      decimal.Decimal `json:"leftover"`
	Regenerated   int             `json:"regenerated"`
}

type ConfirmFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type AutoConfirmResult struct {
	Enabled        bool             `json:"enabled"`
	ConfirmedCount int              `json:"confirmed_count"`
	FailedCount    int              `json:"failed_count"`
	Failed         []ConfirmFailure `json:"failed"`
}

type TaskCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Accepted  int `json:"accepted"`
	Completed int `json:"completed"`
}

type Status struct {
	Date              time.Time  `json:"date"`
	Exists            bool       `json:"exists"`
	Pool              Pool       `json:"pool"`
	Tasks             TaskCounts `json:"tasks"`
	QualifiedStudents int        `json:"qualified_students"`
}
