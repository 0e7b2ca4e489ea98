package task

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
)

type Status int

// Statuses
const (
	StatusOpen Status = iota
	StatusAccepted
	StatusInProgress
	StatusSubmitted
	StatusCompleted
	StatusTerminated
)

var statusNames = [...]string{"open", "accepted", "in_progress", "submitted", "completed", "terminated"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Live statuses hold funds allocated from a subsidy pool.
var LiveStatuses = []Status{StatusOpen, StatusAccepted, StatusInProgress, StatusSubmitted}

// Reassignable statuses may change founder when a virtual customer service goes away.
var ReassignableStatuses = []Status{StatusOpen, StatusAccepted, StatusInProgress}

const (
	SourceGroup       = "group business"
	FounderSystem     = "system"
	FounderBonusPool  = "bonus pool"
	DeliveryWindow    = 3 * 24 * time.Hour
	orderNumberLength = 10
)

type Task struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	Summary         string          `json:"summary"`
	Requirement     string          `json:"requirement"`
	Source          string          `json:"source"`
	Commission      decimal.Decimal `json:"commission"`
	Status          Status          `json:"status"`
	EndDate         time.Time       `json:"end_date"`
	DeliveryDate    time.Time       `json:"delivery_date"`
	Founder         string          `json:"founder"`
	FounderID       null.String     `json:"founder_id"`
	IsVirtual       bool            `json:"is_virtual"`
	TargetStudentID null.String     `json:"target_student_id"`
	IsBonusPool     bool            `json:"is_bonus_pool"`
	BonusPoolDate   null.Time       `json:"bonus_pool_date"`
	AcceptedBy      null.String     `json:"accepted_by"`
	AcceptedAt      null.Time       `json:"accepted_at"`
	SubmittedAt     null.Time       `json:"submitted_at"`
	CompletedAt     null.Time       `json:"completed_at"`
	Message         string          `json:"message"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (t Task) HasStatus(statuses ...Status) bool {
	for _, s := range statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}

// Expired reports whether an open task missed its acceptance window.
func (t Task) Expired(now time.Time) bool {
	return t.Status == StatusOpen && !t.EndDate.After(now)
}

func IDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// Total sums the commissions of tasks.
func Total(tasks []Task) decimal.Decimal {
	total := decimal.Zero
	for _, t := range tasks {
		total = total.Add(t.Commission)
	}
	return total
}

// Aggregate is a count and amount over a set of tasks.
type Aggregate struct {
	Count  int             `boil:"count" json:"count"`
	Amount decimal.Decimal `boil:"amount" json:"amount"`
}

// QueryFilter applies AND operation on the set fields.
type QueryFilter struct {
	IDs             []string
	StudentID       string `query:"student_id"`
	Statuses        []Status
	IsVirtual       *bool `query:"is_virtual"`
	IsBonusPool     *bool `query:"is_bonus_pool"`
	BonusPoolDate   null.Time
	FounderID       string `query:"founder_id"`
	AcceptedBy      string `query:"accepted_by"`
	Search          string `query:"search"`
	CreatedFrom     time.Time
	CreatedTo       time.Time // exclusive
	EndBefore       time.Time // inclusive
	SubmittedBefore time.Time // inclusive
	CompletedFrom   time.Time
	CompletedTo     time.Time // exclusive
}

func (qf QueryFilter) Match(t Task) bool {
	if len(qf.IDs) > 0 && !contains(qf.IDs, t.ID) {
		return false
	}
	if qf.StudentID != "" && t.TargetStudentID.String != qf.StudentID {
		return false
	}
	if len(qf.Statuses) > 0 && !t.HasStatus(qf.Statuses...) {
		return false
	}
	if qf.IsVirtual != nil && t.IsVirtual != *qf.IsVirtual {
		return false
	}
	if qf.IsBonusPool != nil && t.IsBonusPool != *qf.IsBonusPool {
		return false
	}
	if qf.BonusPoolDate.Valid && !(t.BonusPoolDate.Valid && t.BonusPoolDate.Time.Equal(qf.BonusPoolDate.Time)) {
		return false
	}
	if qf.FounderID != "" && t.FounderID.String != qf.FounderID {
		return false
	}
	if qf.AcceptedBy != "" && t.AcceptedBy.String != qf.AcceptedBy {
		return false
	}
	if qf.Search != "" {
		s := strings.ToLower(qf.Search)
		if !strings.Contains(strings.ToLower(t.Summary), s) && !strings.Contains(t.OrderNumber, s) {
			return false
		}
	}
	if !qf.CreatedFrom.IsZero() && t.CreatedAt.Before(qf.CreatedFrom) {
		return false
	}
	if !qf.CreatedTo.IsZero() && !t.CreatedAt.Before(qf.CreatedTo) {
		return false
	}
	if !qf.EndBefore.IsZero() && t.EndDate.After(qf.EndBefore) {
		return false
	}
	if !qf.SubmittedBefore.IsZero() && !(t.SubmittedAt.Valid && !t.SubmittedAt.Time.After(qf.SubmittedBefore)) {
		return false
	}
	if !qf.CompletedFrom.IsZero() && !(t.CompletedAt.Valid && !t.CompletedAt.Time.Before(qf.CompletedFrom)) {
		return false
	}
	if !qf.CompletedTo.IsZero() && !(t.CompletedAt.Valid && t.CompletedAt.Time.Before(qf.CompletedTo)) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func BoolPtr(b bool) *bool { return &b }
