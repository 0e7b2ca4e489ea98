package task

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
)

var (
	adjectives = []string{
		"Urgent", "Important", "Priority", "Efficient", "Precise", "Quick", "Professional", "Quality",
		"Key", "Core", "Special", "Standard", "Regular", "Detailed", "Complete", "Accurate",
	}
	actions = []string{
		"sorting", "analysis", "processing", "checking", "review", "statistics", "summary", "editing",
		"proofreading", "archiving", "classification", "screening", "verification", "confirmation", "update", "maintenance",
	}
	requirements = []string{
		"Complete the work following the standard process and keep the quality high.",
		"Check the information carefully and make sure it is accurate and complete.",
		"Follow the established rules and keep the work efficient.",
		"Finish the assigned content carefully and mind the details.",
		"Follow the requirements strictly and meet the quality standard.",
		"Complete the task efficiently and keep a professional level.",
	}
)

// Founder is who a virtual task appears to be published by.
type Founder struct {
	ID   null.String
	Name string
}

var SystemFounder = Founder{Name: FounderSystem}

// Assigner picks the founders of a batch of n new tasks.
type Assigner interface {
	Assign(ctx context.Context, n int) ([]Founder, error)
}

// BatchRequest describes one batch of virtual tasks.
type BatchRequest struct {
	Amount        decimal.Decimal
	StudentID     string // empty for bonus tasks
	BonusPoolDate time.Time
	Bonus         bool
	Expiry        time.Duration
}

// Factory builds virtual tasks. It is safe for concurrent use.
type Factory struct {
	assigner Assigner

	mu  sync.Mutex
	rng *rand.Rand
}

func NewFactory(assigner Assigner, rng *rand.Rand) *Factory {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Factory{assigner: assigner, rng: rng}
}

// Split splits amount using the factory's random source.
func (f *Factory) Split(amount decimal.Decimal) []decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return SplitAmount(amount, f.rng)
}

func (f *Factory) content() (summary, requirement string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	adj := adjectives[f.rng.Intn(len(adjectives))]
	act := actions[f.rng.Intn(len(actions))]
	return fmt.Sprintf("%s task - %s work", adj, act), requirements[f.rng.Intn(len(requirements))]
}

// Build splits req.Amount and returns one task per chunk. Nothing is stored.
func (f *Factory) Build(ctx context.Context, req BatchRequest) ([]Task, error) {
	amounts := f.Split(req.Amount)
	if len(amounts) == 0 {
		return nil, nil
	}

	var founders []Founder
	if req.Bonus {
		founders = []Founder{{Name: FounderBonusPool}}
	} else if f.assigner != nil {
		var err error
		if founders, err = f.assigner.Assign(ctx, len(amounts)); err != nil {
			return nil, errors.Wrap(err, "assigning founders")
		}
	}
	if len(founders) == 0 {
		founders = []Founder{SystemFounder}
	}

	now := nowFunc().UTC()
	tasks := make([]Task, 0, len(amounts))
	for i, amount := range amounts {
		summary, requirement := f.content()
		founder := founders[i%len(founders)]
		t := Task{
			ID:           uuid.New().String(),
			OrderNumber:  NewOrderNumber(),
			Summary:      summary,
			Requirement:  requirement,
			Source:       SourceGroup,
			Commission:   amount,
			Status:       StatusOpen,
			EndDate:      now.Add(req.Expiry),
			DeliveryDate: now.Add(DeliveryWindow),
			Founder:      founder.Name,
			FounderID:    founder.ID,
			IsVirtual:    true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if req.Bonus {
			t.IsBonusPool = true
			t.BonusPoolDate = null.TimeFrom(req.BonusPoolDate)
		} else {
			t.TargetStudentID = null.StringFrom(req.StudentID)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// NewOrderNumber returns 10 random characters from 0-9a-f.
func NewOrderNumber() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:orderNumberLength]
}
