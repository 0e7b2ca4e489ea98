package support

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/task"
)

const (
	cacheTTL      = 30 * time.Minute
	newAgentAge   = 24 * time.Hour
	newAgentBoost = 100
)

// Allocator spreads new virtual tasks over the active virtual agents,
// least loaded first. Agents created in the last day get a head start.
type Allocator struct {
	repo   Repository
	tasks  task.Repository
	logger core.Logger

	mu       sync.Mutex
	active   []VirtualAgent
	cachedAt time.Time
}

func NewAllocator(repo Repository, tasks task.Repository, logger core.Logger) *Allocator {
	return &Allocator{repo: repo, tasks: tasks, logger: logger}
}

// Invalidate drops the cached list of active agents.
func (a *Allocator) Invalidate() {
	a.mu.Lock()
	a.active = nil
	a.cachedAt = time.Time{}
	a.mu.Unlock()
}

func (a *Allocator) activeAgents(ctx context.Context) ([]VirtualAgent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := nowFunc()
	if a.active != nil && now.Sub(a.cachedAt) < cacheTTL {
		return a.active, nil
	}
	agents, _, err := a.repo.QueryVirtualAgents(ctx, QueryFilter{Status: StatusActive}, nil)
	if err != nil {
		return nil, err
	}
	a.active, a.cachedAt = agents, now
	return agents, nil
}

// Stats returns the active agents ordered by priority (lowest is served first).
func (a *Allocator) Stats(ctx context.Context) ([]Stats, error) {
	agents, err := a.activeAgents(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing active agents")
	}
	now := nowFunc()
	stats := make([]Stats, 0, len(agents))
	for _, va := range agents {
		agg, err := a.tasks.AggregateTasks(ctx, task.QueryFilter{
			FounderID: va.ID,
			IsVirtual: task.BoolPtr(true),
			Statuses:  task.ReassignableStatuses,
		})
		if err != nil {
			return nil, errors.Wrap(err, "counting open tasks")
		}
		st := Stats{VirtualAgent: va, OpenTasks: agg.Count, Priority: agg.Count}
		if now.Sub(va.CreatedAt) < newAgentAge {
			st.IsNew = true
			st.Priority -= newAgentBoost
		}
		stats = append(stats, st)
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Priority != stats[j].Priority {
			return stats[i].Priority < stats[j].Priority
		}
		return stats[i].CreatedAt.Before(stats[j].CreatedAt)
	})
	return stats, nil
}

// Assign implements task.Assigner: founders are handed out round-robin in priority order.
func (a *Allocator) Assign(ctx context.Context, n int) ([]task.Founder, error) {
	stats, err := a.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		a.logger.Warn("support.Allocator: no active virtual agent, tasks founded by system")
		return nil, nil
	}
	founders := make([]task.Founder, n)
	for i := range founders {
		va := stats[i%len(stats)].VirtualAgent
		founders[i] = task.Founder{ID: null.StringFrom(va.ID), Name: va.Name}
	}
	return founders, nil
}
