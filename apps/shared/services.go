// Package shared builds the service graph used by the API server and the admin CLI.
package shared

import (
	"math/rand"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/agent"
	"github.com/trezcool/taskpool/core/bonus"
	"github.com/trezcool/taskpool/core/resource"
	"github.com/trezcool/taskpool/core/settings"
	"github.com/trezcool/taskpool/core/subsidy"
	"github.com/trezcool/taskpool/core/support"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
	"github.com/trezcool/taskpool/storage"
)

type Deps struct {
	Conf   *core.Config
	Repos  *storage.Repositories
	Logger core.Logger
	Events core.EventPublisher
	Mail   core.EmailService
	Rand   *rand.Rand // optional
}

type Services struct {
	Conf       *core.Config
	Logger     core.Logger
	Events     core.EventPublisher
	Mail       core.EmailService
	Validate   *validator.Validate
	Translator ut.Translator

	Users     *user.Service
	Agents    *agent.Service
	Settings  *settings.Service
	Tasks     *task.Service
	Allocator *support.Allocator
	Support   *support.Service
	Subsidies *subsidy.Service
	Bonus     *bonus.Service
	Resources *resource.Service
}

func NewServices(deps Deps) *Services {
	if deps.Events == nil {
		deps.Events = core.NopPublisher{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	loc := deps.Conf.Location()
	repos := deps.Repos
	validate, translator := NewValidator()

	svcs := &Services{
		Conf:       deps.Conf,
		Logger:     deps.Logger,
		Events:     deps.Events,
		Mail:       deps.Mail,
		Validate:   validate,
		Translator: translator,
	}
	svcs.Users = user.NewService(repos.Users)
	svcs.Settings = settings.NewService(repos.Settings, deps.Logger)
	svcs.Agents = agent.NewService(repos.Agents, svcs.Settings)
	svcs.Allocator = support.NewAllocator(repos.Support, repos.Tasks, deps.Logger)
	factory := task.NewFactory(svcs.Allocator, deps.Rand)

	svcs.Support = support.NewService(repos.Tx, repos.Support, repos.Tasks, svcs.Users, svcs.Allocator, validate, deps.Logger)
	svcs.Subsidies = subsidy.NewService(
		repos.Tx, repos.Subsidies, repos.Tasks, svcs.Users, svcs.Settings, factory, deps.Events, deps.Logger, loc,
	)
	svcs.Bonus = bonus.NewService(
		repos.Tx, repos.Bonus, repos.Tasks, repos.Subsidies, svcs.Users, svcs.Agents, svcs.Settings,
		factory, deps.Events, deps.Logger, loc,
	)
	svcs.Tasks = task.NewService(repos.Tx, repos.Tasks, svcs.Bonus, loc)
	svcs.Resources = resource.NewService(
		repos.Tx, repos.Resources, repos.Tasks, validate, deps.Logger, rand.New(rand.NewSource(deps.Rand.Int63())), loc,
	)
	return svcs
}
