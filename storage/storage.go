package storage

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/agent"
	"github.com/trezcool/taskpool/core/bonus"
	"github.com/trezcool/taskpool/core/resource"
	"github.com/trezcool/taskpool/core/settings"
	"github.com/trezcool/taskpool/core/subsidy"
	"github.com/trezcool/taskpool/core/support"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
	"github.com/trezcool/taskpool/storage/database"
	"github.com/trezcool/taskpool/storage/database/sqlxrepos"
	inmemdb "github.com/trezcool/taskpool/storage/memdb"
)

// Repositories is one storage engine behind the domain repository interfaces.
type Repositories struct {
	Tx        core.Transactor
	Users     user.Repository
	Agents    agent.Repository
	Settings  settings.Repository
	Tasks     task.Repository
	Support   support.Repository
	Subsidies subsidy.Repository
	Bonus     bonus.Repository
	Resources resource.Repository

	// DB is the postgres handle; nil for the in-memory engine.
	DB *sqlx.DB

	close   func() error
	migrate func() error
}

// Migrate brings the schema up to date. The in-memory engine has nothing to migrate.
func (r *Repositories) Migrate() error {
	if r.migrate == nil {
		return nil
	}
	return r.migrate()
}

func (r *Repositories) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// Open picks the engine named by conf.Database.Engine.
func Open(conf *core.Config) (*Repositories, error) {
	switch conf.Database.Engine {
	case "memory":
		return NewMemory()
	case "postgres", "":
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		return &Repositories{
			Tx:        database.NewTransactor(db),
			Users:     sqlxrepos.NewUserRepository(db),
			Agents:    sqlxrepos.NewAgentRepository(db),
			Settings:  sqlxrepos.NewSettingsRepository(db),
			Tasks:     sqlxrepos.NewTaskRepository(db),
			Support:   sqlxrepos.NewVirtualAgentRepository(db),
			Subsidies: sqlxrepos.NewSubsidyRepository(db),
			Bonus:     sqlxrepos.NewBonusRepository(db),
			Resources: sqlxrepos.NewResourceRepository(db),
			DB:        db,
			close:     db.Close,
			migrate:   func() error { return database.Migrate(db.DB) },
		}, nil
	}
	return nil, errors.Errorf("unknown database engine %q", conf.Database.Engine)
}

// NewMemory returns empty in-memory repositories.
func NewMemory() (*Repositories, error) {
	db, err := inmemdb.New()
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Tx:        db,
		Users:     inmemdb.NewUserRepository(db),
		Agents:    inmemdb.NewAgentRepository(db),
		Settings:  inmemdb.NewSettingsRepository(db),
		Tasks:     inmemdb.NewTaskRepository(db),
		Support:   inmemdb.NewVirtualAgentRepository(db),
		Subsidies: inmemdb.NewSubsidyRepository(db),
		Bonus:     inmemdb.NewBonusRepository(db),
		Resources: inmemdb.NewResourceRepository(db),
	}, nil
}
