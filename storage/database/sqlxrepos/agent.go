package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/agent"
)

const agentColumns = `id, user_id, name, phone, status, rebate_rate, created_at, updated_at`

type agentRepository struct {
	repository
}

var _ agent.Repository = (*agentRepository)(nil) // interface compliance check

func NewAgentRepository(db *sqlx.DB) *agentRepository {
	return &agentRepository{repository{db: db}}
}

func (repo agentRepository) CreateAgent(ctx context.Context, a agent.Agent) (agent.Agent, error) {
	q := `INSERT INTO agent (` + agentColumns + `) VALUES (:id, :user_id, :name, :phone, :status, :rebate_rate, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, a); err != nil {
		return agent.Agent{}, errors.Wrap(err, "inserting agent")
	}
	return a, nil
}

func (repo agentRepository) GetAgent(ctx context.Context, id string) (agent.Agent, error) {
	exec := repo.exec(ctx)
	var a agent.Agent
	err := sqlx.GetContext(ctx, exec, &a, exec.Rebind(`SELECT `+agentColumns+` FROM agent WHERE id::text = ?`), id)
	if err != nil {
		return agent.Agent{}, trapNoRowsErr(err, agent.ErrNotFound, "getting agent")
	}
	return a, nil
}

func (repo agentRepository) QueryAgents(ctx context.Context, filter agent.QueryFilter, page core.Page) ([]agent.Agent, int, error) {
	var w where
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		w.add("(name ILIKE ? OR phone LIKE ?)", val, val)
	}

	exec := repo.exec(ctx)
	total, err := w.count(ctx, exec, "agent")
	if err != nil {
		return nil, 0, err
	}
	q, args, err := w.build(exec, `SELECT `+agentColumns+` FROM agent`, []core.DBOrdering{{Field: "created_at"}}, map[string]bool{"created_at": true}, &page)
	if err != nil {
		return nil, 0, err
	}
	agents := []agent.Agent{}
	if err = sqlx.SelectContext(ctx, exec, &agents, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying agents")
	}
	return agents, total, nil
}

func (repo agentRepository) UpdateAgent(ctx context.Context, a agent.Agent) (agent.Agent, error) {
	q := `UPDATE agent SET user_id = :user_id, name = :name, phone = :phone, status = :status,
		rebate_rate = :rebate_rate, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, a)
	if err != nil {
		return agent.Agent{}, errors.Wrap(err, "updating agent")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return agent.Agent{}, agent.ErrNotFound
	}
	return a, nil
}
