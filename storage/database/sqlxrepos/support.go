package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/support"
)

const virtualAgentColumns = `id, user_id, name, account, phone, status, is_deleted, created_at, updated_at`

// virtualAgentRow adds the column hidden from JSON.
type virtualAgentRow struct {
	support.VirtualAgent
	IsDeleted bool `json:"is_deleted"`
}

func (r virtualAgentRow) unboil() support.VirtualAgent {
	va := r.VirtualAgent
	va.IsDeleted = r.IsDeleted
	return va
}

type virtualAgentRepository struct {
	repository
}

var _ support.Repository = (*virtualAgentRepository)(nil) // interface compliance check

func NewVirtualAgentRepository(db *sqlx.DB) *virtualAgentRepository {
	return &virtualAgentRepository{repository{db: db}}
}

func (repo virtualAgentRepository) CreateVirtualAgent(ctx context.Context, va support.VirtualAgent) (support.VirtualAgent, error) {
	q := `INSERT INTO virtual_agent (` + virtualAgentColumns + `)
		VALUES (:id, :user_id, :name, :account, :phone, :status, :is_deleted, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, virtualAgentRow{va, va.IsDeleted}); err != nil {
		return support.VirtualAgent{}, errors.Wrap(err, "inserting virtual agent")
	}
	return va, nil
}

func (repo virtualAgentRepository) get(ctx context.Context, col, val string) (support.VirtualAgent, error) {
	exec := repo.exec(ctx)
	var row virtualAgentRow
	q := exec.Rebind(`SELECT ` + virtualAgentColumns + ` FROM virtual_agent WHERE ` + col + ` = ?`)
	if err := sqlx.GetContext(ctx, exec, &row, q, val); err != nil {
		return support.VirtualAgent{}, trapNoRowsErr(err, support.ErrNotFound, "getting virtual agent")
	}
	return row.unboil(), nil
}

func (repo virtualAgentRepository) GetVirtualAgent(ctx context.Context, id string) (support.VirtualAgent, error) {
	return repo.get(ctx, "id::text", id)
}

func (repo virtualAgentRepository) GetVirtualAgentByAccount(ctx context.Context, account string) (support.VirtualAgent, error) {
	return repo.get(ctx, "account", account)
}

func (repo virtualAgentRepository) QueryVirtualAgents(ctx context.Context, filter support.QueryFilter, page *core.Page) ([]support.VirtualAgent, int, error) {
	var w where
	if !filter.IncludeDeleted {
		w.add("is_deleted = FALSE")
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}

	exec := repo.exec(ctx)
	q, args, err := w.build(exec, `SELECT `+virtualAgentColumns+` FROM virtual_agent`,
		[]core.DBOrdering{{Field: "created_at", Ascending: true}}, map[string]bool{"created_at": true}, page)
	if err != nil {
		return nil, 0, err
	}
	var rows []virtualAgentRow
	if err = sqlx.SelectContext(ctx, exec, &rows, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying virtual agents")
	}
	agents := make([]support.VirtualAgent, 0, len(rows))
	for _, r := range rows {
		agents = append(agents, r.unboil())
	}

	total := len(agents)
	if page != nil {
		if total, err = w.count(ctx, exec, "virtual_agent"); err != nil {
			return nil, 0, err
		}
	}
	return agents, total, nil
}

func (repo virtualAgentRepository) UpdateVirtualAgent(ctx context.Context, va support.VirtualAgent) (support.VirtualAgent, error) {
	q := `UPDATE virtual_agent SET name = :name, phone = :phone, status = :status, is_deleted = :is_deleted,
		updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, virtualAgentRow{va, va.IsDeleted})
	if err != nil {
		return support.VirtualAgent{}, errors.Wrap(err, "updating virtual agent")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return support.VirtualAgent{}, support.ErrNotFound
	}
	return va, nil
}
