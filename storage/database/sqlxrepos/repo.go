package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/storage/database"
)

type repository struct {
	db *sqlx.DB
}

func (repo repository) exec(ctx context.Context) database.Executor {
	return database.Exec(ctx, repo.db)
}

// trapNoRowsErr maps "no rows" errors to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// where collects AND-ed conditions written with `?` placeholders.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// build appends the conditions, ordering and page to base, expands IN lists and rebinds placeholders.
func (w *where) build(exec sqlx.ExtContext, base string, ordering []core.DBOrdering, allowed map[string]bool, page *core.Page) (string, []interface{}, error) {
	q := base + w.String()
	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			if allowed[ord.Field] {
				orderList = append(orderList, ord.String())
			}
		}
		if len(orderList) > 0 {
			q += " ORDER BY " + strings.Join(orderList, ", ")
		}
	}
	args := w.args
	if page != nil {
		q += " LIMIT ? OFFSET ?"
		args = append(append([]interface{}{}, args...), page.Limit(), page.Offset())
	}
	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return "", nil, errors.Wrap(err, "expanding query")
	}
	return exec.Rebind(q), args, nil
}

func (w *where) count(ctx context.Context, exec sqlx.ExtContext, table string) (int, error) {
	q, args, err := w.build(exec, "SELECT COUNT(*) FROM "+table, nil, nil, nil)
	if err != nil {
		return 0, err
	}
	var total int
	if err = sqlx.GetContext(ctx, exec, &total, q, args...); err != nil {
		return 0, errors.Wrap(err, "counting rows")
	}
	return total, nil
}
