package inmemdb

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/resource"
)

// Tables
const (
	tableUser         = "user"
	tableAgent        = "agent"
	tableSetting      = "system_config"
	tableTask         = "task"
	tableVirtualAgent = "virtual_agent"
	tableSubsidyPool  = "subsidy_pool"
	tableAchievement  = "daily_achievement"
	tableBonusPool    = "bonus_pool"

	tableResourceCategory = "resource_category"
	tableResourceBatch    = "resource_upload_batch"
	tableResourceImage    = "resource_image"
)

func idTable(name, field string) *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: name,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: field}},
		},
	}
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableUser:         idTable(tableUser, "ID"),
		tableAgent:        idTable(tableAgent, "ID"),
		tableSetting:      idTable(tableSetting, "Key"),
		tableTask:         idTable(tableTask, "ID"),
		tableVirtualAgent: idTable(tableVirtualAgent, "ID"),
		tableSubsidyPool:  idTable(tableSubsidyPool, "StudentID"),
		tableAchievement:  idTable(tableAchievement, "ID"),
		tableBonusPool:    idTable(tableBonusPool, "ID"),

		tableResourceCategory: idTable(tableResourceCategory, "ID"),
		tableResourceBatch:    idTable(tableResourceBatch, "ID"),
		tableResourceImage:    idTable(tableResourceImage, "ID"),
	},
}

// DB is an in-memory storage engine. A write transaction locks the whole database.
type DB struct {
	mem *memdb.MemDB
}

var _ core.Transactor = (*DB)(nil) // interface compliance check

func New() (*DB, error) {
	mem, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, errors.Wrap(err, "creating memdb")
	}
	db := &DB{mem: mem}
	if err = db.seed(); err != nil {
		return nil, err
	}
	return db, nil
}

// seed adds the rows the SQL migrations insert.
func (db *DB) seed() error {
	return db.write(context.Background(), func(txn *memdb.Txn) error {
		for _, c := range resource.DefaultCategories(time.Now().UTC()) {
			if err := insert(txn, tableResourceCategory, c); err != nil {
				return err
			}
		}
		return nil
	})
}

type txnKey struct{}

func txnFrom(ctx context.Context) *memdb.Txn {
	txn, _ := ctx.Value(txnKey{}).(*memdb.Txn)
	return txn
}

// InTx runs fn in one write transaction, joined by nested calls.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txnFrom(ctx) != nil {
		return fn(ctx)
	}
	txn := db.mem.Txn(true)
	defer txn.Abort()
	if err := fn(context.WithValue(ctx, txnKey{}, txn)); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (db *DB) read(ctx context.Context) *memdb.Txn {
	if txn := txnFrom(ctx); txn != nil {
		return txn
	}
	return db.mem.Txn(false)
}

func (db *DB) write(ctx context.Context, fn func(txn *memdb.Txn) error) error {
	if txn := txnFrom(ctx); txn != nil {
		return fn(txn)
	}
	txn := db.mem.Txn(true)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func list[T any](txn *memdb.Txn, table string, match func(T) bool) ([]T, error) {
	it, err := txn.Get(table, "id")
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", table)
	}
	out := []T{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		v := *obj.(*T)
		if match == nil || match(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func first[T any](txn *memdb.Txn, table, id string, notFound error) (T, error) {
	var zero T
	obj, err := txn.First(table, "id", id)
	if err != nil {
		return zero, errors.Wrapf(err, "getting %s", table)
	}
	if obj == nil {
		return zero, notFound
	}
	return *obj.(*T), nil
}

// insert stores a copy of v.
func insert[T any](txn *memdb.Txn, table string, v T) error {
	return errors.Wrapf(txn.Insert(table, &v), "inserting %s", table)
}

// update replaces an existing row with a copy of v.
func update[T any](txn *memdb.Txn, table, id string, v T, notFound error) error {
	existing, err := txn.First(table, "id", id)
	if err != nil {
		return errors.Wrapf(err, "getting %s", table)
	}
	if existing == nil {
		return notFound
	}
	return errors.Wrapf(txn.Insert(table, &v), "updating %s", table)
}

func remove(txn *memdb.Txn, table string, ids ...string) error {
	for _, id := range ids {
		obj, err := txn.First(table, "id", id)
		if err != nil {
			return errors.Wrapf(err, "getting %s", table)
		}
		if obj == nil {
			continue
		}
		if err = txn.Delete(table, obj); err != nil {
			return errors.Wrapf(err, "deleting %s", table)
		}
	}
	return nil
}

func paginate[T any](rows []T, page *core.Page) ([]T, int) {
	start, end := core.Paginate(len(rows), page)
	return rows[start:end], len(rows)
}
