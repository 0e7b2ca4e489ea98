package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/resource"
)

const (
	categoryColumns = `id, category_code, category_name, description, is_active, sort_order, created_at, updated_at`
	batchColumns    = `id, batch_code, category_id, upload_type, original_filename, total_files, processed_files,
	failed_files, upload_status, uploader_id, uploader_name, upload_notes, created_at, updated_at`
	imageColumns = `id, batch_id, category_id, image_code, original_filename, stored_filename, file_path, file_url,
	file_size, image_width, image_height, file_format, file_hash, usage_status, used_at, used_in_task_id, quality_score,
	tags, upload_notes, is_deleted, deleted_at, deleted_reason, created_at, updated_at`
)

var errBatchNotFound error = core.NotFoundError{Resource: "resource batch"}

type resourceRepository struct {
	repository
}

var _ resource.Repository = (*resourceRepository)(nil) // interface compliance check

func NewResourceRepository(db *sqlx.DB) *resourceRepository {
	return &resourceRepository{repository{db: db}}
}

func (repo resourceRepository) CreateCategory(ctx context.Context, c resource.Category) (resource.Category, error) {
	q := `INSERT INTO resource_category (` + categoryColumns + `)
		VALUES (:id, :category_code, :category_name, :description, :is_active, :sort_order, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, c); err != nil {
		return resource.Category{}, errors.Wrap(err, "inserting resource category")
	}
	return c, nil
}

func (repo resourceRepository) getCategory(ctx context.Context, col, val string) (resource.Category, error) {
	exec := repo.exec(ctx)
	var c resource.Category
	q := exec.Rebind(`SELECT ` + categoryColumns + ` FROM resource_category WHERE ` + col + ` = ?`)
	if err := sqlx.GetContext(ctx, exec, &c, q, val); err != nil {
		return resource.Category{}, trapNoRowsErr(err, resource.ErrCategoryNotFound, "getting resource category")
	}
	return c, nil
}

func (repo resourceRepository) GetCategory(ctx context.Context, id string) (resource.Category, error) {
	return repo.getCategory(ctx, "id::text", id)
}

func (repo resourceRepository) GetCategoryByCode(ctx context.Context, code string) (resource.Category, error) {
	return repo.getCategory(ctx, "category_code", code)
}

func (repo resourceRepository) QueryCategories(ctx context.Context, activeOnly bool) ([]resource.Category, error) {
	q := `SELECT ` + categoryColumns + ` FROM resource_category`
	if activeOnly {
		q += ` WHERE is_active = TRUE`
	}
	q += ` ORDER BY sort_order, category_code`
	cats := []resource.Category{}
	if err := sqlx.SelectContext(ctx, repo.exec(ctx), &cats, q); err != nil {
		return nil, errors.Wrap(err, "querying resource categories")
	}
	return cats, nil
}

func (repo resourceRepository) UpdateCategory(ctx context.Context, c resource.Category) (resource.Category, error) {
	q := `UPDATE resource_category SET category_name = :category_name, description = :description,
		is_active = :is_active, sort_order = :sort_order, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, c)
	if err != nil {
		return resource.Category{}, errors.Wrap(err, "updating resource category")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return resource.Category{}, resource.ErrCategoryNotFound
	}
	return c, nil
}

func (repo resourceRepository) CreateBatch(ctx context.Context, b resource.Batch) (resource.Batch, error) {
	q := `INSERT INTO resource_upload_batch (` + batchColumns + `)
		VALUES (:id, :batch_code, :category_id, :upload_type, :original_filename, :total_files, :processed_files,
		:failed_files, :upload_status, :uploader_id, :uploader_name, :upload_notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, b); err != nil {
		return resource.Batch{}, errors.Wrap(err, "inserting resource batch")
	}
	return b, nil
}

func (repo resourceRepository) UpdateBatch(ctx context.Context, b resource.Batch) (resource.Batch, error) {
	q := `UPDATE resource_upload_batch SET total_files = :total_files, processed_files = :processed_files,
		failed_files = :failed_files, upload_status = :upload_status, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, b)
	if err != nil {
		return resource.Batch{}, errors.Wrap(err, "updating resource batch")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return resource.Batch{}, errBatchNotFound
	}
	return b, nil
}

func (repo resourceRepository) CreateImage(ctx context.Context, img resource.Image) (resource.Image, error) {
	q := `INSERT INTO resource_image (` + imageColumns + `)
		VALUES (:id, :batch_id, :category_id, :image_code, :original_filename, :stored_filename, :file_path, :file_url,
		:file_size, :image_width, :image_height, :file_format, :file_hash, :usage_status, :used_at, :used_in_task_id,
		:quality_score, :tags, :upload_notes, :is_deleted, :deleted_at, :deleted_reason, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, img); err != nil {
		return resource.Image{}, errors.Wrap(err, "inserting resource image")
	}
	return img, nil
}

func (repo resourceRepository) GetImage(ctx context.Context, id string) (resource.Image, error) {
	exec := repo.exec(ctx)
	var img resource.Image
	q := exec.Rebind(`SELECT ` + imageColumns + ` FROM resource_image WHERE id::text = ?`)
	if err := sqlx.GetContext(ctx, exec, &img, q, id); err != nil {
		return resource.Image{}, trapNoRowsErr(err, resource.ErrImageNotFound, "getting resource image")
	}
	return img, nil
}

func imageWhere(filter resource.QueryFilter) where {
	var w where
	if !filter.IncludeDeleted {
		w.add("is_deleted = FALSE")
	}
	if filter.CategoryID != "" {
		w.add("category_id::text = ?", filter.CategoryID)
	}
	if filter.Status != "" {
		w.add("usage_status = ?", filter.Status)
	}
	if filter.FileHash != "" {
		w.add("file_hash = ?", filter.FileHash)
	}
	if len(filter.IDs) > 0 {
		w.add("id::text IN (?)", filter.IDs)
	}
	if !filter.CreatedFrom.IsZero() {
		w.add("created_at >= ?", filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		w.add("created_at < ?", filter.CreatedTo)
	}
	if filter.Search != "" {
		kw := "%" + filter.Search + "%"
		w.add("(original_filename ILIKE ? OR image_code ILIKE ?)", kw, kw)
	}
	return w
}

func (repo resourceRepository) QueryImages(ctx context.Context, filter resource.QueryFilter, page *core.Page) ([]resource.Image, int, error) {
	w := imageWhere(filter)
	exec := repo.exec(ctx)
	q, args, err := w.build(exec, `SELECT `+imageColumns+` FROM resource_image`,
		[]core.DBOrdering{{Field: "created_at"}, {Field: "image_code", Ascending: true}},
		map[string]bool{"created_at": true, "image_code": true}, page)
	if err != nil {
		return nil, 0, err
	}
	images := []resource.Image{}
	if err = sqlx.SelectContext(ctx, exec, &images, q, args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying resource images")
	}

	total := len(images)
	if page != nil {
		if total, err = w.count(ctx, exec, "resource_image"); err != nil {
			return nil, 0, err
		}
	}
	return images, total, nil
}

func (repo resourceRepository) UpdateImage(ctx context.Context, img resource.Image) (resource.Image, error) {
	q := `UPDATE resource_image SET category_id = :category_id, usage_status = :usage_status, used_at = :used_at,
		used_in_task_id = :used_in_task_id, is_deleted = :is_deleted, deleted_at = :deleted_at,
		deleted_reason = :deleted_reason, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, img)
	if err != nil {
		return resource.Image{}, errors.Wrap(err, "updating resource image")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return resource.Image{}, resource.ErrImageNotFound
	}
	return img, nil
}

// MarkUsed updates the row only while it is still available, so that concurrent claims cannot both win.
func (repo resourceRepository) MarkUsed(ctx context.Context, id, taskID string, at time.Time) (resource.Image, error) {
	exec := repo.exec(ctx)
	var task interface{}
	if taskID != "" {
		task = taskID
	}
	q := exec.Rebind(`UPDATE resource_image SET usage_status = ?, used_at = ?, used_in_task_id = ?, updated_at = ?
		WHERE id::text = ? AND usage_status = ? AND is_deleted = FALSE
		RETURNING ` + imageColumns)
	var img resource.Image
	err := sqlx.GetContext(ctx, exec, &img, q, resource.StatusUsed, at, task, at, id, resource.StatusAvailable)
	if err != nil {
		return resource.Image{}, trapNoRowsErr(err, resource.ErrImageUnavailable, "marking resource image used")
	}
	return img, nil
}

// StatusCounts binds the per category and status aggregates with sqlboiler.
func (repo resourceRepository) StatusCounts(ctx context.Context) ([]resource.StatusCount, error) {
	var counts []resource.StatusCount
	err := queries.Raw(`SELECT category_id::text AS category_id, usage_status, COUNT(*) AS count,
		COALESCE(SUM(file_size), 0) AS size
		FROM resource_image WHERE is_deleted = FALSE GROUP BY category_id, usage_status`).
		Bind(ctx, repo.exec(ctx), &counts)
	if err != nil {
		return nil, errors.Wrap(err, "counting resource images")
	}
	return counts, nil
}

func (repo resourceRepository) Tags(ctx context.Context) ([]string, error) {
	tags := []string{}
	q := `SELECT DISTINCT tag FROM resource_image, jsonb_array_elements_text(tags) AS tag
		WHERE is_deleted = FALSE ORDER BY tag`
	if err := sqlx.SelectContext(ctx, repo.exec(ctx), &tags, q); err != nil {
		return nil, errors.Wrap(err, "listing resource tags")
	}
	return tags, nil
}
