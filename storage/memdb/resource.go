package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/resource"
)

type resourceRepository struct {
	db *DB
}

var _ resource.Repository = (*resourceRepository)(nil) // interface compliance check

func NewResourceRepository(db *DB) *resourceRepository {
	return &resourceRepository{db: db}
}

func (repo *resourceRepository) CreateCategory(ctx context.Context, c resource.Category) (resource.Category, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return insert(txn, tableResourceCategory, c)
	})
	return c, err
}

func (repo *resourceRepository) GetCategory(ctx context.Context, id string) (resource.Category, error) {
	return first[resource.Category](repo.db.read(ctx), tableResourceCategory, id, resource.ErrCategoryNotFound)
}

func (repo *resourceRepository) GetCategoryByCode(ctx context.Context, code string) (resource.Category, error) {
	cats, err := list[resource.Category](repo.db.read(ctx), tableResourceCategory, func(c resource.Category) bool {
		return c.Code == code
	})
	if err != nil {
		return resource.Category{}, err
	}
	if len(cats) == 0 {
		return resource.Category{}, resource.ErrCategoryNotFound
	}
	return cats[0], nil
}

func (repo *resourceRepository) QueryCategories(ctx context.Context, activeOnly bool) ([]resource.Category, error) {
	cats, err := list[resource.Category](repo.db.read(ctx), tableResourceCategory, func(c resource.Category) bool {
		return c.IsActive || !activeOnly
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cats, func(i, j int) bool {
		if cats[i].SortOrder != cats[j].SortOrder {
			return cats[i].SortOrder < cats[j].SortOrder
		}
		return cats[i].Code < cats[j].Code
	})
	return cats, nil
}

func (repo *resourceRepository) UpdateCategory(ctx context.Context, c resource.Category) (resource.Category, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return update(txn, tableResourceCategory, c.ID, c, resource.ErrCategoryNotFound)
	})
	return c, err
}

func (repo *resourceRepository) CreateBatch(ctx context.Context, b resource.Batch) (resource.Batch, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return insert(txn, tableResourceBatch, b)
	})
	return b, err
}

func (repo *resourceRepository) UpdateBatch(ctx context.Context, b resource.Batch) (resource.Batch, error) {
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return update(txn, tableResourceBatch, b.ID, b, core.NotFoundError{Resource: "resource batch"})
	})
	return b, err
}

func (repo *resourceRepository) CreateImage(ctx context.Context, img resource.Image) (resource.Image, error) {
	img.CategoryName = ""
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return insert(txn, tableResourceImage, img)
	})
	return img, err
}

func (repo *resourceRepository) GetImage(ctx context.Context, id string) (resource.Image, error) {
	return first[resource.Image](repo.db.read(ctx), tableResourceImage, id, resource.ErrImageNotFound)
}

func (repo *resourceRepository) QueryImages(ctx context.Context, filter resource.QueryFilter, page *core.Page) ([]resource.Image, int, error) {
	images, err := list[resource.Image](repo.db.read(ctx), tableResourceImage, filter.Match)
	if err != nil {
		return nil, 0, err
	}
	// ties keep the image code order so that random picks by offset are stable
	sort.SliceStable(images, func(i, j int) bool {
		if !images[i].CreatedAt.Equal(images[j].CreatedAt) {
			return images[i].CreatedAt.After(images[j].CreatedAt)
		}
		return images[i].ImageCode < images[j].ImageCode
	})
	images, total := paginate(images, page)
	return images, total, nil
}

func (repo *resourceRepository) UpdateImage(ctx context.Context, img resource.Image) (resource.Image, error) {
	img.CategoryName = ""
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		return update(txn, tableResourceImage, img.ID, img, resource.ErrImageNotFound)
	})
	return img, err
}

func (repo *resourceRepository) MarkUsed(ctx context.Context, id, taskID string, at time.Time) (resource.Image, error) {
	var img resource.Image
	err := repo.db.write(ctx, func(txn *memdb.Txn) error {
		var err error
		img, err = first[resource.Image](txn, tableResourceImage, id, resource.ErrImageUnavailable)
		if err != nil {
			return err
		}
		if img.IsDeleted || img.UsageStatus != resource.StatusAvailable {
			return resource.ErrImageUnavailable
		}
		img.UsageStatus = resource.StatusUsed
		img.UsedAt = null.TimeFrom(at)
		img.UsedInTaskID = null.NewString(taskID, taskID != "")
		img.UpdatedAt = at
		return update(txn, tableResourceImage, img.ID, img, resource.ErrImageUnavailable)
	})
	if err != nil {
		return resource.Image{}, err
	}
	return img, nil
}

func (repo *resourceRepository) StatusCounts(ctx context.Context) ([]resource.StatusCount, error) {
	images, err := list[resource.Image](repo.db.read(ctx), tableResourceImage, resource.QueryFilter{}.Match)
	if err != nil {
		return nil, err
	}
	type key struct{ category, status string }
	idx := map[key]int{}
	counts := []resource.StatusCount{}
	for _, img := range images {
		k := key{img.CategoryID, img.UsageStatus}
		i, ok := idx[k]
		if !ok {
			i = len(counts)
			idx[k] = i
			counts = append(counts, resource.StatusCount{CategoryID: img.CategoryID, Status: img.UsageStatus})
		}
		counts[i].Count++
		counts[i].Size += img.FileSize
	}
	return counts, nil
}

func (repo *resourceRepository) Tags(ctx context.Context) ([]string, error) {
	images, err := list[resource.Image](repo.db.read(ctx), tableResourceImage, resource.QueryFilter{}.Match)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	tags := []string{}
	for _, img := range images {
		for _, tag := range img.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	sort.Strings(tags)
	return tags, nil
}
