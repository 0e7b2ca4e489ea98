package resource

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/task"
	"github.com/trezcool/taskpool/core/user"
)

var (
	// errors
	ErrCategoryNotFound    error = core.NotFoundError{Resource: "resource category"}
	ErrImageNotFound       error = core.NotFoundError{Resource: "resource image"}
	ErrImageUnavailable    error = core.NotFoundError{Resource: "available resource image"}
	ErrCodeExists                = errors.New("category code already exists")
	ErrUsedToAvailable           = core.NewBusinessError(http.StatusBadRequest, "a used image cannot be made available again")
	ErrDeleteUsed                = core.NewBusinessError(http.StatusBadRequest, "used images cannot be deleted")
	errInvalidStatusChange       = errors.New("invalid usage status")

	nowFunc = time.Now // mockable
)

// claimAttempts bounds the retries of ClaimImage when a concurrent claim takes the picked image.
const claimAttempts = 3

type Repository interface {
	CreateCategory(ctx context.Context, c Category) (Category, error)
	GetCategory(ctx context.Context, id string) (Category, error)
	GetCategoryByCode(ctx context.Context, code string) (Category, error)
	// QueryCategories returns categories by sort order, then code.
	QueryCategories(ctx context.Context, activeOnly bool) ([]Category, error)
	UpdateCategory(ctx context.Context, c Category) (Category, error)

	CreateBatch(ctx context.Context, b Batch) (Batch, error)
	UpdateBatch(ctx context.Context, b Batch) (Batch, error)

	CreateImage(ctx context.Context, img Image) (Image, error)
	GetImage(ctx context.Context, id string) (Image, error)
	// QueryImages returns the matching page (newest first) and the total match count. A nil page returns everything.
	QueryImages(ctx context.Context, filter QueryFilter, page *core.Page) ([]Image, int, error)
	UpdateImage(ctx context.Context, img Image) (Image, error)
	// MarkUsed flags a live available image as used by taskID, or fails with ErrImageUnavailable.
	MarkUsed(ctx context.Context, id, taskID string, at time.Time) (Image, error)
	// StatusCounts groups the live images by category and usage status.
	StatusCounts(ctx context.Context) ([]StatusCount, error)
	// Tags lists the distinct tags of the live images, sorted.
	Tags(ctx context.Context) ([]string, error)
}

type Service struct {
	tx       core.Transactor
	repo     Repository
	tasks    task.Repository
	validate *validator.Validate
	logger   core.Logger
	loc      *time.Location

	mu  sync.Mutex
	rng *rand.Rand
}

func NewService(
	tx core.Transactor,
	repo Repository,
	tasks task.Repository,
	validate *validator.Validate,
	logger core.Logger,
	rng *rand.Rand,
	loc *time.Location,
) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Service{tx: tx, repo: repo, tasks: tasks, validate: validate, logger: logger, loc: loc, rng: rng}
}

func (svc *Service) intn(n int) int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.rng.Intn(n)
}

func newCode(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s", prefix, now.Format("20060102150405"), uuid.New().String()[:8])
}

func (svc *Service) Categories(ctx context.Context) ([]Category, error) {
	return svc.repo.QueryCategories(ctx, true)
}

// activeCategory returns the category of id, hiding inactive ones.
func (svc *Service) activeCategory(ctx context.Context, id string) (Category, error) {
	c, err := svc.repo.GetCategory(ctx, id)
	if err != nil {
		return Category{}, err
	}
	if !c.IsActive {
		return Category{}, ErrCategoryNotFound
	}
	return c, nil
}

func (svc *Service) CreateCategory(ctx context.Context, nc NewCategory) (Category, error) {
	var c Category
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.GetCategoryByCode(ctx, nc.Code); err == nil {
			return core.NewValidationError(ErrCodeExists, core.FieldError{Field: "category_code", Error: ErrCodeExists.Error()})
		} else if errors.Cause(err) != ErrCategoryNotFound {
			return errors.Wrap(err, "checking category code")
		}
		now := nowFunc().UTC()
		var err error
		c, err = svc.repo.CreateCategory(ctx, Category{
			ID:          uuid.New().String(),
			Code:        nc.Code,
			Name:        nc.Name,
			Description: nc.Description,
			IsActive:    true,
			SortOrder:   nc.SortOrder,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		return err
	})
	return c, err
}

func (svc *Service) UpdateCategory(ctx context.Context, id string, uc UpdateCategory) (Category, error) {
	var c Category
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if c, err = svc.repo.GetCategory(ctx, id); err != nil {
			return err
		}
		if uc.Name != nil && *uc.Name != "" {
			c.Name = *uc.Name
		}
		if uc.Description != nil {
			c.Description = core.CleanString(*uc.Description)
		}
		if uc.IsActive != nil {
			c.IsActive = *uc.IsActive
		}
		if uc.SortOrder != nil {
			c.SortOrder = *uc.SortOrder
		}
		c.UpdatedAt = nowFunc().UTC()
		c, err = svc.repo.UpdateCategory(ctx, c)
		return err
	})
	return c, err
}

// Register records already stored image files under an active category.
// Each file is handled on its own: a file whose hash is already live in the category
// is a duplicate, a soft deleted unused one is recovered, an invalid one fails.
func (svc *Service) Register(ctx context.Context, req RegisterRequest, uploader user.User) (RegisterResult, error) {
	var res RegisterResult
	if len(req.Files) == 0 || len(req.Files) > MaxFiles {
		return res, core.NewValidationError(nil, core.FieldError{
			Field: "files", Error: fmt.Sprintf("between 1 and %d files are allowed", MaxFiles),
		})
	}

	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		category, err := svc.activeCategory(ctx, req.CategoryID)
		if err != nil {
			return err
		}

		now := nowFunc().UTC()
		b := Batch{
			ID:               uuid.New().String(),
			BatchCode:        newCode("BATCH", now.In(svc.loc)),
			CategoryID:       category.ID,
			UploadType:       UploadSingle,
			OriginalFilename: core.CleanString(req.Files[0].Filename),
			Status:           BatchProcessing,
			UploaderID:       uploader.ID,
			UploaderName:     uploader.Name,
			UploadNotes:      req.UploadNotes,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if len(req.Files) > 1 {
			b.UploadType = UploadBatch
			b.OriginalFilename = fmt.Sprintf("%d files", len(req.Files))
		}
		if b, err = svc.repo.CreateBatch(ctx, b); err != nil {
			return errors.Wrap(err, "creating batch")
		}

		var created, duplicates, recovered int
		res.Results = make([]FileResult, 0, len(req.Files))
		for _, f := range req.Files {
			r, err := svc.registerFile(ctx, b, f, now)
			if err != nil {
				return err
			}
			switch {
			case !r.Success:
				b.FailedFiles++
			case r.IsDuplicate:
				duplicates++
			case r.IsRecovered:
				recovered++
			default:
				created++
			}
			res.Results = append(res.Results, r)
		}

		b.TotalFiles = len(req.Files)
		b.ProcessedFiles = created + recovered
		b.Status = BatchCompleted
		if b.FailedFiles > 0 {
			b.Status = BatchFailed
		}
		b.UpdatedAt = nowFunc().UTC()
		if b, err = svc.repo.UpdateBatch(ctx, b); err != nil {
			return errors.Wrap(err, "updating batch")
		}

		res.BatchID = b.ID
		res.BatchCode = b.BatchCode
		res.TotalFiles = b.TotalFiles
		res.SuccessFiles = b.ProcessedFiles
		res.FailedFiles = b.FailedFiles
		res.Success = res.SuccessFiles > 0
		res.Message = registerMessage(b.TotalFiles, duplicates, recovered, created, b.FailedFiles)
		return nil
	})
	if err != nil {
		return RegisterResult{}, err
	}
	svc.logger.Info("resource.Register", "batch", res.BatchCode, "files", res.TotalFiles, "failed", res.FailedFiles)
	return res, nil
}

func registerMessage(total, duplicates, recovered, created, failed int) string {
	if created+recovered == 0 {
		return "no file registered"
	}
	parts := []string{fmt.Sprintf("%d files", total)}
	for _, p := range []struct {
		n     int
		label string
	}{{duplicates, "duplicate"}, {recovered, "recovered"}, {created, "registered"}, {failed, "failed"}} {
		if p.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", p.n, p.label))
		}
	}
	return strings.Join(parts, ", ")
}

func (svc *Service) registerFile(ctx context.Context, b Batch, f NewImage, now time.Time) (FileResult, error) {
	f.clean()
	r := FileResult{Filename: f.Filename}
	fail := func(msg string) (FileResult, error) {
		r.Error = msg
		return r, nil
	}
	if err := svc.validate.Struct(f); err != nil {
		return fail(fileError(err))
	}
	if f.FileSize > MaxFileSize {
		return fail("file exceeds 100MB")
	}
	if !imageFormats[f.FileFormat] {
		return fail("unsupported image format: " + f.FileFormat)
	}

	same, _, err := svc.repo.QueryImages(ctx, QueryFilter{CategoryID: b.CategoryID, FileHash: f.FileHash, IncludeDeleted: true}, nil)
	if err != nil {
		return r, errors.Wrap(err, "looking up file hash")
	}
	var deleted *Image
	for i := range same {
		if !same[i].IsDeleted {
			return duplicate(r, same[i], "file already registered"), nil
		}
		if deleted == nil {
			deleted = &same[i]
		}
	}
	if deleted != nil {
		if deleted.UsageStatus == StatusUsed {
			return duplicate(r, *deleted, "file was registered and used before"), nil
		}
		img := *deleted
		img.IsDeleted = false
		img.DeletedAt = null.Time{}
		img.DeletedReason = ""
		img.UpdatedAt = now
		if img, err = svc.repo.UpdateImage(ctx, img); err != nil {
			return r, errors.Wrap(err, "recovering image")
		}
		r = duplicate(r, img, "recovered a deleted file")
		r.IsDuplicate, r.IsRecovered = false, true
		return r, nil
	}

	img, err := svc.repo.CreateImage(ctx, Image{
		ID:               uuid.New().String(),
		BatchID:          b.ID,
		CategoryID:       b.CategoryID,
		ImageCode:        newCode("IMG", now.In(svc.loc)),
		OriginalFilename: f.Filename,
		StoredFilename:   path.Base(f.FilePath),
		FilePath:         f.FilePath,
		FileURL:          f.FileURL,
		FileSize:         f.FileSize,
		Width:            f.Width,
		Height:           f.Height,
		FileFormat:       f.FileFormat,
		FileHash:         f.FileHash,
		UsageStatus:      StatusAvailable,
		QualityScore:     f.QualityScore,
		Tags:             f.Tags,
		UploadNotes:      b.UploadNotes,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return r, errors.Wrap(err, "creating image")
	}
	r.Success = true
	r.ImageID = img.ID
	r.FileURL = img.FileURL
	r.FileSize = img.FileSize
	return r, nil
}

func duplicate(r FileResult, img Image, msg string) FileResult {
	r.Success = true
	r.IsDuplicate = true
	r.ImageID = img.ID
	r.FileURL = img.FileURL
	r.FileSize = img.FileSize
	r.Error = msg
	return r
}

func fileError(err error) string {
	if verrs, ok := errors.Cause(err).(validator.ValidationErrors); ok && len(verrs) > 0 {
		return verrs[0].Field() + ": " + verrs[0].Tag()
	}
	return err.Error()
}

// withCategoryNames fills Image.CategoryName.
func (svc *Service) withCategoryNames(ctx context.Context, images []Image) ([]Image, error) {
	cats, err := svc.repo.QueryCategories(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "listing categories")
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	for i := range images {
		images[i].CategoryName = names[images[i].CategoryID]
	}
	return images, nil
}

func (svc *Service) Images(ctx context.Context, filter QueryFilter, page core.Page) ([]Image, int, error) {
	filter.IncludeDeleted = false
	filter.FileHash = ""
	page = page.Normalize()
	images, total, err := svc.repo.QueryImages(ctx, filter, &page)
	if err != nil {
		return nil, 0, err
	}
	images, err = svc.withCategoryNames(ctx, images)
	return images, total, err
}

// liveImage returns the image of id unless it was deleted.
func (svc *Service) liveImage(ctx context.Context, id string) (Image, error) {
	img, err := svc.repo.GetImage(ctx, id)
	if err != nil {
		return Image{}, err
	}
	if img.IsDeleted {
		return Image{}, ErrImageNotFound
	}
	return img, nil
}

func (svc *Service) Image(ctx context.Context, id string) (Image, error) {
	img, err := svc.liveImage(ctx, id)
	if err != nil {
		return Image{}, err
	}
	images, err := svc.withCategoryNames(ctx, []Image{img})
	if err != nil {
		return Image{}, err
	}
	return images[0], nil
}

// UpdateStatus moves an image between usage statuses. Used images never become available again.
func (svc *Service) UpdateStatus(ctx context.Context, id, status, reason string) (StatusChange, error) {
	switch status {
	case StatusAvailable, StatusUsed, StatusDisabled:
	default:
		return StatusChange{}, core.NewValidationError(errInvalidStatusChange, core.FieldError{
			Field: "status", Error: "must be one of available, used, disabled",
		})
	}

	var res StatusChange
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		img, err := svc.liveImage(ctx, id)
		if err != nil {
			return err
		}
		if img.UsageStatus == StatusUsed && status == StatusAvailable {
			return ErrUsedToAvailable
		}
		now := nowFunc().UTC()
		res = StatusChange{ImageID: img.ID, OldStatus: img.UsageStatus, NewStatus: status, Reason: reason, UpdatedAt: now}
		img.UsageStatus = status
		if status == StatusUsed && !img.UsedAt.Valid {
			img.UsedAt = null.TimeFrom(now)
		}
		img.UpdatedAt = now
		_, err = svc.repo.UpdateImage(ctx, img)
		return err
	})
	return res, err
}

func (svc *Service) softDelete(ctx context.Context, img Image, reason string, now time.Time) error {
	img.IsDeleted = true
	img.DeletedAt = null.TimeFrom(now)
	img.DeletedReason = reason
	img.UpdatedAt = now
	_, err := svc.repo.UpdateImage(ctx, img)
	return errors.Wrap(err, "deleting image")
}

// Delete soft deletes an unused image.
func (svc *Service) Delete(ctx context.Context, id, reason string) (DeleteResult, error) {
	var res DeleteResult
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		img, err := svc.liveImage(ctx, id)
		if err != nil {
			return err
		}
		if img.UsageStatus == StatusUsed {
			return ErrDeleteUsed
		}
		now := nowFunc().UTC()
		res = DeleteResult{ImageID: img.ID, OriginalFilename: img.OriginalFilename, DeletedAt: now, Reason: reason}
		return svc.softDelete(ctx, img, reason, now)
	})
	return res, err
}

// BatchDelete soft deletes the listed live images. Nothing is deleted when one of them is used.
func (svc *Service) BatchDelete(ctx context.Context, req BatchDeleteRequest) (BatchDeleteResult, error) {
	res := BatchDeleteResult{TotalRequested: len(req.ImageIDs), Reason: req.Reason}
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		images, _, err := svc.repo.QueryImages(ctx, QueryFilter{IDs: req.ImageIDs}, nil)
		if err != nil {
			return errors.Wrap(err, "querying images")
		}
		if len(images) == 0 {
			return ErrImageNotFound
		}
		var used []string
		for _, img := range images {
			if img.UsageStatus == StatusUsed {
				used = append(used, img.OriginalFilename)
			}
		}
		if len(used) > 0 {
			return core.NewBusinessError(http.StatusBadRequest, ErrDeleteUsed.Message+": "+strings.Join(used, ", "))
		}

		res.DeletedAt = nowFunc().UTC()
		for _, img := range images {
			if err = svc.softDelete(ctx, img, req.Reason, res.DeletedAt); err != nil {
				return err
			}
		}
		res.DeletedCount = len(images)
		return nil
	})
	if err != nil {
		return BatchDeleteResult{}, err
	}
	return res, nil
}

// BatchMove moves the listed live images to an active category. Images already there are skipped.
func (svc *Service) BatchMove(ctx context.Context, req BatchMoveRequest) (BatchMoveResult, error) {
	res := BatchMoveResult{TotalRequested: len(req.ImageIDs), Reason: req.Reason}
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		target, err := svc.activeCategory(ctx, req.TargetCategoryID)
		if err != nil {
			return err
		}
		res.TargetCategory = CategoryRef{ID: target.ID, Name: target.Name}

		images, _, err := svc.repo.QueryImages(ctx, QueryFilter{IDs: req.ImageIDs}, nil)
		if err != nil {
			return errors.Wrap(err, "querying images")
		}
		if len(images) == 0 {
			return ErrImageNotFound
		}
		now := nowFunc().UTC()
		for _, img := range images {
			if img.CategoryID == target.ID {
				res.SkippedCount++
				continue
			}
			img.CategoryID = target.ID
			img.UpdatedAt = now
			if _, err = svc.repo.UpdateImage(ctx, img); err != nil {
				return errors.Wrap(err, "moving image")
			}
			res.MovedCount++
		}
		return nil
	})
	if err != nil {
		return BatchMoveResult{}, err
	}
	svc.logger.Info("resource.BatchMove", "moved", res.MovedCount, "target", res.TargetCategory.Name)
	return res, nil
}

func usageRate(used, total int) float64 {
	if total == 0 {
		return 0
	}
	rate, _ := decimal.NewFromInt(int64(used)).Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).Round(2).Float64()
	return rate
}

func (svc *Service) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Categories: []CategoryCount{}, RecentUploads: []RecentUpload{}}
	counts, err := svc.repo.StatusCounts(ctx)
	if err != nil {
		return st, errors.Wrap(err, "counting images")
	}
	cats, err := svc.repo.QueryCategories(ctx, false)
	if err != nil {
		return st, errors.Wrap(err, "listing categories")
	}

	perCategory := make(map[string]int, len(cats)) // index in st.Categories
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
		if c.IsActive {
			perCategory[c.ID] = len(st.Categories)
			st.Categories = append(st.Categories, CategoryCount{CategoryName: c.Name})
		}
	}
	for _, sc := range counts {
		st.TotalImages += sc.Count
		st.TotalSize += sc.Size
		switch sc.Status {
		case StatusAvailable:
			st.AvailableImages += sc.Count
		case StatusUsed:
			st.UsedImages += sc.Count
		case StatusDisabled:
			st.DisabledImages += sc.Count
		}
		if i, ok := perCategory[sc.CategoryID]; ok {
			cc := &st.Categories[i]
			cc.Total += sc.Count
			switch sc.Status {
			case StatusAvailable:
				cc.Available += sc.Count
			case StatusUsed:
				cc.Used += sc.Count
			}
		}
	}

	recent, _, err := svc.repo.QueryImages(ctx, QueryFilter{}, &core.Page{Page: 1, Size: 10})
	if err != nil {
		return st, errors.Wrap(err, "listing recent uploads")
	}
	for _, img := range recent {
		st.RecentUploads = append(st.RecentUploads, RecentUpload{
			Filename:     img.OriginalFilename,
			FileSize:     img.FileSize,
			CategoryName: names[img.CategoryID],
			CreatedAt:    img.CreatedAt,
		})
	}
	return st, nil
}

// CategoryStats reports the usage of every active category by code.
// The standard categories are always present, zeroed when missing or inactive.
func (svc *Service) CategoryStats(ctx context.Context) (map[string]CategoryStat, error) {
	res := make(map[string]CategoryStat, len(StandardCategories))
	for _, code := range StandardCategories {
		res[code] = CategoryStat{}
	}
	counts, err := svc.repo.StatusCounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "counting images")
	}
	cats, err := svc.repo.QueryCategories(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "listing categories")
	}
	codes := make(map[string]string, len(cats))
	for _, c := range cats {
		codes[c.ID] = c.Code
		res[c.Code] = CategoryStat{}
	}
	for _, sc := range counts {
		code, ok := codes[sc.CategoryID]
		if !ok {
			continue
		}
		cs := res[code]
		cs.Total += sc.Count
		switch sc.Status {
		case StatusAvailable:
			cs.Available += sc.Count
		case StatusUsed:
			cs.Used += sc.Count
		}
		res[code] = cs
	}
	for code, cs := range res {
		cs.Rate = usageRate(cs.Used, cs.Total)
		res[code] = cs
	}
	return res, nil
}

func (svc *Service) UsageStats(ctx context.Context) (UsageStats, error) {
	var us UsageStats
	counts, err := svc.repo.StatusCounts(ctx)
	if err != nil {
		return us, errors.Wrap(err, "counting images")
	}
	for _, sc := range counts {
		us.TotalImages += sc.Count
		switch sc.Status {
		case StatusAvailable:
			us.AvailableImages += sc.Count
		case StatusUsed:
			us.UsedImages += sc.Count
		}
	}
	us.UsageRate = usageRate(us.UsedImages, us.TotalImages)
	return us, nil
}

func (svc *Service) Tags(ctx context.Context) ([]string, error) {
	tags, err := svc.repo.Tags(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(tags)
	return tags, nil
}

// categoryByCode returns the active category of code, or a failed AvailableImage explaining why not.
func (svc *Service) categoryByCode(ctx context.Context, code string) (Category, *AvailableImage, error) {
	c, err := svc.repo.GetCategoryByCode(ctx, code)
	if err == nil && c.IsActive {
		return c, nil, nil
	}
	if err != nil && errors.Cause(err) != ErrCategoryNotFound {
		return Category{}, nil, errors.Wrap(err, "getting category")
	}
	return Category{}, &AvailableImage{Message: fmt.Sprintf("category %s does not exist or is disabled", code)}, nil
}

// pick returns a random live available image of category, if any.
func (svc *Service) pick(ctx context.Context, categoryID string) (Image, bool, error) {
	filter := QueryFilter{CategoryID: categoryID, Status: StatusAvailable}
	_, total, err := svc.repo.QueryImages(ctx, filter, &core.Page{Page: 1, Size: 1})
	if err != nil || total == 0 {
		return Image{}, false, errors.Wrap(err, "counting available images")
	}
	images, _, err := svc.repo.QueryImages(ctx, filter, &core.Page{Page: svc.intn(total) + 1, Size: 1})
	if err != nil || len(images) == 0 {
		return Image{}, false, errors.Wrap(err, "picking an available image")
	}
	return images[0], true, nil
}

func available(img Image, code string) AvailableImage {
	return AvailableImage{
		Success:          true,
		ImageID:          img.ID,
		FileURL:          img.FileURL,
		ImageCode:        img.ImageCode,
		CategoryCode:     code,
		OriginalFilename: img.OriginalFilename,
		UsedAt:           img.UsedAt,
	}
}

// AvailableImage picks a random available image of the category without reserving it.
func (svc *Service) AvailableImage(ctx context.Context, code string) (AvailableImage, error) {
	c, failed, err := svc.categoryByCode(ctx, code)
	if err != nil || failed != nil {
		return deref(failed), err
	}
	img, ok, err := svc.pick(ctx, c.ID)
	if err != nil {
		return AvailableImage{}, err
	}
	if !ok {
		return AvailableImage{Message: fmt.Sprintf("no available image in category %s", code)}, nil
	}
	return available(img, code), nil
}

// ClaimImage picks a random available image of the category and marks it used by taskID
// (optional) in one step.
func (svc *Service) ClaimImage(ctx context.Context, code, taskID string) (AvailableImage, error) {
	c, failed, err := svc.categoryByCode(ctx, code)
	if err != nil || failed != nil {
		return deref(failed), err
	}
	if taskID != "" {
		if _, err = svc.tasks.GetTask(ctx, taskID); err != nil {
			return AvailableImage{}, err
		}
	}
	for i := 0; i < claimAttempts; i++ {
		img, ok, err := svc.pick(ctx, c.ID)
		if err != nil {
			return AvailableImage{}, err
		}
		if !ok {
			break
		}
		img, err = svc.repo.MarkUsed(ctx, img.ID, taskID, nowFunc().UTC())
		if errors.Cause(err) == ErrImageUnavailable {
			continue // taken meanwhile
		}
		if err != nil {
			return AvailableImage{}, err
		}
		res := available(img, code)
		res.Message = "image claimed"
		return res, nil
	}
	return AvailableImage{Message: fmt.Sprintf("no available image in category %s", code)}, nil
}

func deref(ai *AvailableImage) AvailableImage {
	if ai == nil {
		return AvailableImage{}
	}
	return *ai
}

// MarkUsed records that taskID used the image. The image must be live and available.
func (svc *Service) MarkUsed(ctx context.Context, req MarkUsedRequest) (UsageMark, error) {
	if _, err := svc.tasks.GetTask(ctx, req.TaskID); err != nil {
		return UsageMark{}, err
	}
	img, err := svc.repo.MarkUsed(ctx, req.ImageID, req.TaskID, nowFunc().UTC())
	if err != nil {
		return UsageMark{}, err
	}
	return UsageMark{ImageID: img.ID, TaskID: req.TaskID, UsedAt: img.UsedAt.Time, FileURL: img.FileURL}, nil
}
