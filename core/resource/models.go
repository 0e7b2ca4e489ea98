package resource

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
)

// Usage statuses
const (
	StatusAvailable = "available"
	StatusUsed      = "used"
	StatusDisabled  = "disabled"
)

// Upload types & batch statuses
const (
	UploadSingle = "single"
	UploadBatch  = "batch"

	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

const (
	MaxFiles    = 50
	MaxFileSize = 100 << 20 // bytes
	MaxBatchIDs = 100
)

// StandardCategories are always reported by CategoryStats, in this order.
var StandardCategories = []string{"avatar_redesign", "room_decoration", "photo_extension"}

// DefaultCategories returns the categories every database starts with.
func DefaultCategories(now time.Time) []Category {
	cats := []Category{
		{Code: "avatar_redesign", Name: "Avatar redesign", Description: "Portraits for avatar redesign tasks"},
		{Code: "room_decoration", Name: "Room decoration", Description: "Rooms for decoration design tasks"},
		{Code: "photo_extension", Name: "Photo extension", Description: "Photos for image extension tasks"},
	}
	for i := range cats {
		cats[i].ID = uuid.New().String()
		cats[i].IsActive = true
		cats[i].SortOrder = i + 1
		cats[i].CreatedAt = now
		cats[i].UpdatedAt = now
	}
	return cats
}

var imageFormats = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "webp": true}

type Category struct {
	ID          string    `json:"id"`
	Code        string    `json:"category_code"`
	Name        string    `json:"category_name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	SortOrder   int       `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewCategory struct {
	Code        string `json:"category_code" validate:"required,max=50,alphanum_"`
	Name        string `json:"category_name" validate:"required,max=100"`
	Description string `json:"description" validate:"omitempty,max=500"`
	SortOrder   int    `json:"sort_order" validate:"min=0"`
}

func (nc *NewCategory) Validate(validate *validator.Validate) error {
	nc.Code = core.CleanString(nc.Code, true /* lower */)
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	return validate.Struct(nc)
}

type UpdateCategory struct {
	Name        *string `json:"category_name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	IsActive    *bool   `json:"is_active"`
	SortOrder   *int    `json:"sort_order" validate:"omitempty,min=0"`
}

func (uc *UpdateCategory) Validate(validate *validator.Validate) error {
	if uc.Name != nil {
		name := core.CleanString(*uc.Name)
		uc.Name = &name
	}
	return validate.Struct(uc)
}

// Batch records one registration request.
type Batch struct {
	ID               string    `json:"id"`
	BatchCode        string    `json:"batch_code"`
	CategoryID       string    `json:"category_id"`
	UploadType       string    `json:"upload_type"`
	OriginalFilename string    `json:"original_filename"`
	TotalFiles       int       `json:"total_files"`
	ProcessedFiles   int       `json:"processed_files"`
	FailedFiles      int       `json:"failed_files"`
	Status           string    `json:"upload_status"`
	UploaderID       string    `json:"uploader_id"`
	UploaderName     string    `json:"uploader_name"`
	UploadNotes      string    `json:"upload_notes"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Tags is stored as a JSON array.
type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		t = Tags{}
	}
	b, err := json.Marshal([]string(t))
	return string(b), err
}

func (t *Tags) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.Errorf("cannot scan %T into Tags", src)
	}
	return json.Unmarshal(b, (*[]string)(t))
}

type Image struct {
	ID               string              `json:"id"`
	BatchID          string              `json:"batch_id"`
	CategoryID       string              `json:"category_id"`
	CategoryName     string              `json:"category_name"`
	ImageCode        string              `json:"image_code"`
	OriginalFilename string              `json:"original_filename"`
	StoredFilename   string              `json:"stored_filename"`
	FilePath         string              `json:"file_path"`
	FileURL          string              `json:"file_url"`
	FileSize         int64               `json:"file_size"`
	Width            null.Int            `json:"image_width"`
	Height           null.Int            `json:"image_height"`
	FileFormat       string              `json:"file_format"`
	FileHash         string              `json:"file_hash"`
	UsageStatus      string              `json:"usage_status"`
	UsedAt           null.Time           `json:"used_at"`
	UsedInTaskID     null.String         `json:"used_in_task_id"`
	QualityScore     decimal.NullDecimal `json:"quality_score"`
	Tags             Tags                `json:"tags"`
	UploadNotes      string              `json:"upload_notes"`
	IsDeleted        bool                `json:"is_deleted"`
	DeletedAt        null.Time           `json:"deleted_at"`
	DeletedReason    string              `json:"deleted_reason"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NewImage describes a file already stored by the uploader (object storage key and public URL).
type NewImage struct {
	Filename     string              `json:"filename" validate:"required,max=255"`
	FilePath     string              `json:"file_path" validate:"required,max=500"`
	FileURL      string              `json:"file_url" validate:"required,url,max=500"`
	FileSize     int64               `json:"file_size" validate:"min=1"`
	Width        null.Int            `json:"image_width"`
	Height       null.Int            `json:"image_height"`
	FileFormat   string              `json:"file_format" validate:"omitempty,max=10"`
	FileHash     string              `json:"file_hash" validate:"required,hexadecimal,max=64"`
	QualityScore decimal.NullDecimal `json:"quality_score"`
	Tags         Tags                `json:"tags" validate:"omitempty,max=20,dive,max=50"`
}

func (ni *NewImage) clean() {
	ni.Filename = core.CleanString(ni.Filename)
	ni.FileHash = core.CleanString(ni.FileHash, true /* lower */)
	ni.FileFormat = strings.TrimPrefix(core.CleanString(ni.FileFormat, true /* lower */), ".")
	if ni.FileFormat == "" {
		if i := strings.LastIndex(ni.Filename, "."); i >= 0 {
			ni.FileFormat = strings.ToLower(ni.Filename[i+1:])
		}
	}
}

type RegisterRequest struct {
	CategoryID  string     `json:"category_id" validate:"required"`
	UploadNotes string     `json:"upload_notes" validate:"omitempty,max=1000"`
	Files       []NewImage `json:"files" validate:"required,min=1,max=50"`
}

// Validate checks the request envelope. Files are checked one by one at registration.
func (rr *RegisterRequest) Validate(validate *validator.Validate) error {
	rr.CategoryID = core.CleanString(rr.CategoryID)
	rr.UploadNotes = core.CleanString(rr.UploadNotes)
	return validate.Struct(rr)
}

type FileResult struct {
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	ImageID     string `json:"image_id,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	Error       string `json:"error,omitempty"`
	IsDuplicate bool   `json:"is_duplicate"`
	IsRecovered bool   `json:"is_recovered"`
}

type RegisterResult struct {
	Success      bool         `json:"success"`
	BatchID      string       `json:"batch_id"`
	BatchCode    string       `json:"batch_code"`
	TotalFiles   int          `json:"total_files"`
	SuccessFiles int          `json:"success_files"`
	FailedFiles  int          `json:"failed_files"`
	Results      []FileResult `json:"upload_results"`
	Message      string       `json:"message"`
}

type QueryFilter struct {
	CategoryID     string    `query:"category_id"`
	Status         string    `query:"status"`
	Search         string    `query:"search_keyword"`
	CreatedFrom    time.Time // inclusive
	CreatedTo      time.Time // exclusive
	IDs            []string
	FileHash       string
	IncludeDeleted bool
}

func (qf QueryFilter) Match(img Image) bool {
	if img.IsDeleted && !qf.IncludeDeleted {
		return false
	}
	if qf.CategoryID != "" && img.CategoryID != qf.CategoryID {
		return false
	}
	if qf.Status != "" && img.UsageStatus != qf.Status {
		return false
	}
	if qf.FileHash != "" && img.FileHash != qf.FileHash {
		return false
	}
	if len(qf.IDs) > 0 && !contains(qf.IDs, img.ID) {
		return false
	}
	if !qf.CreatedFrom.IsZero() && img.CreatedAt.Before(qf.CreatedFrom) {
		return false
	}
	if !qf.CreatedTo.IsZero() && !img.CreatedAt.Before(qf.CreatedTo) {
		return false
	}
	if qf.Search != "" {
		kw := strings.ToLower(qf.Search)
		if !strings.Contains(strings.ToLower(img.OriginalFilename), kw) && !strings.Contains(strings.ToLower(img.ImageCode), kw) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func IDs(images []Image) []string {
	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	return ids
}

type StatusChange struct {
	ImageID   string    `json:"image_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DeleteResult struct {
	ImageID          string    `json:"image_id"`
	OriginalFilename string    `json:"original_filename"`
	DeletedAt        time.Time `json:"deleted_at"`
	Reason           string    `json:"delete_reason"`
}

type BatchDeleteRequest struct {
	ImageIDs []string `json:"image_ids" validate:"required,min=1,max=100"`
	Reason   string   `json:"delete_reason" validate:"omitempty,max=500"`
}

type BatchDeleteResult struct {
	TotalRequested int       `json:"total_requested"`
	DeletedCount   int       `json:"deleted_count"`
	Reason         string    `json:"delete_reason"`
	DeletedAt      time.Time `json:"deleted_at"`
}

type BatchMoveRequest struct {
	ImageIDs         []string `json:"image_ids" validate:"required,min=1,max=100"`
	TargetCategoryID string   `json:"target_category_id" validate:"required"`
	Reason           string   `json:"move_reason" validate:"omitempty,max=500"`
}

type CategoryRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type BatchMoveResult struct {
	TotalRequested int         `json:"total_requested"`
	MovedCount     int         `json:"moved_count"`
	SkippedCount   int         `json:"skipped_count"`
	TargetCategory CategoryRef `json:"target_category"`
	Reason         string      `json:"move_reason"`
}

// StatusCount is the number and total size of live images of one category in one status.
type StatusCount struct {
	CategoryID string `json:"category_id" boil:"category_id"`
	Status     string `json:"usage_status" boil:"usage_status"`
	Count      int    `json:"count" boil:"count"`
	Size       int64  `json:"size" boil:"size"`
}

type CategoryCount struct {
	CategoryName string `json:"category_name"`
	Total        int    `json:"total"`
	Available    int    `json:"available"`
	Used         int    `json:"used"`
}

type RecentUpload struct {
	Filename     string    `json:"filename"`
	FileSize     int64     `json:"file_size"`
	CategoryName string    `json:"category_name"`
	CreatedAt    time.Time `json:"created_at"`
}

type Stats struct {
	TotalImages     int             `json:"total_images"`
	AvailableImages int             `json:"available_images"`
	UsedImages      int             `json:"used_images"`
	DisabledImages  int             `json:"disabled_images"`
	TotalSize       int64           `json:"total_size"`
	Categories      []CategoryCount `json:"categories_stats"`
	RecentUploads   []RecentUpload  `json:"recent_uploads"`
}

type CategoryStat struct {
	Total     int     `json:"total"`
	Available int     `json:"available"`
	Used      int     `json:"used"`
	Rate      float64 `json:"rate"` // used %, 2 decimals
}

type UsageStats struct {
	TotalImages     int     `json:"total_images"`
	AvailableImages int     `json:"available_images"`
	UsedImages      int     `json:"used_images"`
	UsageRate       float64 `json:"usage_rate"`
}

// AvailableImage answers an image request from the task side. Success is false, with a
// message, when the category is unknown or has nothing left.
type AvailableImage struct {
	Success          bool      `json:"success"`
	ImageID          string    `json:"image_id,omitempty"`
	FileURL          string    `json:"file_url,omitempty"`
	ImageCode        string    `json:"image_code,omitempty"`
	CategoryCode     string    `json:"category_code,omitempty"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	UsedAt           null.Time `json:"used_at"`
	Message          string    `json:"message,omitempty"`
}

type MarkUsedRequest struct {
	ImageID string `json:"image_id" validate:"required"`
	TaskID  string `json:"task_id" validate:"required"`
}

type UsageMark struct {
	ImageID string    `json:"image_id"`
	TaskID  string    `json:"task_id"`
	UsedAt  time.Time `json:"used_at"`
	FileURL string    `json:"file_url"`
}
