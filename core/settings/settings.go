package settings

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/taskpool/core"
)

// Keys
const (
	KeyGenerationEnabled = "virtual_task_generation_enabled"
	KeyTaskExpiryHours   = "task_expiry_hours"
	KeyRecycleTarget     = "expired_task_recycle_target"
	KeyDailyTarget       = "daily_achievement_target"
	KeyBonusPoolEnabled  = "bonus_pool_enabled"
	KeyBonusAutoConfirm  = "bonus_auto_confirm"
	KeyDefaultRebateRate = "default_rebate_rate"
)

// Value types
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeJSON    = "json"
)

// Recycle targets of expired virtual tasks
const (
	RecycleToStudentPool = "student_pool"
	RecycleToBonusPool   = "bonus_pool"
)

var (
	ErrNotFound     error = core.NotFoundError{Resource: "setting"}
	ErrInvalidValue       = errors.New("value does not match the setting type")

	nowFunc = time.Now // mockable
)

type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AutoConfirm drives the automatic confirmation of submitted bonus tasks.
type AutoConfirm struct {
	Enabled       bool `json:"enabled"`
	IntervalHours int  `json:"interval_hours"`
	MaxBatchSize  int  `json:"max_batch_size"`
}

var defaults = []Setting{
	{Key: KeyGenerationEnabled, Value: "true", Type: TypeBoolean, Description: "Generate virtual tasks from imported subsidies"},
	{Key: KeyTaskExpiryHours, Value: "24", Type: TypeNumber, Description: "Hours an open virtual task waits for acceptance"},
	{Key: KeyRecycleTarget, Value: RecycleToStudentPool, Type: TypeString, Description: "Where expired virtual task amounts go: student_pool or bonus_pool"},
	{Key: KeyDailyTarget, Value: "50", Type: TypeNumber, Description: "Daily completed amount giving access to the next day bonus pool"},
	{Key: KeyBonusPoolEnabled, Value: "true", Type: TypeBoolean, Description: "Run the daily bonus pool"},
	{Key: KeyBonusAutoConfirm, Value: `{"enabled":true,"interval_hours":1,"max_batch_size":100}`, Type: TypeJSON, Description: "Automatic confirmation of submitted bonus tasks"},
	{Key: KeyDefaultRebateRate, Value: "0.6", Type: TypeNumber, Description: "Share of the commission paid to students without an agent rate"},
}

// Defaults returns a copy of the built-in settings.
func Defaults() []Setting {
	out := make([]Setting, len(defaults))
	copy(out, defaults)
	return out
}

func defaultFor(key string) (Setting, bool) {
	for _, s := range defaults {
		if s.Key == key {
			return s, true
		}
	}
	return Setting{}, false
}

// CheckValue reports whether value can be read as typ.
func CheckValue(typ, value string) error {
	value = strings.TrimSpace(value)
	var err error
	switch typ {
	case TypeNumber:
		_, err = decimal.NewFromString(value)
	case TypeBoolean:
		_, err = strconv.ParseBool(value)
	case TypeJSON:
		if !json.Valid([]byte(value)) {
			err = ErrInvalidValue
		}
	case TypeString:
	default:
		err = ErrInvalidValue
	}
	if err != nil {
		return core.NewValidationError(ErrInvalidValue, core.FieldError{Field: "value", Error: ErrInvalidValue.Error()})
	}
	return nil
}

type UpdateSetting struct {
	Value       string `json:"value" validate:"required"`
	Description string `json:"description"`
}

type Repository interface {
	ListSettings(ctx context.Context) ([]Setting, error)
	GetSetting(ctx context.Context, key string) (Setting, error)
	SaveSetting(ctx context.Context, s Setting) (Setting, error)
}

type Service struct {
	repo   Repository
	logger core.Logger
}

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// List returns the stored settings merged over the defaults.
func (svc *Service) List(ctx context.Context) ([]Setting, error) {
	stored, err := svc.repo.ListSettings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing settings")
	}
	byKey := make(map[string]Setting, len(stored))
	for _, s := range stored {
		byKey[s.Key] = s
	}
	out := make([]Setting, 0, len(stored)+len(defaults))
	for _, d := range defaults {
		if s, ok := byKey[d.Key]; ok {
			out = append(out, s)
			delete(byKey, d.Key)
		} else {
			out = append(out, d)
		}
	}
	for _, s := range stored {
		if _, ok := byKey[s.Key]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (svc *Service) Get(ctx context.Context, key string) (Setting, error) {
	s, err := svc.repo.GetSetting(ctx, key)
	if err == nil {
		return s, nil
	}
	if errors.Cause(err) != ErrNotFound {
		return Setting{}, err
	}
	if d, ok := defaultFor(key); ok {
		return d, nil
	}
	return Setting{}, ErrNotFound
}

// Set stores a new value for key. The value must parse as the setting type.
func (svc *Service) Set(ctx context.Context, key string, us UpdateSetting) (Setting, error) {
	s, err := svc.Get(ctx, key)
	if err != nil {
		return Setting{}, err
	}
	if err := CheckValue(s.Type, us.Value); err != nil {
		return Setting{}, err
	}
	s.Value = strings.TrimSpace(us.Value)
	if us.Description != "" {
		s.Description = us.Description
	}
	s.UpdatedAt = nowFunc().UTC()
	return svc.repo.SaveSetting(ctx, s)
}

// value falls back to the default when the stored one is missing or unreadable.
func (svc *Service) value(ctx context.Context, key string) string {
	s, err := svc.Get(ctx, key)
	if err != nil {
		svc.logger.Warn("settings.Get", "key", key, "error", err)
		d, _ := defaultFor(key)
		return d.Value
	}
	return s.Value
}

func (svc *Service) String(ctx context.Context, key string) string {
	return svc.value(ctx, key)
}

func (svc *Service) Bool(ctx context.Context, key string) bool {
	v, err := strconv.ParseBool(svc.value(ctx, key))
	if err != nil {
		d, _ := defaultFor(key)
		v, _ = strconv.ParseBool(d.Value)
	}
	return v
}

func (svc *Service) Decimal(ctx context.Context, key string) decimal.Decimal {
	v, err := decimal.NewFromString(svc.value(ctx, key))
	if err != nil {
		d, _ := defaultFor(key)
		v, _ = decimal.NewFromString(d.Value)
	}
	return v
}

func (svc *Service) Int(ctx context.Context, key string) int {
	return int(svc.Decimal(ctx, key).IntPart())
}

// JSON decodes the value of key into dst.
func (svc *Service) JSON(ctx context.Context, key string, dst interface{}) error {
	if err := json.Unmarshal([]byte(svc.value(ctx, key)), dst); err != nil {
		d, ok := defaultFor(key)
		if !ok {
			return errors.Wrap(err, "decoding setting")
		}
		return json.Unmarshal([]byte(d.Value), dst)
	}
	return nil
}

// shortcuts

func (svc *Service) GenerationEnabled(ctx context.Context) bool {
	return svc.Bool(ctx, KeyGenerationEnabled)
}

// TaskExpiry is the acceptance window of virtual tasks.
func (svc *Service) TaskExpiry(ctx context.Context) time.Duration {
	hours := svc.Int(ctx, KeyTaskExpiryHours)
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

func (svc *Service) RecycleTarget(ctx context.Context) string {
	return svc.String(ctx, KeyRecycleTarget)
}

func (svc *Service) DailyTarget(ctx context.Context) decimal.Decimal {
	return svc.Decimal(ctx, KeyDailyTarget)
}

func (svc *Service) BonusPoolEnabled(ctx context.Context) bool {
	return svc.Bool(ctx, KeyBonusPoolEnabled)
}

func (svc *Service) AutoConfirm(ctx context.Context) AutoConfirm {
	ac := AutoConfirm{Enabled: true, IntervalHours: 1, MaxBatchSize: 100}
	if err := svc.JSON(ctx, KeyBonusAutoConfirm, &ac); err != nil {
		svc.logger.Warn("settings.AutoConfirm", "error", err)
	}
	if ac.IntervalHours <= 0 {
		ac.IntervalHours = 1
	}
	if ac.MaxBatchSize <= 0 {
		ac.MaxBatchSize = 100
	}
	return ac
}

// DefaultRebateRate implements agent.RateSource.
func (svc *Service) DefaultRebateRate(ctx context.Context) decimal.Decimal {
	return svc.Decimal(ctx, KeyDefaultRebateRate)
}
