package settings

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/taskpool/core"
)

type mapRepo map[string]Setting

func (r mapRepo) ListSettings(context.Context) ([]Setting, error) {
	out := make([]Setting, 0, len(r))
	for _, s := range r {
		out = append(out, s)
	}
	return out, nil
}

func (r mapRepo) GetSetting(_ context.Context, key string) (Setting, error) {
	if s, ok := r[key]; ok {
		return s, nil
	}
	return Setting{}, ErrNotFound
}

func (r mapRepo) SaveSetting(_ context.Context, s Setting) (Setting, error) {
	r[s.Key] = s
	return s, nil
}

func TestCheckValue(t *testing.T) {
	tests := []struct {
		typ, value string
		wantErr    bool
	}{
		{typ: TypeNumber, value: "12.5"},
		{typ: TypeNumber, value: "lol", wantErr: true},
		{typ: TypeBoolean, value: " true "},
		{typ: TypeBoolean, value: "yes", wantErr: true},
		{typ: TypeJSON, value: `{"enabled": false}`},
		{typ: TypeJSON, value: `{`, wantErr: true},
		{typ: TypeString, value: "anything"},
		{typ: "lol", value: "anything", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ+"="+tt.value, func(t *testing.T) {
			err := CheckValue(tt.typ, tt.value)
			if tt.wantErr {
				_, ok := err.(*core.ValidationError)
				assert.True(t, ok, "err = %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService(t *testing.T) {
	ctx := context.Background()
	repo := mapRepo{}
	svc := NewService(repo, core.NopLogger{})

	// defaults
	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(defaults))
	assert.True(t, svc.GenerationEnabled(ctx))
	assert.True(t, svc.BonusPoolEnabled(ctx))
	assert.Equal(t, RecycleToStudentPool, svc.RecycleTarget(ctx))
	assert.Equal(t, 24*time.Hour, svc.TaskExpiry(ctx))
	assert.True(t, svc.DailyTarget(ctx).Equal(decimal.NewFromInt(50)))
	assert.Equal(t, AutoConfirm{Enabled: true, IntervalHours: 1, MaxBatchSize: 100}, svc.AutoConfirm(ctx))

	_, err = svc.Get(ctx, "lol")
	assert.Equal(t, ErrNotFound, err)
	_, err = svc.Set(ctx, "lol", UpdateSetting{Value: "1"})
	assert.Equal(t, ErrNotFound, err)

	s, err := svc.Set(ctx, KeyTaskExpiryHours, UpdateSetting{Value: " 48 "})
	require.NoError(t, err)
	assert.Equal(t, "48", s.Value)
	assert.Equal(t, TypeNumber, s.Type)
	assert.Equal(t, 48*time.Hour, svc.TaskExpiry(ctx))

	_, err = svc.Set(ctx, KeyGenerationEnabled, UpdateSetting{Value: "nope"})
	assert.Error(t, err)
	assert.True(t, svc.GenerationEnabled(ctx))

	// unreadable stored values fall back to the defaults
	repo[KeyDailyTarget] = Setting{Key: KeyDailyTarget, Value: "lol", Type: TypeNumber}
	assert.True(t, svc.DailyTarget(ctx).Equal(decimal.NewFromInt(50)))
	repo[KeyBonusAutoConfirm] = Setting{Key: KeyBonusAutoConfirm, Value: `{"enabled": false, "max_batch_size": 0}`, Type: TypeJSON}
	assert.Equal(t, AutoConfirm{Enabled: false, IntervalHours: 1, MaxBatchSize: 100}, svc.AutoConfirm(ctx))

	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(defaults))
}
