package task

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/volatiletech/null/v8"
)

func TestSplitAmount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	allowed := map[string]bool{"5": true, "10": true, "15": true, "20": true, "25": true}

	tests := []struct {
		name  string
		total string
		want  []string // nil when any valid split will do
	}{
		{name: "zero", total: "0", want: []string{}},
		{name: "negative", total: "-10", want: []string{}},
		{name: "tiny", total: "0.01", want: []string{"0.01"}},
		{name: "min chunk", total: "5", want: []string{"5"}},
		{name: "under ten", total: "7.5", want: nil},
		{name: "round", total: "100"},
		{name: "cents", total: "123.45"},
		{name: "large", total: "10000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total := decimal.RequireFromString(tt.total)
			for i := 0; i < 50; i++ {
				amounts := SplitAmount(total, rng)
				if tt.want != nil {
					if assert.Len(t, amounts, len(tt.want)) {
						for j, w := range tt.want {
							assert.Equal(t, w, amounts[j].String())
						}
					}
					continue
				}

				sum := decimal.Zero
				for j, a := range amounts {
					assert.True(t, a.IsPositive(), "amount %s", a)
					sum = sum.Add(a)
					if j < len(amounts)-1 {
						assert.True(t, allowed[a.String()], "chunk %s", a)
					}
				}
				assert.True(t, sum.Equal(total), "sum %s != %s", sum, total)
				if n := len(amounts); n > 1 {
					last := amounts[n-1]
					assert.True(t, allowed[last.String()] || last.LessThan(ten), "last %s", last)
				}
			}
		})
	}
}

func TestSplitAmount_nilRand(t *testing.T) {
	assert.Panics(t, func() { SplitAmount(decimal.NewFromInt(10), nil) })
}

type fixedAssigner []Founder

func (fa fixedAssigner) Assign(_ context.Context, n int) ([]Founder, error) {
	return fa, nil
}

func TestFactory_Build(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	cs := Founder{ID: null.StringFrom("cs-1"), Name: "Alice CS"}
	f := NewFactory(fixedAssigner{cs}, rand.New(rand.NewSource(1)))
	ctx := context.Background()

	tasks, err := f.Build(ctx, BatchRequest{Amount: decimal.NewFromInt(60), StudentID: "s1", Expiry: 24 * time.Hour})
	if assert.NoError(t, err) && assert.NotEmpty(t, tasks) {
		assert.True(t, Total(tasks).Equal(decimal.NewFromInt(60)))
		for _, tk := range tasks {
			assert.Equal(t, StatusOpen, tk.Status)
			assert.True(t, tk.IsVirtual)
			assert.False(t, tk.IsBonusPool)
			assert.Equal(t, "s1", tk.TargetStudentID.String)
			assert.Equal(t, cs.Name, tk.Founder)
			assert.Equal(t, now.Add(24*time.Hour), tk.EndDate)
			assert.Len(t, tk.OrderNumber, orderNumberLength)
			assert.NotEmpty(t, tk.Summary)
		}
	}

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tasks, err = f.Build(ctx, BatchRequest{Amount: decimal.NewFromInt(20), Bonus: true, BonusPoolDate: day, Expiry: time.Hour})
	if assert.NoError(t, err) && assert.NotEmpty(t, tasks) {
		for _, tk := range tasks {
			assert.True(t, tk.IsBonusPool)
			assert.False(t, tk.TargetStudentID.Valid)
			assert.Equal(t, FounderBonusPool, tk.Founder)
			assert.True(t, tk.BonusPoolDate.Time.Equal(day))
		}
	}

	tasks, err = f.Build(ctx, BatchRequest{Amount: decimal.Zero, StudentID: "s1"})
	assert.NoError(t, err)
	assert.Empty(t, tasks)

	// no assigner: the system publishes
	tasks, err = NewFactory(nil, nil).Build(ctx, BatchRequest{Amount: decimal.NewFromInt(5), StudentID: "s1"})
	if assert.NoError(t, err) && assert.Len(t, tasks, 1) {
		assert.Equal(t, FounderSystem, tasks[0].Founder)
	}
}
