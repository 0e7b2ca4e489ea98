package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDateOf(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)

	// 20:00 UTC is already the next day in Shanghai
	instant := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), DateOf(instant, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), DateOf(instant, shanghai))
	assert.Equal(t, DateOf(instant, time.UTC), DateOf(instant, nil))

	start, end := DayRange(DateOf(instant, shanghai), shanghai)
	assert.True(t, start.Equal(time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.True(t, !instant.Before(start) && instant.Before(end))

	assert.True(t, SameDay(instant, instant.Add(3*time.Hour), time.UTC))
	assert.False(t, SameDay(instant, instant.Add(5*time.Hour), time.UTC))
}

func TestPage(t *testing.T) {
	tests := []struct {
		name       string
		page       Page
		wantOffset int
		wantLimit  int
	}{
		{name: "zero", page: Page{}, wantOffset: 0, wantLimit: DefaultPageSize},
		{name: "second", page: Page{Page: 2, Size: 10}, wantOffset: 10, wantLimit: 10},
		{name: "too big", page: Page{Page: 3, Size: 1000}, wantOffset: 200, wantLimit: MaxPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOffset, tt.page.Offset())
			assert.Equal(t, tt.wantLimit, tt.page.Limit())
		})
	}

	start, end := Paginate(25, &Page{Page: 2, Size: 10})
	assert.Equal(t, []int{10, 20}, []int{start, end})
	start, end = Paginate(25, &Page{Page: 4, Size: 10})
	assert.Equal(t, []int{25, 25}, []int{start, end})
	start, end = Paginate(25, nil)
	assert.Equal(t, []int{0, 25}, []int{start, end})
}

func TestMoney(t *testing.T) {
	d := decimal.RequireFromString
	assert.True(t, Sum(d("0.1"), d("0.2")).Equal(d("0.3")))
	assert.True(t, NonNegative(d("-1")).IsZero())
	assert.True(t, NonNegative(d("1.5")).Equal(d("1.5")))
	assert.True(t, Money(d("3.005")).Equal(d("3.01")))
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "Alice Doe", CleanString("  Alice Doe \n"))
	assert.Equal(t, "alice", CleanString(" ALICE ", true))
}
