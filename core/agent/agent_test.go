package agent_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/agent"
	"github.com/trezcool/taskpool/core/settings"
	testutil "github.com/trezcool/taskpool/tests"
)

func TestNormalizeRate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0", "0"},
		{"0.6", "0.6"},
		{"1", "1"},
		{"60", "0.6"},
		{"100", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := agent.NormalizeRate(testutil.Dec(tt.in))
			assert.True(t, got.Equal(testutil.Dec(tt.want)), "got %s", got)
		})
	}
}

func TestNewAgent_Validate(t *testing.T) {
	env := testutil.NewEnv(t)

	tests := []struct {
		name      string
		na        agent.NewAgent
		wantField string
	}{
		{"name required", agent.NewAgent{Name: "  "}, "name"},
		{"bad status", agent.NewAgent{Name: "Acme", Status: "lol"}, "status"},
		{"negative rate", agent.NewAgent{Name: "Acme", RebateRate: testutil.Dec("-1")}, "rebate_rate"},
		{"rate too high", agent.NewAgent{Name: "Acme", RebateRate: testutil.Dec("101")}, "rebate_rate"},
		{"ok", agent.NewAgent{Name: " Acme ", RebateRate: testutil.Dec("60")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.na.Validate(env.Svcs.Validate)
			if tt.wantField == "" {
				assert.NoError(t, err)
				assert.Equal(t, "Acme", tt.na.Name)
				return
			}
			var verrs validator.ValidationErrors
			require.True(t, errors.As(err, &verrs), "err = %v", err)
			assert.Equal(t, tt.wantField, verrs[0].Field())
		})
	}
}

func TestService(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	svc := env.Svcs.Agents

	pending, err := svc.Create(ctx, agent.NewAgent{Name: "Pending"})
	require.NoError(t, err)
	assert.Equal(t, agent.StatusPending, pending.Status)
	assert.NotEmpty(t, pending.ID)

	normal, err := svc.Create(ctx, agent.NewAgent{Name: "Normal", Status: agent.StatusNormal, RebateRate: testutil.Dec("75")})
	require.NoError(t, err)
	assert.True(t, normal.RebateRate.Equal(testutil.Dec("0.75")))

	disabled, err := svc.Create(ctx, agent.NewAgent{Name: "Disabled", Status: agent.StatusDisabled})
	require.NoError(t, err)

	t.Run("CheckLogin", func(t *testing.T) {
		tests := []struct {
			name    string
			agentID null.String
			wantErr error
		}{
			{"no agent", null.String{}, nil},
			{"unknown agent", null.StringFrom("lol"), nil},
			{"pending", null.StringFrom(pending.ID), agent.ErrPending},
			{"normal", null.StringFrom(normal.ID), nil},
			{"disabled", null.StringFrom(disabled.ID), agent.ErrDisabled},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.wantErr, svc.CheckLogin(ctx, tt.agentID))
			})
		}
		assert.Equal(t, http.StatusBadRequest, agent.ErrPending.Code)
		assert.Equal(t, http.StatusForbidden, agent.ErrDisabled.Code)
	})

	t.Run("RebateRate", func(t *testing.T) {
		tests := []struct {
			name    string
			agentID null.String
			want    string
		}{
			{"fallback without agent", null.String{}, "0.6"},
			{"fallback on unknown agent", null.StringFrom("lol"), "0.6"},
			{"fallback on zero rate", null.StringFrom(pending.ID), "0.6"},
			{"agent rate", null.StringFrom(normal.ID), "0.75"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rate, err := svc.RebateRate(ctx, tt.agentID)
				require.NoError(t, err)
				assert.True(t, rate.Equal(testutil.Dec(tt.want)), "got %s", rate)
			})
		}

		_, err := env.Svcs.Settings.Set(ctx, settings.KeyDefaultRebateRate, settings.UpdateSetting{Value: "0.5"})
		require.NoError(t, err)
		rate, err := svc.RebateRate(ctx, null.String{})
		require.NoError(t, err)
		assert.True(t, rate.Equal(decimal.NewFromFloat(0.5)))
	})

	t.Run("Update", func(t *testing.T) {
		rate := testutil.Dec("0.4")
		a, err := svc.Update(ctx, pending, agent.UpdateAgent{Status: agent.StatusNormal, RebateRate: &rate})
		require.NoError(t, err)
		assert.Equal(t, "Pending", a.Name)
		assert.Equal(t, agent.StatusNormal, a.Status)
		assert.NoError(t, svc.CheckLogin(ctx, null.StringFrom(a.ID)))
	})

	t.Run("Query", func(t *testing.T) {
		agents, total, err := svc.Query(ctx, agent.QueryFilter{Status: agent.StatusNormal}, core.Page{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, agents, 2)

		agents, total, err = svc.Query(ctx, agent.QueryFilter{Search: " disab "}, core.Page{Page: 1, Size: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, agents, 1)
		assert.Equal(t, disabled.ID, agents[0].ID)

		_, err = svc.Get(ctx, "lol")
		assert.Equal(t, agent.ErrNotFound, errors.Cause(err))
	})
}
