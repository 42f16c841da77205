package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettingsRequest() *UpdateSettingsRequest {
	return &UpdateSettingsRequest{
		DefaultRate:   "15",
		CategoryRates: map[string]string{"books": "12.5"},
		Tiers: []TierRequest{
			{Name: "bronze", MinVolume: 0, Rate: "15"},
			{Name: "gold", MinVolume: 5_000_000, Rate: "10"},
		},
		HoldingPeriodDays:    14,
		MinimumPayoutAmount:  2000,
		MaximumPayoutAmount:  500_000,
		AutoApproveThreshold: 10_000,
		PayoutMethods:        []string{"paypal"},
	}
}

func TestSettingsDefaultsFromConfig(t *testing.T) {
	e := newTestEnv(t)

	snap, err := e.settings.Snapshot(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Version)
	assert.True(t, snap.Commission.DefaultRate.Equal(decimal.NewFromInt(15)))
	assert.Len(t, snap.Commission.Tiers, 4)
	assert.Equal(t, 7, snap.Payout.HoldingPeriodDays)
	assert.Equal(t, int64(1000), snap.Payout.MinimumPayoutAmount)
	assert.True(t, snap.Payout.MethodAllowed("wallet"))
	assert.False(t, snap.Payout.ShouldAutoApprove(1))
}

func TestSettingsUpdateCreatesVersions(t *testing.T) {
	e := newTestEnv(t)

	first, err := e.settings.Update(e.ctx, validSettingsRequest(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	req := validSettingsRequest()
	req.DefaultRate = "18"
	second, err := e.settings.Update(e.ctx, req, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)

	snap, err := e.settings.Snapshot(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.True(t, snap.Commission.DefaultRate.Equal(decimal.NewFromInt(18)))
	assert.True(t, snap.Commission.CategoryRates["books"].Equal(decimal.RequireFromString("12.5")))
	require.Len(t, snap.Commission.Tiers, 2)
	assert.Equal(t, "gold", snap.Commission.Tiers[1].Name)
	assert.Equal(t, 14, snap.Payout.HoldingPeriodDays)
	assert.True(t, snap.Payout.ShouldAutoApprove(10_000))
	assert.False(t, snap.Payout.ShouldAutoApprove(10_001))
	assert.False(t, snap.Payout.MethodAllowed("wallet"))

	view := snap.View()
	assert.Equal(t, "18", view.DefaultRate)
	assert.Equal(t, "12.5", view.CategoryRates["books"])
}

func TestSettingsUpdateValidation(t *testing.T) {
	e := newTestEnv(t)

	cases := []struct {
		name   string
		mutate func(r *UpdateSettingsRequest)
	}{
		{"rate above 100", func(r *UpdateSettingsRequest) { r.DefaultRate = "120" }},
		{"rate not a number", func(r *UpdateSettingsRequest) { r.DefaultRate = "abc" }},
		{"negative category rate", func(r *UpdateSettingsRequest) { r.CategoryRates["toys"] = "-1" }},
		{"tiers not ascending", func(r *UpdateSettingsRequest) { r.Tiers[1].MinVolume = 0 }},
		{"zero minimum", func(r *UpdateSettingsRequest) { r.MinimumPayoutAmount = 0 }},
		{"max below min", func(r *UpdateSettingsRequest) { r.MaximumPayoutAmount = 1000 }},
		{"negative holding", func(r *UpdateSettingsRequest) { r.HoldingPeriodDays = -1 }},
		{"negative threshold", func(r *UpdateSettingsRequest) { r.AutoApproveThreshold = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validSettingsRequest()
			tc.mutate(req)
			_, err := e.settings.Update(e.ctx, req, "admin-1")
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}

	snap, err := e.settings.Snapshot(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Version, "rejected updates must not create versions")
}

func TestSettingsFallback(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.Settlement.HoldingPeriodDays = 0

	snap := e.settings.Fallback()
	assert.True(t, snap.Commission.DefaultRate.Equal(decimal.NewFromInt(15)))
	assert.Empty(t, snap.Commission.Tiers)
	assert.Equal(t, 7, snap.Payout.HoldingPeriodDays)
}
