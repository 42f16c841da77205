package service

import (
	"context"
	"errors"
	"fmt"

	"settlement/internal/commission"
	"settlement/internal/config"
	"settlement/internal/model"
	"settlement/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PayoutSettings struct {
	HoldingPeriodDays    int      `json:"holding_period_days"`
	MinimumPayoutAmount  int64    `json:"minimum_payout_amount"`
	MaximumPayoutAmount  int64    `json:"maximum_payout_amount"`
	AutoApproveThreshold int64    `json:"auto_approve_threshold"`
	PayoutMethods        []string `json:"payout_methods"`
}

// ShouldAutoApprove 阈值为 0 表示关闭自动审批
func (p PayoutSettings) ShouldAutoApprove(amount int64) bool {
	return p.AutoApproveThreshold > 0 && amount <= p.AutoApproveThreshold
}

func (p PayoutSettings) MethodAllowed(method string) bool {
	if len(p.PayoutMethods) == 0 {
		return true
	}
	for _, m := range p.PayoutMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Snapshot 一次业务操作使用的配置快照，计算过程中不再读取配置
type Snapshot struct {
	Version    int64               `json:"version"`
	Commission commission.Settings `json:"-"`
	Payout     PayoutSettings      `json:"payout"`
}

type SettingsService struct {
	settingsRepo *repository.SettingsRepository
	cfg          *config.SettlementConfig
}

func NewSettingsService(db *gorm.DB, cfg *config.SettlementConfig) *SettingsService {
	return &SettingsService{
		settingsRepo: repository.NewSettingsRepository(db),
		cfg:          cfg,
	}
}

// Snapshot 返回最新配置版本，库里没有任何版本时使用配置文件中的初始值
func (s *SettingsService) Snapshot(ctx context.Context) (*Snapshot, error) {
	row, err := s.settingsRepo.GetLatest(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrSettingsNotFound) {
			return s.Defaults()
		}
		return nil, fmt.Errorf("加载结算配置失败: %w", err)
	}
	return fromRow(row), nil
}

// Defaults 配置文件中的初始值
func (s *SettingsService) Defaults() (*Snapshot, error) {
	req := &UpdateSettingsRequest{
		DefaultRate:          s.cfg.DefaultCommissionRate,
		CategoryRates:        s.cfg.CategoryRates,
		HoldingPeriodDays:    s.cfg.HoldingPeriodDays,
		MinimumPayoutAmount:  s.cfg.MinimumPayoutAmount,
		MaximumPayoutAmount:  s.cfg.MaximumPayoutAmount,
		AutoApproveThreshold: s.cfg.AutoApproveThreshold,
		PayoutMethods:        s.cfg.PayoutMethods,
	}
	for _, t := range s.cfg.Tiers {
		req.Tiers = append(req.Tiers, TierRequest{Name: t.Name, MinVolume: t.MinVolume, Rate: t.Rate})
	}
	return req.toSnapshot()
}

// Fallback 配置无法加载时使用：只有兜底费率，提现参数取配置文件
func (s *SettingsService) Fallback() *Snapshot {
	snap := &Snapshot{
		Commission: commission.Settings{
			DefaultRate:   commission.FallbackRate,
			CategoryRates: map[string]decimal.Decimal{},
		},
		Payout: PayoutSettings{
			HoldingPeriodDays:    s.cfg.HoldingPeriodDays,
			MinimumPayoutAmount:  s.cfg.MinimumPayoutAmount,
			MaximumPayoutAmount:  s.cfg.MaximumPayoutAmount,
			AutoApproveThreshold: s.cfg.AutoApproveThreshold,
			PayoutMethods:        s.cfg.PayoutMethods,
		},
	}
	if snap.Payout.HoldingPeriodDays <= 0 {
		snap.Payout.HoldingPeriodDays = 7
	}
	return snap
}

type TierRequest struct {
	Name      string `json:"name" binding:"required"`
	MinVolume int64  `json:"min_volume"`
	Rate      string `json:"rate" binding:"required"`
}

type UpdateSettingsRequest struct {
	DefaultRate          string            `json:"default_rate" binding:"required"`
	CategoryRates        map[string]string `json:"category_rates"`
	Tiers                []TierRequest     `json:"tiers"`
	HoldingPeriodDays    int               `json:"holding_period_days"`
	MinimumPayoutAmount  int64             `json:"minimum_payout_amount"`
	MaximumPayoutAmount  int64             `json:"maximum_payout_amount"`
	AutoApproveThreshold int64             `json:"auto_approve_threshold"`
	PayoutMethods        []string          `json:"payout_methods"`
}

func parseRate(field, raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, newValidationError(field, "不是合法的费率")
	}
	return rate, nil
}

func (r *UpdateSettingsRequest) toSnapshot() (*Snapshot, error) {
	defaultRate, err := parseRate("default_rate", r.DefaultRate)
	if err != nil {
		return nil, err
	}

	settings := commission.Settings{
		DefaultRate:   defaultRate,
		CategoryRates: make(map[string]decimal.Decimal, len(r.CategoryRates)),
	}
	for category, raw := range r.CategoryRates {
		rate, err := parseRate("category_rates."+category, raw)
		if err != nil {
			return nil, err
		}
		settings.CategoryRates[category] = rate
	}
	for i, t := range r.Tiers {
		rate, err := parseRate(fmt.Sprintf("tiers[%d].rate", i), t.Rate)
		if err != nil {
			return nil, err
		}
		settings.Tiers = append(settings.Tiers, commission.Tier{Name: t.Name, MinVolume: t.MinVolume, Rate: rate})
	}
	if err := settings.Validate(); err != nil {
		return nil, newValidationError("commission", err.Error())
	}

	payout := PayoutSettings{
		HoldingPeriodDays:    r.HoldingPeriodDays,
		MinimumPayoutAmount:  r.MinimumPayoutAmount,
		MaximumPayoutAmount:  r.MaximumPayoutAmount,
		AutoApproveThreshold: r.AutoApproveThreshold,
		PayoutMethods:        r.PayoutMethods,
	}
	switch {
	case payout.HoldingPeriodDays < 0:
		return nil, newValidationError("holding_period_days", "不能为负")
	case payout.MinimumPayoutAmount <= 0:
		return nil, newValidationError("minimum_payout_amount", "必须大于0")
	case payout.MaximumPayoutAmount < payout.MinimumPayoutAmount:
		return nil, newValidationError("maximum_payout_amount", "不能小于最低提现金额")
	case payout.AutoApproveThreshold < 0:
		return nil, newValidationError("auto_approve_threshold", "不能为负")
	}

	return &Snapshot{Commission: settings, Payout: payout}, nil
}

// Update 校验后插入新版本，旧版本保留
func (s *SettingsService) Update(ctx context.Context, req *UpdateSettingsRequest, updatedBy string) (*Snapshot, error) {
	snap, err := req.toSnapshot()
	if err != nil {
		return nil, err
	}

	row := &model.SettlementSettings{
		DefaultRate:          snap.Commission.DefaultRate,
		CategoryRates:        snap.Commission.CategoryRates,
		HoldingPeriodDays:    snap.Payout.HoldingPeriodDays,
		MinimumPayoutAmount:  snap.Payout.MinimumPayoutAmount,
		MaximumPayoutAmount:  snap.Payout.MaximumPayoutAmount,
		AutoApproveThreshold: snap.Payout.AutoApproveThreshold,
		PayoutMethods:        snap.Payout.PayoutMethods,
		UpdatedBy:            updatedBy,
	}
	for _, t := range snap.Commission.Tiers {
		row.Tiers = append(row.Tiers, model.TierSetting{Name: t.Name, MinVolume: t.MinVolume, Rate: t.Rate})
	}

	if err := s.settingsRepo.CreateNextVersion(ctx, row); err != nil {
		return nil, fmt.Errorf("保存结算配置失败: %w", err)
	}

	snap.Version = row.Version
	snap.Commission.Version = row.Version
	logrus.WithFields(logrus.Fields{
		"component":  "settings",
		"version":    row.Version,
		"updated_by": updatedBy,
	}).Info("结算配置已更新")
	return snap, nil
}

func fromRow(row *model.SettlementSettings) *Snapshot {
	settings := commission.Settings{
		Version:       row.Version,
		DefaultRate:   row.DefaultRate,
		CategoryRates: row.CategoryRates,
	}
	if settings.CategoryRates == nil {
		settings.CategoryRates = map[string]decimal.Decimal{}
	}
	for _, t := range row.Tiers {
		settings.Tiers = append(settings.Tiers, commission.Tier{Name: t.Name, MinVolume: t.MinVolume, Rate: t.Rate})
	}

	return &Snapshot{
		Version:    row.Version,
		Commission: settings,
		Payout: PayoutSettings{
			HoldingPeriodDays:    row.HoldingPeriodDays,
			MinimumPayoutAmount:  row.MinimumPayoutAmount,
			MaximumPayoutAmount:  row.MaximumPayoutAmount,
			AutoApproveThreshold: row.AutoApproveThreshold,
			PayoutMethods:        row.PayoutMethods,
		},
	}
}

// SettingsView 管理端展示用
type SettingsView struct {
	Version              int64             `json:"version"`
	DefaultRate          string            `json:"default_rate"`
	CategoryRates        map[string]string `json:"category_rates"`
	Tiers                []TierRequest     `json:"tiers"`
	HoldingPeriodDays    int               `json:"holding_period_days"`
	MinimumPayoutAmount  int64             `json:"minimum_payout_amount"`
	MaximumPayoutAmount  int64             `json:"maximum_payout_amount"`
	AutoApproveThreshold int64             `json:"auto_approve_threshold"`
	PayoutMethods        []string          `json:"payout_methods"`
}

func (snap *Snapshot) View() *SettingsView {
	v := &SettingsView{
		Version:              snap.Version,
		DefaultRate:          snap.Commission.DefaultRate.String(),
		CategoryRates:        make(map[string]string, len(snap.Commission.CategoryRates)),
		HoldingPeriodDays:    snap.Payout.HoldingPeriodDays,
		MinimumPayoutAmount:  snap.Payout.MinimumPayoutAmount,
		MaximumPayoutAmount:  snap.Payout.MaximumPayoutAmount,
		AutoApproveThreshold: snap.Payout.AutoApproveThreshold,
		PayoutMethods:        snap.Payout.PayoutMethods,
	}
	for category, rate := range snap.Commission.CategoryRates {
		v.CategoryRates[category] = rate.String()
	}
	for _, t := range snap.Commission.Tiers {
		v.Tiers = append(v.Tiers, TierRequest{Name: t.Name, MinVolume: t.MinVolume, Rate: t.Rate.String()})
	}
	return v
}
