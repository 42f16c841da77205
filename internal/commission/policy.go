// Package commission 佣金策略：纯函数，不读全局配置也不访问数据库。
//
// 费率解析顺序：
//  1. 类目专属费率
//  2. 按卖家近30天销售额匹配阶梯
//  3. 全局默认费率
//
// 佣金 = round(gross * rate / 100)，四舍五入到分（half-up），净额 = gross - 佣金。
package commission

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	SourceCategory = "category"
	SourceTier     = "tier"
	SourceDefault  = "default"
)

var (
	ErrNegativeGross = errors.New("金额不能为负")
	ErrInvalidRate   = errors.New("佣金费率必须在 0-100 之间")

	hundred = decimal.NewFromInt(100)
)

// FallbackRate 配置无法加载时使用的兜底费率（%）
var FallbackRate = decimal.NewFromInt(15)

type Tier struct {
	Name      string
	MinVolume int64 // 近30天销售额下限（分）
	Rate      decimal.Decimal
}

// Settings 一次计算所用的配置快照
type Settings struct {
	Version       int64
	DefaultRate   decimal.Decimal
	CategoryRates map[string]decimal.Decimal
	Tiers         []Tier
}

// DefaultSettings 默认阶梯：$0/$10k/$50k/$100k 对应 15%/12%/10%/8%
func DefaultSettings() Settings {
	return Settings{
		DefaultRate:   FallbackRate,
		CategoryRates: map[string]decimal.Decimal{},
		Tiers: []Tier{
			{Name: "bronze", MinVolume: 0, Rate: decimal.NewFromInt(15)},
			{Name: "silver", MinVolume: 1_000_000, Rate: decimal.NewFromInt(12)},
			{Name: "gold", MinVolume: 5_000_000, Rate: decimal.NewFromInt(10)},
			{Name: "platinum", MinVolume: 10_000_000, Rate: decimal.NewFromInt(8)},
		},
	}
}

// Validate 检查快照是否可用于计算
func (s Settings) Validate() error {
	if !validRate(s.DefaultRate) {
		return fmt.Errorf("default rate %s: %w", s.DefaultRate, ErrInvalidRate)
	}
	for category, rate := range s.CategoryRates {
		if !validRate(rate) {
			return fmt.Errorf("category %s rate %s: %w", category, rate, ErrInvalidRate)
		}
	}
	for i, t := range s.Tiers {
		if !validRate(t.Rate) {
			return fmt.Errorf("tier %s rate %s: %w", t.Name, t.Rate, ErrInvalidRate)
		}
		if t.MinVolume < 0 {
			return fmt.Errorf("tier %s: 销售额下限不能为负", t.Name)
		}
		if i > 0 && t.MinVolume <= s.Tiers[i-1].MinVolume {
			return fmt.Errorf("tier %s: 销售额下限必须递增", t.Name)
		}
	}
	return nil
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(hundred)
}

// Result 费率解析结果
type Result struct {
	Rate             decimal.Decimal
	Source           string
	Tier             string
	CommissionAmount int64
	NetAmount        int64
}

// Resolve 解析费率并拆分金额
func Resolve(s Settings, categoryID string, trailingVolume int64, grossAmount int64) (Result, error) {
	if grossAmount < 0 {
		return Result{}, ErrNegativeGross
	}

	rate, source, tier := ResolveRate(s, categoryID, trailingVolume)
	commissionAmount, netAmount, err := Split(grossAmount, rate)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Rate:             rate,
		Source:           source,
		Tier:             tier,
		CommissionAmount: commissionAmount,
		NetAmount:        netAmount,
	}, nil
}

// ResolveRate 只解析费率
func ResolveRate(s Settings, categoryID string, trailingVolume int64) (rate decimal.Decimal, source string, tier string) {
	if categoryID != "" {
		if r, ok := s.CategoryRates[categoryID]; ok {
			return r, SourceCategory, ""
		}
	}

	if t, ok := SelectTier(s.Tiers, trailingVolume); ok {
		return t.Rate, SourceTier, t.Name
	}

	return s.DefaultRate, SourceDefault, ""
}

// SelectTier 选出下限不超过销售额的最高阶梯
func SelectTier(tiers []Tier, volume int64) (Tier, bool) {
	if len(tiers) == 0 {
		return Tier{}, false
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinVolume < sorted[j].MinVolume })

	var (
		selected Tier
		found    bool
	)
	for _, t := range sorted {
		if volume >= t.MinVolume {
			selected = t
			found = true
		}
	}
	return selected, found
}

// Split 按费率拆分金额，佣金 half-up 取整到分
func Split(grossAmount int64, rate decimal.Decimal) (commissionAmount int64, netAmount int64, err error) {
	if grossAmount < 0 {
		return 0, 0, ErrNegativeGross
	}
	if !validRate(rate) {
		return 0, 0, ErrInvalidRate
	}

	commission := decimal.NewFromInt(grossAmount).Mul(rate).Div(hundred).Round(0)
	commissionAmount = commission.IntPart()
	return commissionAmount, grossAmount - commissionAmount, nil
}
