package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrInsufficientEscrow    = errors.New("托管余额不足")
	ErrInsufficientPending   = errors.New("待结算余额不足")
	ErrInsufficientAvailable = errors.New("可提现余额不足")
	ErrBalanceNotFound       = errors.New("卖家账户不存在")
	ErrOrderNotFound         = errors.New("订单不存在")
	ErrSubOrderNotFound      = errors.New("子订单不存在")
	ErrEarningNotFound       = errors.New("收益记录不存在")
	ErrPayoutNotFound        = errors.New("提现申请不存在")
	ErrReconNotFound         = errors.New("对账记录不存在")
	ErrSettingsNotFound      = errors.New("结算配置不存在")
	ErrStatusConflict        = errors.New("状态已被修改")
	ErrConcurrentUpdate      = errors.New("并发更新冲突，请重试")
)

// IsDuplicateKey 判断唯一键冲突（gorm 开启 TranslateError 后返回 ErrDuplicatedKey）
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

func pick(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}
