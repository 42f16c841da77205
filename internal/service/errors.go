package service

import (
	"errors"
	"fmt"
	"strings"

	"settlement/internal/model"
	"settlement/internal/repository"
)

var (
	ErrSplitPartialFailure = errors.New("部分卖家拆单失败")
	ErrSystemBusy          = errors.New("系统繁忙，请稍后重试")
)

// ValidationError 入参不合法，在任何资金变动之前返回
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("参数错误: %s %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientFundsError 账本前置条件不满足，errors.Is 可匹配到 repository 的对应哨兵错误
type InsufficientFundsError struct {
	Bucket    string
	SellerID  string
	Requested int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s 余额不足: seller=%s, requested=%d, available=%d", e.Bucket, e.SellerID, e.Requested, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	switch e.Bucket {
	case model.BucketEscrow:
		return target == repository.ErrInsufficientEscrow
	case model.BucketPending:
		return target == repository.ErrInsufficientPending
	case model.BucketAvailable:
		return target == repository.ErrInsufficientAvailable
	}
	return false
}

// InvalidPayoutStateError 提现单状态不允许本次操作
type InvalidPayoutStateError struct {
	PayoutNo string
	Current  string
	Target   string
}

func (e *InvalidPayoutStateError) Error() string {
	return fmt.Sprintf("提现单 %s 当前状态为 %s，不能变更为 %s", e.PayoutNo, e.Current, e.Target)
}

// InvalidFulfillmentStateError 子订单履约状态不允许跳转
type InvalidFulfillmentStateError struct {
	SubOrderID int64
	Current    string
	Target     string
}

func (e *InvalidFulfillmentStateError) Error() string {
	return fmt.Sprintf("子订单 %d 当前状态为 %s，不能变更为 %s", e.SubOrderID, e.Current, e.Target)
}

// SplitFailure 某个卖家分组拆单失败的原因
type SplitFailure struct {
	SellerID string `json:"seller_id"`
	Reason   string `json:"reason"`
}

type SplitPartialFailureError struct {
	OrderID  string
	Failures []SplitFailure
}

func (e *SplitPartialFailureError) Error() string {
	sellers := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		sellers = append(sellers, f.SellerID)
	}
	return fmt.Sprintf("订单 %s 拆单部分失败, sellers=[%s]", e.OrderID, strings.Join(sellers, ","))
}

func (e *SplitPartialFailureError) Is(target error) bool {
	return target == ErrSplitPartialFailure
}
