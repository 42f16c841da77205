package model

func canTransition(table map[string][]string, currentStatus, targetStatus string) bool {
	allowedStatuses, exists := table[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// AllModels 需要自动迁移的表
func AllModels() []interface{} {
	return []interface{}{
		&Order{},
		&OrderItem{},
		&Product{},
		&SubOrder{},
		&Earning{},
		&SellerBalance{},
		&BalanceEntry{},
		&PayoutRequest{},
		&SettlementSettings{},
		&ReconciliationItem{},
		&OutboxMessage{},
	}
}
