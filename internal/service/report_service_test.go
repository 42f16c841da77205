package service

import (
	"testing"

	"settlement/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportPayouts(t *testing.T) {
	e := newTestEnv(t)
	e.seedAvailable("seller-1", 3000)

	payout, err := e.payouts.RequestPayout(e.ctx, payoutInput("seller-1", 2000))
	require.NoError(t, err)

	data, err := e.reports.ExportPayouts(e.ctx, repository.PayoutFilter{SellerID: "seller-1"})
	require.NoError(t, err)

	rows, err := ReadSheet(data, "Payouts")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Payout No", rows[0][0])
	assert.Equal(t, payout.PayoutNo, rows[1][0])
	assert.Equal(t, "2000", rows[1][2])
	assert.Equal(t, "3000", rows[1][3])
	assert.Equal(t, "pending_approval", rows[1][5])
}

func TestExportSellerStatement(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.confirm("order-1", line("seller-1", "books", 6000, 1))
	require.NoError(t, err)
	_, err = e.confirm("order-2", line("seller-1", "books", 4000, 1))
	require.NoError(t, err)

	data, err := e.reports.ExportSellerStatement(e.ctx, "seller-1", nil, nil)
	require.NoError(t, err)

	rows, err := ReadSheet(data, "Earnings")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	total := rows[3]
	assert.Equal(t, "Total", total[0])
	assert.Equal(t, "10000", total[3])
	assert.Equal(t, "1500", total[5])
	assert.Equal(t, "8500", total[6])

	summary, err := ReadSheet(data, "Summary")
	require.NoError(t, err)
	require.Len(t, summary, 6)
	assert.Equal(t, []string{"Pending Balance", "8500"}, summary[1])

	_, err = e.reports.ExportSellerStatement(e.ctx, "", nil, nil)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
