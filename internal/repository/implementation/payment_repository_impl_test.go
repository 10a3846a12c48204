package implementation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeMonthly(t *testing.T) {
	jan := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	feb := jan.AddDate(0, 1, 0)

	out := mergeMonthly(
		[]monthlyTotal{{Month: feb, Total: decimal.NewFromInt(30000), Count: 1}, {Month: jan, Total: decimal.NewFromInt(45000), Count: 2}},
		[]monthlyTotal{{Month: feb, Total: decimal.NewFromInt(10000), Count: 1}},
	)
	require.Len(t, out, 2)
	assert.Equal(t, jan, out[0].Month)
	assert.True(t, out[0].RefundTotal.IsZero())
	assert.Equal(t, 2, out[0].PaymentCount)
	assert.Equal(t, feb, out[1].Month)
	assert.True(t, decimal.NewFromInt(10000).Equal(out[1].RefundTotal))
	assert.Equal(t, 1, out[1].RefundCount)
}
