package instance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ticket-ledger/internal/instance"
)

func TestSplitDefaultPolicy(t *testing.T) {
	policy := instance.FeePolicy{CommissionBps: 500, PlatformFeeBps: 200}

	// 100 units at 5% + 2%
	commission, platformFee, net := policy.Split(100)
	assert.Equal(t, int64(5), commission)
	assert.Equal(t, int64(2), platformFee)
	assert.Equal(t, int64(93), net)
}

func TestSplitSumsToPrice(t *testing.T) {
	policy := instance.FeePolicy{CommissionBps: 500, PlatformFeeBps: 200}

	// Rounding from the basis-point division must never create or destroy
	// money; the remainder stays with the seller.
	prices := []int64{1, 3, 7, 19, 99, 100, 101, 999, 1000, 12345, 9999999}
	for _, price := range prices {
		commission, platformFee, net := policy.Split(price)
		assert.Equal(t, price, commission+platformFee+net, "price %d", price)
		assert.GreaterOrEqual(t, commission, int64(0))
		assert.GreaterOrEqual(t, platformFee, int64(0))
		assert.GreaterOrEqual(t, net, int64(0))
	}
}

func TestSplitTruncatesTowardSeller(t *testing.T) {
	policy := instance.FeePolicy{CommissionBps: 500, PlatformFeeBps: 200}

	// 99 * 5% = 4.95 truncates to 4, 99 * 2% = 1.98 truncates to 1.
	commission, platformFee, net := policy.Split(99)
	assert.Equal(t, int64(4), commission)
	assert.Equal(t, int64(1), platformFee)
	assert.Equal(t, int64(94), net)
}

func TestSplitZeroPolicy(t *testing.T) {
	policy := instance.FeePolicy{}

	commission, platformFee, net := policy.Split(500)
	assert.Equal(t, int64(0), commission)
	assert.Equal(t, int64(0), platformFee)
	assert.Equal(t, int64(500), net)
}

func TestSplitEachResaleIndependent(t *testing.T) {
	policy := instance.FeePolicy{CommissionBps: 500, PlatformFeeBps: 200}

	// A chain of resales computes fees from each listing price alone; the
	// second sale at 200 owes 10 + 4 regardless of the first sale at 100.
	c1, f1, _ := policy.Split(100)
	c2, f2, n2 := policy.Split(200)
	assert.Equal(t, int64(5), c1)
	assert.Equal(t, int64(2), f1)
	assert.Equal(t, int64(10), c2)
	assert.Equal(t, int64(4), f2)
	assert.Equal(t, int64(186), n2)
}
