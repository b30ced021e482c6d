package pricecache

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestUpdateStampsAndStores(t *testing.T) {
	c := New()
	_, ok := c.Get("BTCUSDT")
	assert.False(t, ok)

	c.Update("BTCUSDT", Quote{Bid: decimal.NewFromInt(96790), Ask: decimal.NewFromInt(96810)})
	q, ok := c.Get("BTCUSDT")
	assert.True(t, ok)
	assert.False(t, q.UpdatedAt.IsZero())
	assert.True(t, q.Mid().Equal(decimal.NewFromInt(96800)))
}

func TestMidIsZeroWhenOneSidedBook(t *testing.T) {
	q := Quote{Bid: decimal.NewFromInt(100)}
	assert.True(t, q.Mid().IsZero(), "no midpoint without both sides")
}

func TestLatestUpdateWins(t *testing.T) {
	c := New()
	c.Update("ETHUSDT", Quote{Mark: decimal.NewFromInt(3400)})
	c.Update("ETHUSDT", Quote{Mark: decimal.NewFromInt(3500)})
	q, _ := c.Get("ETHUSDT")
	assert.True(t, q.Mark.Equal(decimal.NewFromInt(3500)))
}
