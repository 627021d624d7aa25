package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsBusinessDay(t *testing.T) {
	holidays := USMarketHolidays(2026)

	saturday := time.Date(2026, time.March, 7, 10, 0, 0, 0, time.UTC)
	assert.False(t, IsBusinessDay(saturday, holidays))

	christmas := time.Date(2026, time.December, 25, 10, 0, 0, 0, time.UTC)
	assert.False(t, IsBusinessDay(christmas, holidays))

	regular := time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC)
	assert.True(t, IsBusinessDay(regular, holidays))
}

func TestAtWallClock(t *testing.T) {
	before := time.Date(2026, time.March, 9, 14, 29, 0, 0, time.UTC)
	at := time.Date(2026, time.March, 9, 14, 30, 0, 0, time.UTC)
	after := time.Date(2026, time.March, 9, 15, 0, 0, 0, time.UTC)

	assert.False(t, AtWallClock(before, "14:30"))
	assert.True(t, AtWallClock(at, "14:30"))
	assert.True(t, AtWallClock(after, "14:30"))
}
