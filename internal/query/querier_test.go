package query

import (
	"strings"
	"testing"
	"time"

	"SpectraIDS/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestWhere(t *testing.T) {
	clause, args := where(Filter{})
	assert.Empty(t, clause)
	assert.Empty(t, args)

	since := time.Unix(100, 0)
	clause, args = where(Filter{Since: since, Origin: "simulator", Label: "dos"})
	assert.Equal(t, " WHERE Timestamp >= ? AND Origin = ? AND Label = ?", clause)
	assert.Equal(t, []any{since, "simulator", "dos"}, args)
}

func TestSummaryQuery(t *testing.T) {
	sql, args := summaryQuery(Filter{Label: "probe"})
	assert.Contains(t, sql, "FROM detection_events WHERE Label = ?")
	assert.Contains(t, sql, "GROUP BY Label")
	assert.Equal(t, []any{"probe"}, args)
}

func TestRecentQuery_ClampsLimit(t *testing.T) {
	for _, limit := range []int{0, -3, maxRecent + 1} {
		sql, _ := recentQuery(Filter{}, limit)
		assert.True(t, strings.HasSuffix(strings.TrimSpace(sql), "LIMIT 1000"), sql)
	}
	sql, _ := recentQuery(Filter{}, 5)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(sql), "LIMIT 5"))
}

func TestNewClickHouseQuerier_Unreachable(t *testing.T) {
	q, err := NewClickHouseQuerier(config.ClickHouseConfig{Host: "127.0.0.1", Port: 1, Database: "default"})
	assert.Error(t, err)
	assert.Nil(t, q)
}
