package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventAndAuditPath_PartitionByYearMonth(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, filepath.Join("data", "event_logs", "2026-03.parquet"), eventPath("data", at))
	assert.Equal(t, filepath.Join("data", "audit_logs", "2026-03.parquet"), auditPath("data", at))
}

func TestMergeEventRecords_DedupesByIDPreferringIncomingAndSortsByID(t *testing.T) {
	existing := []EventLogRecord{
		{ID: 1, Message: "stale"},
		{ID: 3, Message: "untouched"},
	}
	incoming := []EventLogRecord{
		{ID: 1, Message: "fresh"},
		{ID: 2, Message: "new"},
	}

	merged := mergeEventRecords(existing, incoming)

	require.Len(t, merged, 3)
	assert.Equal(t, uint(1), merged[0].ID)
	assert.Equal(t, "fresh", merged[0].Message)
	assert.Equal(t, uint(2), merged[1].ID)
	assert.Equal(t, uint(3), merged[2].ID)
}

func TestMergeAuditRecords_DedupesByIDPreferringIncomingAndSortsByID(t *testing.T) {
	existing := []AuditLogRecord{{ID: 5, Outcome: "stale"}}
	incoming := []AuditLogRecord{{ID: 5, Outcome: "fresh"}, {ID: 2, Outcome: "new"}}

	merged := mergeAuditRecords(existing, incoming)

	require.Len(t, merged, 2)
	assert.Equal(t, uint(2), merged[0].ID)
	assert.Equal(t, uint(5), merged[1].ID)
	assert.Equal(t, "fresh", merged[1].Outcome)
}

func TestWriteThenReadParquetFile_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.parquet")
	records := []EventLogRecord{
		{ID: 1, EventType: "ITEM_TRANSITION", Level: "info", Message: "ready -> entry_sent", CreatedAt: 1700000000000},
		{ID: 2, EventType: "ITEM_TRANSITION", Level: "info", Message: "entry_sent -> entry_filled", CreatedAt: 1700000001000},
	}

	require.NoError(t, writeParquetFile(path, records))

	got, err := readParquetFile[EventLogRecord](path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, records[0].Message, got[0].Message)
	assert.Equal(t, records[1].ID, got[1].ID)
}
