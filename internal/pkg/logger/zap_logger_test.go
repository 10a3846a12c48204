package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.log")
	l := NewIsolatedLogger(path)
	l.Info("RENEWAL", "Renewal sweep finished", map[string]interface{}{"renewed": 3})
	l.Warn("REFUND", "Refund outcome unknown", nil)
	l.Error("WEBHOOK", "Signature mismatch", map[string]interface{}{"error": "bad signature"})
	l.Debug("RENEWAL", "below the file level", nil)
	require.NoError(t, l.Sync())

	tests := []struct {
		name     string
		filter   LogFilter
		messages []string
	}{
		{"newest first", LogFilter{}, []string{"Signature mismatch", "Refund outcome unknown", "Renewal sweep finished"}},
		{"level is case-insensitive", LogFilter{Level: "warn"}, []string{"Refund outcome unknown"}},
		{"module", LogFilter{Module: "RENEWAL"}, []string{"Renewal sweep finished"}},
		{"paged", LogFilter{Limit: 1, Offset: 1}, []string{"Refund outcome unknown"}},
		{"offset past the end", LogFilter{Offset: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.GetLogs(tt.filter)
			require.NoError(t, err)
			var messages []string
			for _, e := range entries {
				messages = append(messages, e.Message)
				assert.NotEmpty(t, e.Id)
			}
			assert.Equal(t, tt.messages, messages)
		})
	}

	entries, err := l.GetLogs(LogFilter{Module: "RENEWAL"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0].Details["renewed"])
}

func TestGetLogsWithoutFile(t *testing.T) {
	entries, err := NewNopLogger().GetLogs(LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = NewIsolatedLogger(filepath.Join(t.TempDir(), "missing.log")).GetLogs(LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
