package audit_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline-service/internal/audit"
	"jobmate/pipeline-service/internal/db"
)

func TestSQLite_Record(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer conn.Close()

	rec := audit.NewSQLite(conn)
	rec.Record(ctx, "u1", "application.status", "application:42", map[string]any{"to": "SUBMITTED"})
	rec.Record(ctx, "u1", "application.reorder", "applications", nil)

	rows, err := conn.QueryContext(ctx, `SELECT action, metadata FROM audit_logs ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var actions []string
	var first map[string]any
	for rows.Next() {
		var action, meta string
		require.NoError(t, rows.Scan(&action, &meta))
		if first == nil {
			require.NoError(t, json.Unmarshal([]byte(meta), &first))
		}
		actions = append(actions, action)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"application.status", "application.reorder"}, actions)
	assert.Equal(t, "SUBMITTED", first["to"])
}

func TestSQLite_RecordSwallowsFailures(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	conn.Close()

	assert.NotPanics(t, func() {
		audit.NewSQLite(conn).Record(ctx, "u1", "x", "y", nil)
	})
}
