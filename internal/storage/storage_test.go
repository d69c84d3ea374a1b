package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citycrawler/internal/config"
)

func openTestMirror(t *testing.T) *SQLMirror {
	t.Helper()
	cfg := config.SQLConfig{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "mirror.db"),
		Table:  "locations",
	}
	m, err := NewSQLMirror(context.Background(), cfg, "run-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func raw(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it))
	}
	return out
}

func TestSQLMirrorReplacesChildRows(t *testing.T) {
	ctx := context.Background()
	m := openTestMirror(t)

	require.NoError(t, m.WriteChild(ctx, "berlin", raw(`{"name":"X","url":"u1"}`, `{"name":"Y","url":"u2"}`)))
	require.NoError(t, m.WriteChild(ctx, "hamburg", raw(`{"name":"H","url":"u3"}`)))

	got, err := m.ChildItems(ctx, "berlin")
	require.NoError(t, err)
	assert.Equal(t, raw(`{"name":"X","url":"u1"}`, `{"name":"Y","url":"u2"}`), got)

	require.NoError(t, m.WriteChild(ctx, "berlin", raw(`{"name":"Z","url":"u9"}`)))
	got, err = m.ChildItems(ctx, "berlin")
	require.NoError(t, err)
	assert.Equal(t, raw(`{"name":"Z","url":"u9"}`), got)

	got, err = m.ChildItems(ctx, "hamburg")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLMirrorEmptyChild(t *testing.T) {
	ctx := context.Background()
	m := openTestMirror(t)

	require.NoError(t, m.WriteChild(ctx, "berlin", raw(`"a"`)))
	require.NoError(t, m.WriteChild(ctx, "berlin", nil))

	got, err := m.ChildItems(ctx, "berlin")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewSQLMirrorRequiresDSN(t *testing.T) {
	_, err := NewSQLMirror(context.Background(), config.SQLConfig{Driver: "sqlite"}, "")
	require.Error(t, err)
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *SQLMirror
	assert.NoError(t, m.WriteChild(context.Background(), "x", nil))
	assert.NoError(t, m.Close())
}
