package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/export"
	"github.com/c360studio/codecomply/report"
)

type memBucket struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBucket() *memBucket { return &memBucket{data: map[string][]byte{}} }

func (m *memBucket) get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memBucket) put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memBucket) keys(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func document(drawing, runID string, status engine.Status) export.Document {
	return export.Document{
		Drawing:     drawing,
		RunID:       runID,
		GeneratedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Report: report.Aggregate([]engine.Verdict{
			{ClauseID: "1.1", Subject: "corridor width", Operator: "MIN", Status: status},
		}),
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"level-1", "level-1"},
		{"Level 1.dwg", "Level_1_dwg"},
		{"  ", "unnamed"},
		{"a/b*c>d", "a_b_c_d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.in), tt.in)
	}
}

func TestStore_SaveLatest(t *testing.T) {
	ctx := context.Background()
	s := newStore(newMemBucket(), nil)

	_, err := s.Latest(ctx, "level 1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, document("level 1", "run-1", engine.StatusFail)))
	require.NoError(t, s.Save(ctx, document("level 1", "run-2", engine.StatusPass)))
	require.NoError(t, s.Save(ctx, document("basement", "run-3", engine.StatusPass)))

	got, err := s.Latest(ctx, "level 1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", got.RunID)
	assert.Equal(t, engine.StatusPass, got.Report.Summary.Overall)
	require.Len(t, got.Report.Verdicts, 1)
	assert.Equal(t, "corridor width", got.Report.Verdicts[0].Subject)

	drawings, err := s.Drawings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"basement", "level_1"}, drawings)

	assert.NoError(t, s.Close())
}
