package inbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDirQueue_WatchSignalsOnNewDelta(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q, err := NewDirQueue(filepath.Join(t.TempDir(), "inbox"))
	require.NoError(t, err)

	events, err := q.Watch(ctx)
	require.NoError(t, err)

	_, err = q.Put(ctx, heartbeat("a", "2026-02-14T12:00:00Z"))
	require.NoError(t, err)

	select {
	case _, ok := <-events:
		require.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("no watch event for new delta")
	}

	cancel()
	select {
	case _, ok := <-events:
		for ok {
			_, ok = <-events
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
