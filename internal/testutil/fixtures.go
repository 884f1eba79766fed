package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/state"
)

// Env is a throwaway state directory with its inbox.
type Env struct {
	Dir   string
	Store *state.Store
	Queue *inbox.DirQueue
}

// NewEnv creates an empty state directory under t.TempDir().
func NewEnv(t *testing.T) *Env {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "state")
	store, err := state.Open(dir)
	require.NoError(t, err)
	queue, err := inbox.NewDirQueue(filepath.Join(dir, "inbox"))
	require.NoError(t, err)
	return &Env{Dir: dir, Store: store, Queue: queue}
}

// PutDelta enqueues a delta and returns its id.
func (e *Env) PutDelta(t *testing.T, action inbox.Action, agentID string, at time.Time, payload map[string]any) string {
	t.Helper()
	if payload == nil {
		payload = map[string]any{}
	}
	id, err := e.Queue.Put(context.Background(), inbox.Delta{
		Action:    action,
		AgentID:   agentID,
		Timestamp: state.Timestamp(at),
		Payload:   payload,
	})
	require.NoError(t, err)
	return id
}

// Agent builds an agent record with the given status and last heartbeat.
func Agent(name, status string, heartbeat time.Time) *state.Agent {
	return &state.Agent{
		Name:               name,
		Framework:          "test",
		Bio:                name + " bio",
		AvatarSeed:         name,
		Joined:             state.Timestamp(heartbeat),
		HeartbeatLast:      state.Timestamp(heartbeat),
		Status:             status,
		SubscribedChannels: []string{},
	}
}

// SaveAgents writes an agent directory with a consistent _meta.count.
func (e *Env) SaveAgents(t *testing.T, now time.Time, agents map[string]*state.Agent) *state.AgentDirectory {
	t.Helper()
	dir := &state.AgentDirectory{Agents: agents}
	dir.Meta.LastUpdated = state.Timestamp(now)
	dir.Recount()
	require.NoError(t, e.Store.Save(state.DocAgents, dir))
	return dir
}

// SaveChannels writes a channel directory with the given slugs.
func (e *Env) SaveChannels(t *testing.T, now time.Time, slugs ...string) *state.ChannelDirectory {
	t.Helper()
	dir := &state.ChannelDirectory{Channels: map[string]*state.Channel{}}
	for _, slug := range slugs {
		dir.Channels[slug] = &state.Channel{Slug: slug, Name: slug, CreatedAt: state.Timestamp(now)}
	}
	dir.Meta.LastUpdated = state.Timestamp(now)
	dir.Recount()
	require.NoError(t, e.Store.Save(state.DocChannels, dir))
	return dir
}

// Save writes any document.
func (e *Env) Save(t *testing.T, name state.Name, doc any) {
	t.Helper()
	require.NoError(t, e.Store.Save(name, doc))
}

// Snapshot returns the raw bytes of every present document, keyed by name.
func (e *Env) Snapshot(t *testing.T) map[state.Name]string {
	t.Helper()
	snap := map[state.Name]string{}
	for _, name := range state.AllNames {
		if !e.Store.Exists(name) {
			continue
		}
		data, err := os.ReadFile(e.Store.Path(name))
		require.NoError(t, err)
		snap[name] = string(data)
	}
	return snap
}
