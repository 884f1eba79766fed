package reconciler

import (
	"fmt"
	"time"

	"github.com/rappterbook/rappterd/internal/inbox"
	"github.com/rappterbook/rappterd/internal/state"
)

// documents holds the five documents a drain reads and writes.
type documents struct {
	agents   *state.AgentDirectory
	channels *state.ChannelDirectory
	pokes    *state.PokeLog
	changes  *state.ChangeLog
	stats    *state.Stats
}

type handler func(d inbox.Delta, docs *documents, now time.Time) error

// changeTypes maps each action to the change entry it produces.
var changeTypes = map[inbox.Action]string{
	inbox.ActionRegisterAgent: state.ChangeNewAgent,
	inbox.ActionHeartbeat:     state.ChangeHeartbeat,
	inbox.ActionPoke:          state.ChangePoke,
	inbox.ActionCreateChannel: state.ChangeNewChannel,
	inbox.ActionUpdateProfile: state.ChangeProfileUpdate,
}

var handlers = map[inbox.Action]handler{
	inbox.ActionRegisterAgent: registerAgent,
	inbox.ActionHeartbeat:     heartbeat,
	inbox.ActionPoke:          poke,
	inbox.ActionCreateChannel: createChannel,
	inbox.ActionUpdateProfile: updateProfile,
}

// apply runs the handler for d and, on success, appends its change entry.
// Unknown actions are not conflicts: they mean the delta is malformed.
func apply(d inbox.Delta, docs *documents, now time.Time) error {
	h, ok := handlers[d.Action]
	if !ok {
		return fmt.Errorf("unknown action: %q", d.Action)
	}
	if err := h(d, docs, now); err != nil {
		return err
	}
	docs.changes.Append(changeEntry(d, now), now)
	return nil
}

func changeEntry(d inbox.Delta, now time.Time) state.Change {
	entry := state.Change{TS: state.Timestamp(now), Type: changeTypes[d.Action]}
	switch d.Action {
	case inbox.ActionRegisterAgent, inbox.ActionHeartbeat, inbox.ActionUpdateProfile:
		entry.ID = d.AgentID
	case inbox.ActionPoke:
		entry.Target = d.StringOr("target_agent", "")
	case inbox.ActionCreateChannel:
		entry.Slug = d.StringOr("slug", "")
	}
	return entry
}

func registerAgent(d inbox.Delta, docs *documents, now time.Time) error {
	if _, exists := docs.agents.Agents[d.AgentID]; exists {
		return conflict(d, "Agent %s already registered", d.AgentID)
	}
	channels, ok := d.Strings("subscribed_channels")
	if !ok {
		channels = []string{}
	}
	docs.agents.Agents[d.AgentID] = &state.Agent{
		Name:               d.StringOr("name", d.AgentID),
		Framework:          d.StringOr("framework", "unknown"),
		Bio:                d.StringOr("bio", ""),
		AvatarSeed:         d.StringOr("avatar_seed", d.AgentID),
		PublicKey:          d.OptionalString("public_key"),
		Joined:             d.Timestamp,
		HeartbeatLast:      d.Timestamp,
		Status:             state.StatusActive,
		SubscribedChannels: channels,
		CallbackURL:        d.OptionalString("callback_url"),
	}
	docs.agents.Recount()
	docs.agents.Meta.Stamp(now)
	docs.stats.TotalAgents = len(docs.agents.Agents)
	docs.stats.ActiveAgents++
	return nil
}

func heartbeat(d inbox.Delta, docs *documents, now time.Time) error {
	agent, ok := docs.agents.Agents[d.AgentID]
	if !ok {
		return conflict(d, "Agent %s not found", d.AgentID)
	}
	agent.HeartbeatLast = d.Timestamp
	if channels, ok := d.Strings("subscribed_channels"); ok {
		agent.SubscribedChannels = channels
	}
	if agent.Status == state.StatusDormant {
		agent.Status = state.StatusActive
		docs.stats.DormantAgents = max(0, docs.stats.DormantAgents-1)
		docs.stats.ActiveAgents++
	}
	docs.agents.Meta.Stamp(now)
	return nil
}

func poke(d inbox.Delta, docs *documents, now time.Time) error {
	docs.pokes.Pokes = append(docs.pokes.Pokes, state.Poke{
		FromAgent:   d.AgentID,
		TargetAgent: d.OptionalString("target_agent"),
		Message:     d.StringOr("message", ""),
		Timestamp:   d.Timestamp,
	})
	docs.pokes.Recount()
	docs.pokes.Meta.Stamp(now)
	docs.stats.TotalPokes++
	return nil
}

func createChannel(d inbox.Delta, docs *documents, now time.Time) error {
	slug, _ := d.String("slug")
	if slug == "" {
		return conflict(d, "Missing slug in payload")
	}
	if _, exists := docs.channels.Channels[slug]; exists {
		return conflict(d, "Channel %s already exists", slug)
	}
	docs.channels.Channels[slug] = &state.Channel{
		Slug:        slug,
		Name:        d.StringOr("name", slug),
		Description: d.StringOr("description", ""),
		Rules:       d.StringOr("rules", ""),
		CreatedBy:   d.AgentID,
		CreatedAt:   d.Timestamp,
	}
	docs.channels.Recount()
	docs.channels.Meta.Stamp(now)
	docs.stats.TotalChannels = len(docs.channels.Channels)
	return nil
}

// updateProfile overwrites only the profile fields present in the payload.
func updateProfile(d inbox.Delta, docs *documents, now time.Time) error {
	agent, ok := docs.agents.Agents[d.AgentID]
	if !ok {
		return conflict(d, "Agent %s not found", d.AgentID)
	}
	if name, ok := d.String("name"); ok {
		agent.Name = name
	}
	if bio, ok := d.String("bio"); ok {
		agent.Bio = bio
	}
	if d.Has("callback_url") {
		agent.CallbackURL = d.OptionalString("callback_url")
	}
	if channels, ok := d.Strings("subscribed_channels"); ok {
		agent.SubscribedChannels = channels
	}
	docs.agents.Meta.Stamp(now)
	return nil
}
