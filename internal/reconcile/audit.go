package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/rappterbook/rappterd/internal/state"
	"github.com/rappterbook/rappterd/internal/telemetry"
)

// DormantAfter is how long an active agent may go without a heartbeat.
const DormantAfter = 48 * time.Hour

// AuditResult summarizes one heartbeat audit.
type AuditResult struct {
	Marked  []string `json:"marked"`
	Active  int      `json:"active_agents"`
	Dormant int      `json:"dormant_agents"`
}

// Audit marks active agents whose last heartbeat is more than DormantAfter
// old as dormant, records an agent_dormant change for each, and resyncs the
// active and dormant counters in stats. Agents without a parseable heartbeat
// are left alone.
func (r *Reconciler) Audit(ctx context.Context) (res AuditResult, err error) {
	_, span := telemetry.StartSpan(ctx, "reconcile.audit", telemetry.AttrRunID.String(r.runID))
	defer func() {
		span.SetAttributes(telemetry.AttrCount.Int(len(res.Marked)))
		telemetry.EndSpan(span, err)
	}()

	now := r.now()
	res.Marked = []string{}
	agents, err := r.store.LoadAgents(now)
	if err != nil {
		return res, err
	}
	changes, err := r.store.LoadChanges(now)
	if err != nil {
		return res, err
	}
	stats, err := r.store.LoadStats(now)
	if err != nil {
		return res, err
	}

	ids := make([]string, 0, len(agents.Agents))
	for id := range agents.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a := agents.Agents[id]
		if a.Status != state.StatusActive || a.HeartbeatLast == "" {
			continue
		}
		last, err := state.ParseTimestamp(a.HeartbeatLast)
		if err != nil {
			r.logger.Warn("unparseable heartbeat", "agent_id", id, "heartbeat_last", a.HeartbeatLast)
			continue
		}
		if now.Sub(last) <= DormantAfter {
			continue
		}
		a.Status = state.StatusDormant
		changes.Append(state.Change{TS: state.Timestamp(now), Type: state.ChangeAgentDormant, ID: id}, now)
		res.Marked = append(res.Marked, id)
		r.logger.Info("agent marked dormant", "agent_id", id, "heartbeat_last", a.HeartbeatLast)
	}

	res.Active, res.Dormant = agents.CountByStatus()
	stats.ActiveAgents = res.Active
	stats.DormantAgents = res.Dormant
	agents.Meta.Stamp(now)
	stats.Stamp(now)

	if err := r.store.Save(state.DocAgents, agents); err != nil {
		return res, err
	}
	if err := r.store.Save(state.DocChanges, changes); err != nil {
		return res, err
	}
	if err := r.store.Save(state.DocStats, stats); err != nil {
		return res, err
	}
	r.logger.Info("heartbeat audit complete", "marked", len(res.Marked), "active", res.Active, "dormant", res.Dormant)
	return res, nil
}
