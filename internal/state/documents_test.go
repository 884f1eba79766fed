package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaStamp_NeverMovesBackwards(t *testing.T) {
	m := Meta{LastUpdated: "2026-02-14T12:00:00Z"}

	m.Stamp(testNow.Add(-time.Hour))
	assert.Equal(t, "2026-02-14T12:00:00Z", m.LastUpdated)

	m.Stamp(testNow.Add(time.Hour))
	assert.Equal(t, "2026-02-14T13:00:00Z", m.LastUpdated)
}

func TestChangeLog_Prune(t *testing.T) {
	log := &ChangeLog{Changes: []Change{
		{TS: "2026-02-01T00:00:00Z", Type: ChangeNewAgent, ID: "old"},
		{TS: "2026-02-10T00:00:00Z", Type: ChangeHeartbeat, ID: "recent"},
		{TS: "garbage", Type: ChangePoke, Target: "kept"},
		{TS: "2026-02-14T11:00:00Z", Type: ChangeNewChannel, Slug: "newest"},
	}}

	removed := log.Prune(testNow, 7*24*time.Hour)

	assert.Equal(t, 1, removed)
	require.Len(t, log.Changes, 3)
	assert.Equal(t, "recent", log.Changes[0].ID)
	assert.Equal(t, "kept", log.Changes[1].Target)
	assert.Equal(t, "newest", log.Changes[2].Slug)
}

func TestChangeLogAppend_Stamps(t *testing.T) {
	log := &ChangeLog{}
	log.fill(testNow.Add(-time.Hour))

	log.Append(Change{TS: Timestamp(testNow), Type: ChangePoke, Target: "a"}, testNow)

	assert.Len(t, log.Changes, 1)
	assert.Equal(t, Timestamp(testNow), log.LastUpdated)
}

func TestAgentDirectory_Counts(t *testing.T) {
	d := &AgentDirectory{Agents: map[string]*Agent{
		"a": {Status: StatusActive},
		"b": {Status: StatusDormant},
		"c": {Status: StatusActive},
	}}
	d.Recount()

	active, dormant := d.CountByStatus()
	assert.Equal(t, 3, d.Meta.Count)
	assert.Equal(t, 2, active)
	assert.Equal(t, 1, dormant)
}

func TestPostedLogHasTitle_NormalizesUnicode(t *testing.T) {
	log := &PostedLog{Posts: []PostRecord{{Title: "Caf\u00e9 Society"}}}

	assert.True(t, log.HasTitle("Caf\u00e9 Society"))
	assert.True(t, log.HasTitle("Cafe\u0301 Society"))
	assert.False(t, log.HasTitle("Cafe Society"))
}

func TestHoursSince_UnparseableIsOld(t *testing.T) {
	assert.InDelta(t, 49.0, HoursSince("2026-02-12T11:00:00Z", testNow), 0.001)
	assert.InDelta(t, 1.5, HoursSince("2026-02-14T10:30:00", testNow), 0.001)
	assert.Equal(t, 0.0, HoursSince("2026-02-15T00:00:00Z", testNow))
	assert.Equal(t, 999.0, HoursSince("", testNow))
}

func TestParseTimestamp_AcceptsFractionalAndOffset(t *testing.T) {
	ts, err := ParseTimestamp("2026-02-14T13:00:00.123456+01:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-14T12:00:00Z", Timestamp(ts))
}
