package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappterbook/rappterd/internal/testutil"
)

var testNow = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

func TestNew_RejectsUnknownJob(t *testing.T) {
	_, err := New(map[string]string{"mystery": "* * * * *"}, map[string]JobFunc{})
	require.ErrorContains(t, err, `unknown job "mystery"`)
}

func TestNew_RejectsBadExpression(t *testing.T) {
	noop := func(context.Context) error { return nil }
	_, err := New(map[string]string{"a": "every tuesday"}, map[string]JobFunc{"a": noop})
	require.Error(t, err)
}

func TestTick_RunsDueJobsInOrder(t *testing.T) {
	var ran []string
	record := func(name string) JobFunc {
		return func(context.Context) error {
			ran = append(ran, name)
			return nil
		}
	}
	clock := testutil.NewFixedClock(testNow)
	s, err := New(map[string]string{
		"process-inbox":    "*/5 * * * *",
		"compute-trending": "0 * * * *",
		"heartbeat-audit":  "@daily",
	}, map[string]JobFunc{
		"process-inbox":    record("process-inbox"),
		"compute-trending": record("compute-trending"),
		"heartbeat-audit":  record("heartbeat-audit"),
	}, WithClock(clock.Now))
	require.NoError(t, err)

	next := s.Next()
	assert.Equal(t, testNow.Add(5*time.Minute), next["process-inbox"])
	assert.Equal(t, testNow.Add(time.Hour), next["compute-trending"])

	assert.Empty(t, s.Tick(context.Background(), testNow.Add(time.Minute)))

	fired := s.Tick(context.Background(), testNow.Add(time.Hour))
	assert.Equal(t, []string{"compute-trending", "process-inbox"}, fired)
	assert.Equal(t, fired, ran)
	assert.Equal(t, testNow.Add(65*time.Minute), s.Next()["process-inbox"])
}

func TestTick_IsolatesFailures(t *testing.T) {
	var secondRan bool
	s, err := New(map[string]string{"a": "* * * * *", "b": "* * * * *"}, map[string]JobFunc{
		"a": func(context.Context) error { return errors.New("boom") },
		"b": func(context.Context) error {
			secondRan = true
			return nil
		},
	}, WithClock(testutil.NewFixedClock(testNow).Now))
	require.NoError(t, err)

	fired := s.Tick(context.Background(), testNow.Add(time.Minute))
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.True(t, secondRan)
}

func TestRun_RequiresJobs(t *testing.T) {
	s, err := New(nil, nil)
	require.NoError(t, err)
	require.Error(t, s.Run(context.Background()))
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := New(map[string]string{"a": "@yearly"}, map[string]JobFunc{
		"a": func(context.Context) error { return nil },
	}, WithInterval(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}
