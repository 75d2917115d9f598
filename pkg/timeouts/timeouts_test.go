package timeouts_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shivanshkc/byteevents/pkg/timeouts"
)

// recorder is a timeouts.Callback that appends its name to a shared log.
type recorder struct {
	name string
	log  *[]string
	// onExpire runs after the name is logged, if set.
	onExpire func()
}

func (r *recorder) TimeoutExpired() {
	*r.log = append(*r.log, r.name)
	if r.onExpire != nil {
		r.onExpire()
	}
}

func TestSet_Expire(t *testing.T) {
	base := time.Unix(1000, 0)

	// --- Test Cases ---
	testCases := []struct {
		name      string
		deadlines map[string]time.Duration
		order     []string
		now       time.Duration
		expected  []string
	}{
		{
			name:      "Nothing Due",
			deadlines: map[string]time.Duration{"a": time.Second},
			order:     []string{"a"},
			now:       500 * time.Millisecond,
			expected:  nil,
		},
		{
			name:      "Deadline Order",
			deadlines: map[string]time.Duration{"a": 3 * time.Second, "b": time.Second, "c": 2 * time.Second},
			order:     []string{"a", "b", "c"},
			now:       5 * time.Second,
			expected:  []string{"b", "c", "a"},
		},
		{
			name:      "Equal Deadlines Keep Registration Order",
			deadlines: map[string]time.Duration{"a": time.Second, "b": time.Second, "c": time.Second},
			order:     []string{"c", "a", "b"},
			now:       time.Second,
			expected:  []string{"c", "a", "b"},
		},
		{
			name:      "Partial Expiry",
			deadlines: map[string]time.Duration{"a": time.Second, "b": 10 * time.Second},
			order:     []string{"a", "b"},
			now:       2 * time.Second,
			expected:  []string{"a"},
		},
	}

	// --- Test Runner ---
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var log []string
			set := timeouts.New()
			for _, name := range tc.order {
				err := set.Schedule(&recorder{name: name, log: &log}, base.Add(tc.deadlines[name]))
				require.NoError(t, err)
			}

			fired := set.Expire(base.Add(tc.now))

			assert.Equal(t, tc.expected, log)
			assert.Equal(t, len(tc.expected), fired)
			assert.Equal(t, len(tc.order)-len(tc.expected), set.Len())
		})
	}
}

func TestSet_ExpireFiresOnce(t *testing.T) {
	var log []string
	set := timeouts.New()
	cb := &recorder{name: "once", log: &log}
	now := time.Now()

	require.NoError(t, set.Schedule(cb, now))
	assert.Equal(t, 1, set.Expire(now))
	assert.Equal(t, 0, set.Expire(now.Add(time.Hour)), "An expired callback must not fire again.")
	assert.Equal(t, []string{"once"}, log)
	assert.False(t, set.IsScheduled(cb))
}

func TestSet_Cancel(t *testing.T) {
	var log []string
	set := timeouts.New()
	now := time.Now()

	a := &recorder{name: "a", log: &log}
	b := &recorder{name: "b", log: &log}
	require.NoError(t, set.Schedule(a, now))
	require.NoError(t, set.Schedule(b, now))

	assert.True(t, set.Cancel(a))
	assert.False(t, set.Cancel(a), "Second cancel should report nothing removed.")
	assert.False(t, set.IsScheduled(a))
	assert.True(t, set.IsScheduled(b))

	set.Expire(now)
	assert.Equal(t, []string{"b"}, log, "Canceled callback must never fire.")
}

func TestSet_ScheduleTwice(t *testing.T) {
	var log []string
	set := timeouts.New()
	cb := &recorder{name: "dup", log: &log}
	now := time.Now()

	require.NoError(t, set.Schedule(cb, now))
	err := set.Schedule(cb, now.Add(time.Second))
	assert.ErrorIs(t, err, timeouts.ErrAlreadyScheduled)
	assert.Equal(t, 1, set.Len())

	// Once expired it may be scheduled again.
	set.Expire(now)
	assert.NoError(t, set.Schedule(cb, now.Add(time.Second)))
}

func TestSet_NextDeadline(t *testing.T) {
	var log []string
	set := timeouts.New()
	now := time.Now()

	_, ok := set.NextDeadline()
	assert.False(t, ok)

	late := &recorder{name: "late", log: &log}
	early := &recorder{name: "early", log: &log}
	require.NoError(t, set.Schedule(late, now.Add(time.Minute)))
	require.NoError(t, set.Schedule(early, now.Add(time.Second)))

	next, ok := set.NextDeadline()
	require.True(t, ok)
	assert.True(t, next.Equal(now.Add(time.Second)))

	set.Cancel(early)
	next, ok = set.NextDeadline()
	require.True(t, ok)
	assert.True(t, next.Equal(now.Add(time.Minute)))
}

func TestSet_ExpireReentrant(t *testing.T) {
	var log []string
	set := timeouts.New()
	now := time.Now()

	victim := &recorder{name: "victim", log: &log}
	child := &recorder{name: "child", log: &log}
	parent := &recorder{name: "parent", log: &log, onExpire: func() {
		// Cancel a sibling that is also due, and schedule an already-due child.
		set.Cancel(victim)
		_ = set.Schedule(child, now)
	}}

	require.NoError(t, set.Schedule(parent, now))
	require.NoError(t, set.Schedule(victim, now))

	fired := set.Expire(now)
	assert.Equal(t, 2, fired)
	assert.Equal(t, []string{"parent", "child"}, log)
	assert.Equal(t, 0, set.Len())
}
