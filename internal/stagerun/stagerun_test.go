package stagerun

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegraph/stagegraph/internal/store"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

// TestComputeIDIsDeterministicAndKeyedByAllFields pins spec.md §3's id
// formula: identical inputs always produce the same 64-char hex id, and
// changing any one field changes it.
func TestComputeIDIsDeterministicAndKeyedByAllFields(t *testing.T) {
	base := ComputeID("", "C", "w.py", "main", "{}")
	assert.Len(t, base, 64)
	assert.Equal(t, base, ComputeID("", "C", "w.py", "main", "{}"))

	assert.NotEqual(t, base, ComputeID("P", "C", "w.py", "main", "{}"))
	assert.NotEqual(t, base, ComputeID("", "D", "w.py", "main", "{}"))
	assert.NotEqual(t, base, ComputeID("", "C", "other.py", "main", "{}"))
	assert.NotEqual(t, base, ComputeID("", "C", "w.py", "sub", "{}"))
	assert.NotEqual(t, base, ComputeID("", "C", "w.py", "main", `{"a":1}`))
}

func TestCreateCallIsIdempotent(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	row1, created1, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{}, "", "")
	require.NoError(t, err)
	assert.True(t, created1)

	row2, created2, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{}, "", "")
	require.NoError(t, err)

	// Same inputs always yield the same id (spec.md §3's I1 and §8's
	// "create_call(x).id == create_call(x).id").
	assert.Equal(t, row1.ID, row2.ID)
	_ = created2
}

func TestCreateCallDifferentArgsDifferentID(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	row1, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{"n": 1}, "", "")
	require.NoError(t, err)
	row2, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{"n": 2}, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, row1.ID, row2.ID)
}

// TestParentChainMatchesConcreteScenario pins spec.md §8 scenario 2: a
// child's id is SHA256(parent.id || "|C|w.py|sub|{}").
func TestParentChainMatchesConcreteScenario(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	root, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{}, "", "")
	require.NoError(t, err)

	expectedChildID := ComputeID(root.ID, "C", "w.py", "sub", "{}")
	child, _, err := d.CreateCall(ctx, root.ID, "repo", "C", "w.py", "sub", map[string]any{}, "", "")
	require.NoError(t, err)
	assert.Equal(t, expectedChildID, child.ID)
	assert.Equal(t, root.ID, child.ParentID)
}

func TestStatusMachineHappyPath(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	row, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{}, "", "")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, row.Status)

	claimed, err := d.Claim(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	finished, err := d.FinishOK(ctx, row.ID, `{"ok":true}`)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, finished.Status)
	assert.NotNil(t, finished.CompletedAt)
	require.NotNil(t, finished.ResultValue)
	assert.Equal(t, `{"ok":true}`, *finished.ResultValue)
}

func TestClaimRaceOnlyOneWinner(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	row, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{}, "", "")
	require.NoError(t, err)

	_, err = d.Claim(ctx, row.ID)
	require.NoError(t, err)

	_, err = d.Claim(ctx, row.ID)
	assert.ErrorIs(t, err, ErrClaimConflict)
}

func TestFinishRequiresRunning(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	row, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{}, "", "")
	require.NoError(t, err)

	// PENDING -> COMPLETED is not a legal transition.
	_, err = d.FinishOK(ctx, row.ID, "{}")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFinishAlreadyTerminalIsConflict(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	row, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", map[string]any{}, "", "")
	require.NoError(t, err)
	_, err = d.Claim(ctx, row.ID)
	require.NoError(t, err)
	_, err = d.FinishOK(ctx, row.ID, "{}")
	require.NoError(t, err)

	_, err = d.FinishOK(ctx, row.ID, "{}")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPollReturnsOldestPendingFirst(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	a, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "a", nil, "", "")
	require.NoError(t, err)
	b, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "b", nil, "", "")
	require.NoError(t, err)

	pending, err := d.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, b.ID, pending[1].ID)
}

func TestLogLineIndicesDenseAndMonotonic(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	row, _, err := d.CreateCall(ctx, "", "repo", "C", "w.py", "main", nil, "", "")
	require.NoError(t, err)

	base := time.Now()
	n, err := d.RecordLogLines(ctx, row.ID, []string{"line0", "line1"}, []time.Time{base, base.Add(time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	more, err := d.RecordLogLines(ctx, row.ID, []string{"line2"}, []time.Time{base.Add(2 * time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, 1, more)

	// since_index is the last index already seen, so results start after it.
	lines, hasMore, err := d.ListLogLines(ctx, row.ID, -1, 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(0), lines[0].Index)
	assert.Equal(t, int64(1), lines[1].Index)
	assert.True(t, hasMore)

	rest, hasMore, err := d.ListLogLines(ctx, row.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, int64(2), rest[0].Index)
	assert.False(t, hasMore)
}
