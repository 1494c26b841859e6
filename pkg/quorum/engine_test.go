package quorum_test

import (
	"testing"

	"github.com/beansdb/beansdb/pkg/quorum"
	"github.com/beansdb/beansdb/pkg/replica"
	"github.com/stretchr/testify/require"
)

func fakeReplicas(n int) []replica.Client {
	reps := make([]replica.Client, n)
	for i := range reps {
		reps[i] = replica.NewFake(string(rune('a' + i)))
	}

	return reps
}

func asFake(c replica.Client) *replica.Fake {
	return c.(*replica.Fake)
}

func TestEngine_Get_OneReplicaDown_StillReturnsValue(t *testing.T) {
	t.Parallel()

	reps := fakeReplicas(3)
	for _, r := range reps {
		require.NoError(t, r.Set([]byte("k"), []byte("v")))
	}

	asFake(reps[1]).SetDown(true)

	e := quorum.New(quorum.Options{W: 1, R: 1})

	got, ok, err := e.Get(reps, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
}

func TestEngine_Get_ReadRepairsEarlierAbsentReplicas(t *testing.T) {
	t.Parallel()

	reps := fakeReplicas(3)
	// Only the last replica has the value; the first two are empty.
	require.NoError(t, reps[2].Set([]byte("k"), []byte("v")))

	e := quorum.New(quorum.Options{W: 1, R: 1})

	got, ok, err := e.Get(reps, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)

	for _, r := range reps[:2] {
		v, ok := asFake(r).Peek("k")
		require.True(t, ok, "earlier replica should have been read-repaired")
		require.Equal(t, []byte("v"), v)
	}
}

func TestEngine_Get_AllReplicasAbsent_ReturnsNotOK(t *testing.T) {
	t.Parallel()

	reps := fakeReplicas(3)

	e := quorum.New(quorum.Options{W: 1, R: 1})

	_, ok, err := e.Get(reps, []byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngine_Set_PartialSuccessMeetsW(t *testing.T) {
	t.Parallel()

	reps := fakeReplicas(3)
	asFake(reps[1]).SetWriteFailure(true)

	e := quorum.New(quorum.Options{W: 2, R: 1})

	ok, err := e.Set(reps, []byte("k"), []byte("v"))
	require.NoError(t, err)
	require.True(t, ok, "2 of 3 writes succeed, W=2")
}

func TestEngine_Set_BelowW_ButValueReconciles_StillSucceeds(t *testing.T) {
	t.Parallel()

	reps := fakeReplicas(3)
	asFake(reps[0]).SetWriteFailure(true)
	asFake(reps[1]).SetWriteFailure(true)

	e := quorum.New(quorum.Options{W: 2, R: 1})

	// Only replicas[2] actually stores the value: 1 success < W=2, but the
	// reconciliation Get still finds the value through replicas[2], so Set
	// reports success.
	ok, err := e.Set(reps, []byte("k"), []byte("v"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEngine_Set_BelowW_AndNoReplicaHasValue_Fails(t *testing.T) {
	t.Parallel()

	reps := fakeReplicas(3)
	for _, r := range reps {
		asFake(r).SetWriteFailure(true)
	}

	e := quorum.New(quorum.Options{W: 2, R: 1})

	ok, err := e.Set(reps, []byte("k"), []byte("v"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngine_Get_HonorReadQuorum_StopsAfterRConfirmations(t *testing.T) {
	t.Parallel()

	reps := fakeReplicas(4)
	// No replica has the key; with R=2, Get should stop after the 2nd miss
	// and never consult replicas[2] or replicas[3].
	e := quorum.New(quorum.Options{W: 1, R: 2, HonorReadQuorum: true})

	_, ok, err := e.Get(reps, []byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	gets2, _ := asFake(reps[2]).Counts()
	gets3, _ := asFake(reps[3]).Counts()
	require.Equal(t, 0, gets2)
	require.Equal(t, 0, gets3)
}

func TestNew_DefaultsWAndR(t *testing.T) {
	t.Parallel()

	reps := fakeReplicas(1)
	require.NoError(t, reps[0].Set([]byte("k"), []byte("v")))

	e := quorum.New(quorum.Options{})

	got, ok, err := e.Get(reps, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), got)
}
