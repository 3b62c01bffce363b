package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ChuLiYu/balance-sweep/internal/checkpoint"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accounts(n int) []types.Account {
	out := make([]types.Account, n)
	for i := range out {
		out[i] = types.Account{Username: fmt.Sprintf("user%02d", i), Password: "pw"}
	}
	return out
}

func drain(q *Queue) []string {
	var names []string
	for {
		acct, ok := q.Next()
		if !ok {
			return names
		}
		names = append(names, acct.Username)
	}
}

func TestBoundsTenAccountsTwoShards(t *testing.T) {
	start, end, err := ShardPlan{Index: 0, Total: 2}.Bounds(10)
	require.NoError(t, err)
	assert.Equal(t, 0, start)
	assert.Equal(t, 5, end)

	start, end, err = ShardPlan{Index: 1, Total: 2}.Bounds(10)
	require.NoError(t, err)
	assert.Equal(t, 5, start)
	assert.Equal(t, 10, end)
}

func TestBoundsIdentityForSingleShard(t *testing.T) {
	for _, total := range []int{-3, 0, 1} {
		start, end, err := ShardPlan{Index: 0, Total: total}.Bounds(7)
		require.NoError(t, err)
		assert.Equal(t, 0, start)
		assert.Equal(t, 7, end)
	}
}

func TestBoundsRejectsInvalidIndex(t *testing.T) {
	tests := []ShardPlan{
		{Index: 2, Total: 2},
		{Index: -1, Total: 3},
		{Index: 1, Total: 1},
		{Index: 5, Total: 0},
	}
	for _, plan := range tests {
		t.Run(plan.String(), func(t *testing.T) {
			_, _, err := plan.Bounds(10)
			assert.ErrorIs(t, err, ErrInvalidShard)
		})
	}
}

func TestShardsPartitionTheList(t *testing.T) {
	for n := 0; n <= 23; n++ {
		for total := 1; total <= 7; total++ {
			list := accounts(n)
			var union []string
			for idx := 0; idx < total; idx++ {
				q, err := New(list, ShardPlan{Index: idx, Total: total}, nil)
				require.NoError(t, err)
				union = append(union, drain(q)...)
			}

			want := make([]string, n)
			for i, a := range list {
				want[i] = a.Username
			}
			if n == 0 {
				want = nil
			}
			assert.Equal(t, want, union, "n=%d total=%d", n, total)
		}
	}
}

func TestNewExcludesCompleted(t *testing.T) {
	list := []types.Account{
		{Username: "alice", Password: "a"},
		{Username: "bob", Password: "b"},
		{Username: "carol", Password: "c"},
	}
	completed := checkpoint.Set{"alice": {}}

	q, err := New(list, ShardPlan{Total: 1}, completed)
	require.NoError(t, err)

	assert.Equal(t, 3, q.Total())
	assert.Equal(t, 1, q.Skipped())
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []string{"bob", "carol"}, drain(q))
}

func TestNewDropsDuplicateUsernames(t *testing.T) {
	list := []types.Account{
		{Username: "alice", Password: "first"},
		{Username: "bob", Password: "b"},
		{Username: "alice", Password: "second"},
	}

	q, err := New(list, ShardPlan{Total: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, q.Duplicates())

	first, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, "first", first.Password, "first occurrence wins")
	assert.Equal(t, []string{"bob"}, drain(q))
}

func TestNewInvalidShard(t *testing.T) {
	q, err := New(accounts(4), ShardPlan{Index: 3, Total: 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidShard)
	assert.Nil(t, q)
}

func TestNextIsFIFOAndNonBlocking(t *testing.T) {
	q, err := New(accounts(3), ShardPlan{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"user00", "user01", "user02"}, drain(q))
	_, ok := q.Next()
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestConcurrentNextHandsOutEachAccountOnce(t *testing.T) {
	q, err := New(accounts(500), ShardPlan{}, nil)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				acct, ok := q.Next()
				if !ok {
					return
				}
				mu.Lock()
				seen[acct.Username]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 500)
	for name, n := range seen {
		assert.Equal(t, 1, n, name)
	}
}

func TestRangeAndPending(t *testing.T) {
	q, err := New(accounts(10), ShardPlan{Index: 1, Total: 3}, nil)
	require.NoError(t, err)

	start, end := q.Range()
	assert.Equal(t, 4, start)
	assert.Equal(t, 8, end)
	assert.Len(t, q.Pending(), 4)
}
