// ============================================================================
// Sharded Work Queue
// ============================================================================
//
// Package: internal/queue
// File: queue.go
// Purpose: cut this process's contiguous slice out of the full account list,
// drop what earlier runs already finished, and hand the rest to workers in
// FIFO order.
//
// Sharding (ceiling chunking):
//   chunk = ceil(len / total)
//   shard i covers [i*chunk, min((i+1)*chunk, len))
//
//   10 accounts, 2 shards -> [0,5) [5,10)
//   10 accounts, 3 shards -> [0,4) [4,8) [8,10)
//    2 accounts, 4 shards -> [0,1) [1,2) [2,2) [2,2)
//
// Every shard is computed from the same list, so the union over all shard
// indices is the list itself with no gaps or overlaps.
//
// Concurrency:
//   Next() pops under a mutex. Two workers never receive the same account.
//   The queue never blocks: once empty, Next reports false forever.
//
// ============================================================================

package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/balance-sweep/pkg/types"
)

// ErrInvalidShard is returned for a shard index outside [0, Total).
var ErrInvalidShard = errors.New("invalid shard index")

// ShardPlan identifies this process's share of the account list.
type ShardPlan struct {
	Index int `yaml:"index"`
	Total int `yaml:"total"`
}

// Normalize raises a total below one to one.
func (p ShardPlan) Normalize() ShardPlan {
	if p.Total < 1 {
		p.Total = 1
		if p.Index < 0 {
			p.Index = 0
		}
	}
	return p
}

// Validate reports ErrInvalidShard when Index does not name a shard.
func (p ShardPlan) Validate() error {
	p = p.Normalize()
	if p.Total == 1 {
		if p.Index != 0 {
			return fmt.Errorf("%w: index %d with a single shard", ErrInvalidShard, p.Index)
		}
		return nil
	}
	if p.Index < 0 || p.Index >= p.Total {
		return fmt.Errorf("%w: index %d not in [0, %d)", ErrInvalidShard, p.Index, p.Total)
	}
	return nil
}

// Bounds returns the half-open range [start, end) of a list of length n that
// belongs to this shard.
func (p ShardPlan) Bounds(n int) (int, int, error) {
	if err := p.Validate(); err != nil {
		return 0, 0, err
	}
	p = p.Normalize()
	if p.Total == 1 {
		return 0, n, nil
	}

	chunk := (n + p.Total - 1) / p.Total
	start := min(p.Index*chunk, n)
	end := min(start+chunk, n)
	return start, end, nil
}

func (p ShardPlan) String() string {
	p = p.Normalize()
	return fmt.Sprintf("%d/%d", p.Index, p.Total)
}

// Completed reports whether a username was finished by an earlier run.
type Completed interface {
	Contains(username string) bool
}

// Queue is the FIFO of accounts this shard still has to process.
type Queue struct {
	mu      sync.Mutex
	pending []types.Account
	total   int // accounts in the shard slice
	skipped int // removed because already completed
	dupes   int // removed because the username repeated
	start   int
	end     int
}

// New builds the queue for plan. completed may be nil.
func New(accounts []types.Account, plan ShardPlan, completed Completed) (*Queue, error) {
	start, end, err := plan.Bounds(len(accounts))
	if err != nil {
		return nil, err
	}

	slice := accounts[start:end]
	q := &Queue{
		pending: make([]types.Account, 0, len(slice)),
		total:   len(slice),
		start:   start,
		end:     end,
	}

	seen := make(map[string]struct{}, len(slice))
	for _, acct := range slice {
		if _, dup := seen[acct.Username]; dup {
			q.dupes++
			continue
		}
		seen[acct.Username] = struct{}{}

		if completed != nil && completed.Contains(acct.Username) {
			q.skipped++
			continue
		}
		q.pending = append(q.pending, acct)
	}
	return q, nil
}

// Next pops the oldest pending account. ok is false once the queue is empty.
func (q *Queue) Next() (types.Account, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return types.Account{}, false
	}
	acct := q.pending[0]
	q.pending[0] = types.Account{}
	q.pending = q.pending[1:]
	return acct, true
}

// Len returns the number of accounts not yet handed out.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Skipped returns the number of accounts dropped because they were completed.
func (q *Queue) Skipped() int { return q.skipped }

// Duplicates returns the number of repeated usernames dropped.
func (q *Queue) Duplicates() int { return q.dupes }

// Total returns the size of the shard slice before filtering.
func (q *Queue) Total() int { return q.total }

// Range returns the shard slice bounds within the full list.
func (q *Queue) Range() (int, int) { return q.start, q.end }

// Pending returns a copy of the accounts not yet handed out.
func (q *Queue) Pending() []types.Account {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]types.Account(nil), q.pending...)
}
