package service

import (
	"sync"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/types"
)

// DefaultQueueDepth bounds pending commands per room. When full, the oldest
// command is dropped.
const DefaultQueueDepth = 64

// CommandQueue holds manual commands for controllers that poll over the
// ingest endpoint. A room's queue is drained by its next heartbeat.
type CommandQueue struct {
	mu      sync.Mutex
	depth   int
	pending map[int64][]types.Command
}

func NewCommandQueue(depth int) *CommandQueue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &CommandQueue{depth: depth, pending: make(map[int64][]types.Command)}
}

func (q *CommandQueue) Enqueue(roomID int64, cmd types.Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := append(q.pending[roomID], cmd)
	if len(cmds) > q.depth {
		cmds = cmds[len(cmds)-q.depth:]
	}
	q.pending[roomID] = cmds
}

// Drain returns and clears roomID's pending commands in FIFO order.
func (q *CommandQueue) Drain(roomID int64) []types.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	cmds := q.pending[roomID]
	delete(q.pending, roomID)
	return cmds
}

func (q *CommandQueue) Len(roomID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[roomID])
}
