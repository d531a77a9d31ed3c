package relayer

import (
	"sort"
	"sync"
	"time"
)

type PipelineState string

const (
	StateStarting   PipelineState = "starting"
	StateRunning    PipelineState = "running"
	StateRestarting PipelineState = "restarting"
	StatePaused     PipelineState = "paused"
	StateStopped    PipelineState = "stopped"
)

type BridgeStatus struct {
	BridgeID        string        `json:"bridge_id"`
	State           PipelineState `json:"state"`
	LastError       string        `json:"last_error,omitempty"`
	CheckpointBlock uint          `json:"checkpoint_block"`
	SafeBlock       uint          `json:"safe_block"`
	HeadBlock       uint          `json:"head_block"`
	Synced          bool          `json:"synced"`
	PendingEvents   int           `json:"pending_events"`
	Restarts        uint          `json:"restarts"`
	LastIteration   *time.Time    `json:"last_iteration,omitempty"`
}

// StatusBoard keeps the live state of every bridge pipeline of the process.
type StatusBoard struct {
	mu      sync.RWMutex
	bridges map[string]*BridgeStatus
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{bridges: make(map[string]*BridgeStatus, 4)}
}

func (b *StatusBoard) Update(bridgeID string, f func(s *BridgeStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.bridges[bridgeID]
	if !ok {
		s = &BridgeStatus{BridgeID: bridgeID, State: StateStarting}
		b.bridges[bridgeID] = s
	}
	f(s)
}

// Get returns a copy of the bridge status.
func (b *StatusBoard) Get(bridgeID string) (*BridgeStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.bridges[bridgeID]
	if !ok {
		return nil, false
	}
	res := *s
	return &res, true
}

func (b *StatusBoard) All() []*BridgeStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]*BridgeStatus, 0, len(b.bridges))
	for _, s := range b.bridges {
		c := *s
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].BridgeID < res[j].BridgeID
	})
	return res
}
