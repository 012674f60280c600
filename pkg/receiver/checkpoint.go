package receiver

import "sync"

// CheckpointStore remembers, per partition, the sequence number of the last
// event that was processed. Checkpoints live in memory only.
type CheckpointStore struct {
	mtx         sync.RWMutex
	checkpoints map[string]int64
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[string]int64),
	}
}

// Update records the given sequence number for the partition.
func (s *CheckpointStore) Update(partitionID string, seq int64) {
	s.mtx.Lock()
	s.checkpoints[partitionID] = seq
	s.mtx.Unlock()
}

// Get returns the last checkpoint for the partition, if there is one.
func (s *CheckpointStore) Get(partitionID string) (int64, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	seq, ok := s.checkpoints[partitionID]
	return seq, ok
}

// All returns a copy of every checkpoint recorded so far.
func (s *CheckpointStore) All() map[string]int64 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	res := make(map[string]int64, len(s.checkpoints))
	for k, v := range s.checkpoints {
		res[k] = v
	}
	return res
}
