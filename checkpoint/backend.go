package checkpoint

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("checkpoint backend is closed")

// Backend stores the per split offsets reported by window emissions.
// Save stages offsets, Persist commits everything staged under a checkpoint id.
type Backend interface {
	Save(split string, offsets map[string]string) error
	Persist(checkpointId int64) error
	// Get returns the last persisted offsets of split.
	Get(split string) (map[string]string, bool, error)
	Close() error
}

type record struct {
	checkpointId int64
	offsets      map[string]string
}

// staging keeps offsets in memory, it is the whole memory backend
// and the cache in front of the fs backend.
type staging struct {
	mutex     *sync.Mutex
	pending   map[string]map[string]string
	persisted map[string]record
	closed    bool
}

func newStaging() *staging {
	return &staging{
		mutex:     &sync.Mutex{},
		pending:   map[string]map[string]string{},
		persisted: map[string]record{},
	}
}

func (s *staging) Save(split string, offsets map[string]string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}
	merged, ok := s.pending[split]
	if !ok {
		merged = map[string]string{}
		s.pending[split] = merged
	}
	for queue, offset := range offsets {
		merged[queue] = offset
	}
	return nil
}

// drain takes the staged offsets merged over the persisted ones, caller holds the mutex.
func (s *staging) drain(checkpointId int64) map[string]record {
	records := make(map[string]record, len(s.pending))
	for split, offsets := range s.pending {
		merged := map[string]string{}
		for queue, offset := range s.persisted[split].offsets {
			merged[queue] = offset
		}
		for queue, offset := range offsets {
			merged[queue] = offset
		}
		records[split] = record{checkpointId: checkpointId, offsets: merged}
	}
	return records
}

func (s *staging) commit(records map[string]record) {
	for split, r := range records {
		s.persisted[split] = r
		delete(s.pending, split)
	}
}

func (s *staging) Get(split string) (map[string]string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	r, ok := s.persisted[split]
	if !ok {
		return nil, false, nil
	}
	offsets := make(map[string]string, len(r.offsets))
	for queue, offset := range r.offsets {
		offsets[queue] = offset
	}
	return offsets, true, nil
}

type memory struct {
	*staging
}

func (m *memory) Persist(checkpointId int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.commit(m.drain(checkpointId))
	return nil
}

func (m *memory) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}

// NewMemoryBackend keeps checkpoints in process memory only.
func NewMemoryBackend() Backend {
	return &memory{staging: newStaging()}
}
