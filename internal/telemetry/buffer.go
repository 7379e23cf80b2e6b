package telemetry

import "sync"

// DefaultBufferCap bounds each project's buffered window. At the 3s publish
// interval this holds roughly thirty minutes of telemetry.
const DefaultBufferCap = 600

// BufferStore keeps a bounded FIFO of raw telemetry payloads per project.
// The relay's subscription path appends; the monitor's cycle drains. One
// mutex covers both so an in-flight append can never race a drain.
type BufferStore struct {
	mu      sync.Mutex
	cap     int
	buffers map[string][][]byte
}

// NewBufferStore creates a store with the given per-project cap.
func NewBufferStore(capacity int) *BufferStore {
	if capacity <= 0 {
		capacity = DefaultBufferCap
	}
	return &BufferStore{
		cap:     capacity,
		buffers: make(map[string][][]byte),
	}
}

// Append records a payload for a project, evicting the oldest entry once the
// cap is reached.
func (s *BufferStore) Append(projectID string, payload []byte) {
	if projectID == "" || len(payload) == 0 {
		return
	}
	entry := append([]byte(nil), payload...)
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffers[projectID]
	if len(buf) >= s.cap {
		copy(buf, buf[1:])
		buf[len(buf)-1] = entry
	} else {
		buf = append(buf, entry)
	}
	s.buffers[projectID] = buf
}

// Requeue puts a drained window back at the front of a project's buffer,
// ahead of anything appended since the drain, so a failed flush can retry on
// the next cycle without losing the window. Oldest entries drop first if the
// merged result exceeds the cap.
func (s *BufferStore) Requeue(projectID string, payloads [][]byte) {
	if projectID == "" || len(payloads) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make([][]byte, 0, len(payloads)+len(s.buffers[projectID]))
	merged = append(merged, payloads...)
	merged = append(merged, s.buffers[projectID]...)
	if len(merged) > s.cap {
		merged = merged[len(merged)-s.cap:]
	}
	s.buffers[projectID] = merged
}

// Drain returns the buffered window for a project and clears it atomically.
func (s *BufferStore) Drain(projectID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[projectID]
	if !ok {
		return nil
	}
	delete(s.buffers, projectID)
	return buf
}

// Projects lists projects that currently have buffered telemetry.
func (s *BufferStore) Projects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the buffered entry count for a project.
func (s *BufferStore) Len(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[projectID])
}
