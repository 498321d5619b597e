package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

// ErrSinkClosed is returned by writes after Close.
var ErrSinkClosed = errors.New("memory sink closed")

// Sink collects records in write order.
type Sink struct {
	mu      sync.Mutex
	ids     icp.IDGenerator
	records []icp.Record
	closed  bool
}

// NewSink builds a Sink. ids may be nil to keep placeholder IDs.
func NewSink(ids icp.IDGenerator) *Sink {
	return &Sink{ids: ids}
}

// Write appends record, assigning an ID when a generator is configured.
func (s *Sink) Write(_ context.Context, record icp.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.ids != nil && record.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return err
		}
		record.ID = id
	}
	s.records = append(s.records, record)
	return nil
}

// Close stops further writes.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns a copy of everything written.
func (s *Sink) Records() []icp.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]icp.Record(nil), s.records...)
}
