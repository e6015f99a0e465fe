package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stagegraph/stagegraph/internal/client"
	"github.com/stagegraph/stagegraph/internal/secret"
)

const (
	logFlushInterval  = time.Second
	logFlushBatchSize = 10
)

// logShipper batches a stage run's captured stdout/stderr lines and ships
// them to the control plane every logFlushInterval or logFlushBatchSize
// lines, whichever comes first (spec.md §4.6). One shipper per execution —
// no cross-call state is shared.
type logShipper struct {
	cp         *client.Client
	stageRunID string

	mu      sync.Mutex
	pending []client.LogEntry

	flush    chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

func newLogShipper(cp *client.Client, stageRunID string) *logShipper {
	s := &logShipper{
		cp:         cp,
		stageRunID: stageRunID,
		flush:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Write appends a captured line. Safe for concurrent use by stdout/stderr
// readers.
func (s *logShipper) Write(line string) {
	entry := client.LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Content:   secret.RedactLine(line),
	}
	s.mu.Lock()
	s.pending = append(s.pending, entry)
	full := len(s.pending) >= logFlushBatchSize
	s.mu.Unlock()
	if full {
		select {
		case s.flush <- struct{}{}:
		default:
		}
	}
}

func (s *logShipper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(logFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.drain()
		case <-s.flush:
			s.drain()
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *logShipper) drain() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if _, err := s.cp.PushLogs(context.Background(), s.stageRunID, batch); err != nil {
		logrus.Warnf("worker: ship logs for %s: %v", s.stageRunID, err)
	}
}

// Close forces a final flush and stops the background ticker, blocking
// until the drain completes (spec.md §4.6: "on completion, a forced flush
// drains the queue").
func (s *logShipper) Close() {
	close(s.done)
	s.wg.Wait()
}
