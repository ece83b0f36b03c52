// Package source provides the producers of raw events: a finite source over
// a recorded trace and a periodic attack simulator.
package source

import (
	"context"
	"errors"
	"io"
	"sync"

	"SpectraIDS/internal/model"
	"SpectraIDS/pkg/pcap"
)

// ErrNotRestartable is reported by a TraceSource whose events were already
// consumed.
var ErrNotRestartable = errors.New("source: trace source already consumed")

// TraceSource yields one RawEvent per packet of a trace, exactly once.
type TraceSource struct {
	reader *pcap.Reader

	mu       sync.Mutex
	consumed bool
	err      error
}

// OpenTrace opens a trace file. Header decoding errors are returned here;
// errors later in the file are reported by Err.
func OpenTrace(path string) (*TraceSource, error) {
	r, err := pcap.NewReader(path)
	if err != nil {
		return nil, err
	}
	return NewTraceSource(r), nil
}

// NewTraceSource wraps an opened reader. The source takes ownership of r.
func NewTraceSource(r *pcap.Reader) *TraceSource {
	return &TraceSource{reader: r}
}

// Events streams the packets of the trace. The channel is closed at the end
// of the trace, on a decode error, or when ctx is canceled; Err tells which.
// Calling Events again returns a closed channel.
func (s *TraceSource) Events(ctx context.Context) <-chan model.RawEvent {
	out := make(chan model.RawEvent)

	s.mu.Lock()
	if s.consumed {
		if s.err == nil {
			s.err = ErrNotRestartable
		}
		s.mu.Unlock()
		close(out)
		return out
	}
	s.consumed = true
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer s.reader.Close()
		for {
			if err := ctx.Err(); err != nil {
				s.setErr(err)
				return
			}
			info, err := s.reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				s.setErr(err)
				return
			}
			select {
			case out <- model.RawEvent{Packet: info}:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
	}()
	return out
}

// Err returns the error that ended the stream, ErrNotRestartable after a
// second Events call, or nil for a trace read to completion. It is only
// meaningful once the channel from Events is closed.
func (s *TraceSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *TraceSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
