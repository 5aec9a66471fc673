package assemble

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Stream reassembles concurrently fetched segments into one continuous byte
// stream. Fetches complete in arbitrary order; output bytes are written
// strictly in segment index order. A segment whose fetch permanently failed
// is abandoned and recorded as a gap, after which assembly of the following
// segments proceeds. Safe for concurrent use by the fetch fan-out.
//
// Invariant: every index in [0, total) is accounted for exactly once, either
// as written bytes or as a recorded gap, and bytes are never emitted out of
// order.
type Stream struct {
	mu      sync.Mutex
	w       io.Writer
	total   int
	next    int            // lowest index not yet flushed
	pending map[int][]byte // fetched segments waiting on an earlier index
	gone    map[int]bool   // abandoned segments not yet flushed as gaps
	done    map[int]bool   // indexes already delivered or abandoned
	gaps    []int
	written int64
	werr    error
}

// Result summarizes a completed stream.
type Result struct {
	Bytes int64
	Gaps  []int
}

// Partial reports whether the stream has recorded discontinuities.
func (r Result) Partial() bool { return len(r.Gaps) > 0 }

// New creates an assembler for a stream of total segments writing to w.
func New(w io.Writer, total int) *Stream {
	return &Stream{
		w:       w,
		total:   total,
		pending: make(map[int][]byte),
		gone:    make(map[int]bool),
		done:    make(map[int]bool),
	}
}

// Deliver hands the assembler a fetched segment. Bytes are appended to the
// output once every earlier index has been flushed. Delivering an index twice
// or out of range is a programming error and is rejected.
func (s *Stream) Deliver(index int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.total {
		return fmt.Errorf("segment index %d out of range [0,%d)", index, s.total)
	}
	if s.done[index] {
		return fmt.Errorf("segment %d delivered twice", index)
	}
	s.done[index] = true
	s.pending[index] = data
	return s.flushLocked()
}

// Abandon records a permanent fetch failure for a segment. The position is
// kept as a gap in the result; later segments are no longer blocked on it.
func (s *Stream) Abandon(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.total {
		return fmt.Errorf("segment index %d out of range [0,%d)", index, s.total)
	}
	if s.done[index] {
		return fmt.Errorf("segment %d abandoned after delivery", index)
	}
	s.done[index] = true
	s.gone[index] = true
	return s.flushLocked()
}

// flushLocked appends every contiguous segment now available at the front of
// the pending set. Caller holds the lock.
func (s *Stream) flushLocked() error {
	if s.werr != nil {
		return s.werr
	}
	for s.next < s.total {
		if data, ok := s.pending[s.next]; ok {
			n, err := s.w.Write(data)
			s.written += int64(n)
			if err != nil {
				s.werr = fmt.Errorf("writing segment %d: %w", s.next, err)
				return s.werr
			}
			delete(s.pending, s.next)
			s.next++
			continue
		}
		if s.gone[s.next] {
			s.gaps = append(s.gaps, s.next)
			delete(s.gone, s.next)
			s.next++
			continue
		}
		break
	}
	return nil
}

// Complete finishes the stream. It fails if any segment was neither delivered
// nor abandoned, so a stream can never end silently short.
func (s *Stream) Complete() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.werr != nil {
		return Result{}, s.werr
	}
	if s.next != s.total {
		missing := make([]int, 0)
		for i := s.next; i < s.total; i++ {
			if !s.done[i] {
				missing = append(missing, i)
			}
		}
		return Result{}, fmt.Errorf("stream incomplete: %d segments unaccounted for %v", len(missing), missing)
	}

	gaps := make([]int, len(s.gaps))
	copy(gaps, s.gaps)
	sort.Ints(gaps)
	return Result{Bytes: s.written, Gaps: gaps}, nil
}
