package remote

import "sync"

// Stream is the Subscription bookkeeping shared by the backends: a done
// channel closed exactly once, the reason the stream ended and a release
// hook run at most once.
type Stream struct {
	done    chan struct{}
	endOnce sync.Once

	mu  sync.Mutex
	err error

	release     func() error
	releaseOnce sync.Once
	releaseErr  error
}

func NewStream(release func() error) *Stream {
	return &Stream{done: make(chan struct{}), release: release}
}

// End marks the stream finished. Only the first call counts.
func (s *Stream) End(err error) {
	s.endOnce.Do(func() {
		if err != nil {
			s.mu.Lock()
			s.err = Disconnected(err)
			s.mu.Unlock()
		}
		close(s.done)
	})
}

// Release runs the release hook once and ends the stream without error.
func (s *Stream) Release() error {
	s.releaseOnce.Do(func() {
		s.End(nil)
		if s.release != nil {
			s.releaseErr = s.release()
		}
	})
	return s.releaseErr
}

func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Ended reports whether End or Release has run.
func (s *Stream) Ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
