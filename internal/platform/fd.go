package platform

import (
	"fmt"
	"sync"
	"syscall"
)

// OwnedFd wraps a raw file descriptor with guaranteed close-once-on-exit
// semantics. The coordinator adopts every fd it opens during Start into an
// OwnedFd so that every error path — including ones it did not anticipate —
// closes the descriptor via a deferred Close, rather than relying on each
// unwind branch to remember to do so.
type OwnedFd struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// AdoptFd takes ownership of a raw file descriptor.
func AdoptFd(fd int) *OwnedFd {
	return &OwnedFd{fd: fd}
}

// FD returns the underlying file descriptor. It remains valid only until
// Close is called.
func (f *OwnedFd) FD() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

// Close closes the underlying descriptor. It is idempotent: calling it more
// than once is a no-op returning nil.
func (f *OwnedFd) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if err := syscall.Close(f.fd); err != nil {
		return fmt.Errorf("closing fd %d: %w", f.fd, err)
	}
	return nil
}
