// Package sigrelay forwards signals received by this process on to a
// tracked child process (§4.7), the way a shell's job control forwards
// terminal/interactive signals to its foreground job.
package sigrelay

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// forwarded is the fixed signal set the launcher relays to its child
// (§4.7): terminal hangup/interrupt/quit plus graceful termination.
// SIGCHLD and SIGKILL are deliberately absent — SIGCHLD is this
// process's own reap notification, and SIGKILL cannot be caught at all.
var forwarded = []os.Signal{
	syscall.SIGTERM,
	syscall.SIGINT,
	syscall.SIGHUP,
	syscall.SIGQUIT,
}

// Relay forwards the fixed signal set to a single target pid, updated
// with SetTarget as the launcher's notion of "the running child"
// changes across its state machine. Installing more than once is safe;
// only the first call starts the forwarding goroutine.
type Relay struct {
	mu     sync.Mutex
	pid    int
	ch     chan os.Signal
	once   sync.Once
	closed bool
}

// New creates a Relay with no target; signals received before SetTarget
// is called are dropped.
func New() *Relay {
	return &Relay{ch: make(chan os.Signal, 16)}
}

// Install registers r's signal handlers and starts the forwarding
// goroutine. Idempotent.
func (r *Relay) Install() {
	r.once.Do(func() {
		signal.Notify(r.ch, forwarded...)
		go r.loop()
	})
}

// SetTarget updates the pid signals are forwarded to.
func (r *Relay) SetTarget(pid int) {
	r.mu.Lock()
	r.pid = pid
	r.mu.Unlock()
}

// Stop stops forwarding and releases the signal channel.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	signal.Stop(r.ch)
}

func (r *Relay) loop() {
	for sig := range r.ch {
		r.mu.Lock()
		pid := r.pid
		r.mu.Unlock()
		if pid <= 0 {
			continue
		}
		s, ok := sig.(syscall.Signal)
		if !ok {
			continue
		}
		syscall.Kill(pid, s)
	}
}
