package notifications

import (
	"context"
	"sync"
)

// Recorder keeps notifications in memory. Setting Err makes Send fail, which lets
// callers exercise their rollback paths.
type Recorder struct {
	mu    sync.Mutex
	sent  []Notification
	Err   error
	calls int
}

func (r *Recorder) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, n)
	return nil
}

// SetErr changes the failure injected into subsequent sends.
func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

// Sent returns a copy of the delivered notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// Calls counts every Send attempt, including failed ones.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Last returns the most recent delivered notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sent) == 0 {
		return Notification{}, false
	}
	return r.sent[len(r.sent)-1], true
}
