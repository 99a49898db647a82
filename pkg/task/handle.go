package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LumeraProtocol/notary/pkg/logtrace"
)

var ErrAlreadyRunning = errors.New("task already running")

// Handle pairs Start with End for one task. A watchdog ends the task after
// a timeout so a stuck request cannot stay in status reports forever.
type Handle struct {
	tr      Tracker
	service string
	id      string
	stop    chan struct{}
	once    sync.Once
}

// StartWith starts tracking id under service.
func StartWith(tr Tracker, ctx context.Context, service, id string, timeout time.Duration) *Handle {
	if tr == nil || service == "" || id == "" {
		return &Handle{}
	}
	tr.Start(service, id)
	return startHandle(tr, ctx, service, id, timeout)
}

// StartUniqueWith is StartWith that fails with ErrAlreadyRunning when the
// same (service, id) is already tracked. Trackers without TryStart cannot
// enforce this and fall back to Start.
func StartUniqueWith(tr Tracker, ctx context.Context, service, id string, timeout time.Duration) (*Handle, error) {
	if tr == nil || service == "" || id == "" {
		return &Handle{}, nil
	}
	if ts, ok := tr.(interface {
		TryStart(service, taskID string) bool
	}); ok {
		if !ts.TryStart(service, id) {
			return nil, ErrAlreadyRunning
		}
	} else {
		tr.Start(service, id)
	}
	return startHandle(tr, ctx, service, id, timeout), nil
}

func startHandle(tr Tracker, ctx context.Context, service, id string, timeout time.Duration) *Handle {
	logtrace.Debug(ctx, "task: started", logtrace.Fields{logtrace.FieldModule: service, logtrace.FieldTaskID: id})
	h := &Handle{tr: tr, service: service, id: id, stop: make(chan struct{})}
	if timeout > 0 {
		go func() {
			t := time.NewTimer(timeout)
			defer t.Stop()
			select {
			case <-t.C:
				h.end(ctx, true)
			case <-h.stop:
			}
		}()
	}
	return h
}

// End stops tracking the task. Safe to call more than once.
func (h *Handle) End(ctx context.Context) {
	h.end(ctx, false)
}

func (h *Handle) end(ctx context.Context, expired bool) {
	if h == nil || h.service == "" || h.id == "" {
		return
	}
	h.once.Do(func() {
		close(h.stop)
		h.tr.End(h.service, h.id)
		fields := logtrace.Fields{logtrace.FieldModule: h.service, logtrace.FieldTaskID: h.id}
		if expired {
			logtrace.Warn(ctx, "task: watchdog expired", fields)
		} else {
			logtrace.Debug(ctx, "task: ended", fields)
		}
	})
}
