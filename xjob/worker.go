package xjob

import (
	"time"

	"github.com/sdcore/corevault/cmn/debug"
	"github.com/sdcore/corevault/core"
	"github.com/sdcore/corevault/evtbus"
)

type signal int

const (
	sigPause signal = iota
	sigResume
	sigCancel
)

// Worker drives one JobReport's Body to completion, honoring pause/resume/
// cancel control signals and publishing debounced progress to the bus.
type Worker struct {
	mgr    *Manager
	report *core.JobReport
	body   Body
	ident  identity

	ctrl chan signal
	done chan struct{}
}

func newWorker(mgr *Manager, report *core.JobReport, body Body) *Worker {
	return &Worker{
		mgr:    mgr,
		report: report,
		body:   body,
		ident:  identity{libraryID: report.LibraryID, action: report.Action, groupKey: report.GroupKey},
		ctrl:   make(chan signal, 4),
		done:   make(chan struct{}),
	}
}

func (w *Worker) signal(s signal) {
	select {
	case w.ctrl <- s:
	case <-w.done:
	}
}

func (w *Worker) start() {
	w.mutate(func(r *core.JobReport) {
		now := time.Now()
		r.StartedAt = &now
		r.Status = core.Running
	})
	go w.run()
}

// mutate runs fn with the report's fields guarded by the manager's table
// lock, the same short critical section Spawn/Get/ActiveReports use — the
// report pointer is shared with those readers, so every write here must be
// synchronized against it. The lock is never held across a suspension point.
func (w *Worker) mutate(fn func(*core.JobReport)) {
	w.mgr.mu.Lock()
	fn(w.report)
	w.mgr.mu.Unlock()
}

func (w *Worker) status() core.JobStatus {
	w.mgr.mu.Lock()
	defer w.mgr.mu.Unlock()
	return w.report.Status
}

// run executes Body.Step in a loop, checking for control signals between
// every step.
func (w *Worker) run() {
	defer close(w.done)
	var lastPublish time.Time
	paused := false

	for {
		select {
		case s := <-w.ctrl:
			switch s {
			case sigPause:
				w.mutate(func(r *core.JobReport) {
					if r.Status == core.Queued || r.Status == core.Running {
						r.Status = core.Paused
						paused = true
					}
				})
			case sigResume:
				w.mutate(func(r *core.JobReport) {
					if r.Status == core.Paused {
						r.Status = core.Queued
						paused = false
					}
				})
			case sigCancel:
				w.terminate(core.Canceled, "canceled")
				return
			}
			continue
		default:
		}

		if paused {
			s := <-w.ctrl // block until resumed or canceled
			switch s {
			case sigResume:
				// Resume re-queues rather than jumping straight back to Running,
				// matching the main select's sigResume case and giving every
				// resume the same Paused -> Queued -> Running shape, observable
				// at the next loop iteration below.
				w.mutate(func(r *core.JobReport) { r.Status = core.Queued })
				paused = false
			case sigCancel:
				w.terminate(core.Canceled, "canceled")
				return
			}
			continue
		}

		if w.status() == core.Queued {
			w.mutate(func(r *core.JobReport) { r.Status = core.Running })
		}

		outcome, err := w.body.Step()
		if err != nil {
			var message string
			w.mutate(func(r *core.JobReport) {
				r.Errors = append(r.Errors, err.Error())
				message = err.Error()
			})
			w.terminate(core.Failed, message)
			return
		}

		var message string
		var hasErrors, overThreshold bool
		w.mutate(func(r *core.JobReport) {
			r.CompletedTaskCount += outcome.CompletedTaskDelta
			r.Errors = append(r.Errors, outcome.NonFatalErrors...)
			if outcome.Message != "" {
				r.Message = outcome.Message
			}
			message = r.Message
			hasErrors = len(r.Errors) > 0
			overThreshold = r.MaxErrors > 0 && int64(len(r.Errors)) > r.MaxErrors
		})

		if overThreshold {
			w.terminate(core.Failed, "exceeded error threshold")
			return
		}

		if outcome.Done {
			status := core.Completed
			if hasErrors {
				status = core.CompletedWithErrors
			}
			w.terminate(status, message)
			return
		}

		now := time.Now()
		if now.Sub(lastPublish) >= progressDebounce {
			lastPublish = now
			w.mgr.mu.Lock()
			ev := evtbus.JobProgressEvent{
				JobID:              w.report.ID,
				CompletedTaskCount: w.report.CompletedTaskCount,
				Message:            w.report.Message,
			}
			w.mgr.mu.Unlock()
			w.mgr.bus.Publish(evtbus.TopicJobProgress, ev)
		}
	}
}

func (w *Worker) terminate(status core.JobStatus, message string) {
	var ev evtbus.JobProgressEvent
	w.mutate(func(r *core.JobReport) {
		debug.Assertf(!r.Status.Terminal(), "job %s: terminal status %s transitioning to %s", r.ID, r.Status, status)
		now := time.Now()
		r.Status = status
		r.CompletedAt = &now
		if message != "" {
			r.Message = message
		}
		ev = evtbus.JobProgressEvent{
			JobID:              r.ID,
			CompletedTaskCount: r.CompletedTaskCount,
			Message:            r.Message,
			Terminal:           true,
		}
	})
	w.mgr.finish(w.ident, w.report)
	// the terminal event is always delivered, bypassing the debounce window.
	w.mgr.bus.Publish(evtbus.TopicJobProgress, ev)
}
