package render

import (
	"context"

	"github.com/weldaudio/weld/internal/audio"
	"github.com/weldaudio/weld/internal/stitch"
)

// Job is a render in flight. Callers poll Done or block on Wait; the
// session layer uses it to hold its Rendering state without blocking
// mutating callers on the composition itself.
type Job struct {
	done   chan struct{}
	cancel context.CancelFunc

	track Track
	err   error
}

// Start launches an asynchronous render. The job owns a derived context;
// Cancel aborts the composition and releases partial buffers.
func (r *Renderer) Start(ctx context.Context, plan stitch.Plan, target audio.Format) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		defer close(j.done)
		j.track, j.err = r.Render(ctx, plan, target)
	}()
	return j
}

// Done is closed when the render finishes, fails, or is cancelled.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel aborts the render. The job completes with the context error and
// no track.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job completes and returns its result.
func (j *Job) Wait() (Track, error) {
	<-j.done
	return j.track, j.err
}

// Result returns the outcome if the job has completed; ok is false while
// the render is still in flight.
func (j *Job) Result() (track Track, err error, ok bool) {
	select {
	case <-j.done:
		return j.track, j.err, true
	default:
		return Track{}, nil, false
	}
}
