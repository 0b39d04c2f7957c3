package scan

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// LocalDispatcher runs jobs on goroutines of this process. Used by the
// single-process mode and by tests; production dispatches through asynq.
type LocalDispatcher struct {
	run    func(ctx context.Context, jobID uuid.UUID) error
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewLocalDispatcher(o *Orchestrator, logger *slog.Logger) *LocalDispatcher {
	return &LocalDispatcher{run: o.Run, logger: logger}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) (string, error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.run(context.WithoutCancel(ctx), jobID); err != nil {
			d.logger.Error("scan run failed", "scan_id", jobID, "error", err)
		}
	}()
	return "local:" + jobID.String(), nil
}

// Wait blocks until every dispatched job has returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

var _ Dispatcher = (*LocalDispatcher)(nil)
