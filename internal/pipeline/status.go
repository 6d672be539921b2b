package pipeline

import (
	"log/slog"
	"time"

	"github.com/livebabel/babel-core/internal/protocol"
)

// statusLoop periodically publishes per-lane status events so dashboards and
// operators can watch lane health without scraping metrics.
func (o *Orchestrator) statusLoop() {
	defer o.bgWG.Done()

	ticker := time.NewTicker(time.Duration(o.cfg.Pipeline.StatusIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.publishStatus()
		}
	}
}

func (o *Orchestrator) publishStatus() {
	for _, status := range o.Snapshot() {
		if err := o.deps.Bus.PublishJSON(protocol.SubjectLaneStatus, status); err != nil {
			o.logger.Warn("failed to publish lane status",
				slog.String("lang", status.Lang), slogError(err))
			return
		}
	}
}
