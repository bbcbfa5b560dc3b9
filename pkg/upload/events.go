package upload

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
)

// EventLog appends lifecycle events of one run to a JSONL file
type EventLog struct {
	w     *manifest.JSONLWriter
	runID string
	log   *logrus.Entry
}

// NewEventLog appends to path, stamping every event with runID.
func NewEventLog(path, runID string, log *logrus.Entry) *EventLog {
	return &EventLog{w: manifest.NewJSONLWriter(path), runID: runID, log: log}
}

// Emit appends ev. A write failure is logged and otherwise ignored; the event log never fails a run.
func (e *EventLog) Emit(ev models.UploadEvent) {
	ev.RunID = e.runID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := e.w.Append(ev); err != nil {
		e.log.Warnf("Cannot append %s event to %s: %v", ev.Type, e.w.Path(), err)
	}
}
