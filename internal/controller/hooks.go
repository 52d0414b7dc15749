package controller

import (
	"context"
	"time"

	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/history"
)

// WriteResult describes one completed parameter write.
type WriteResult struct {
	Address   string
	Parameter control.Parameter
	Requested control.Value

	// Accepted is the device's echo. Zero when Err is set.
	Accepted control.Value
	Err      error

	// Source is history.SourceAPI, SourceMQTT or SourceCLI.
	Source   string
	At       time.Time
	Duration time.Duration
}

// Recorder is told about every write outcome.
type Recorder interface {
	RecordWrite(ctx context.Context, r WriteResult)
}

// Listener is told whenever a controller's intended settings change.
type Listener interface {
	SettingsChanged(address string, s control.Settings)
}

// Recorders fans a result out to several recorders.
type Recorders []Recorder

// RecordWrite calls every recorder in order.
func (rs Recorders) RecordWrite(ctx context.Context, r WriteResult) {
	for _, rec := range rs {
		if rec != nil {
			rec.RecordWrite(ctx, r)
		}
	}
}

// Listeners fans a notification out to several listeners.
type Listeners []Listener

// SettingsChanged calls every listener in order.
func (ls Listeners) SettingsChanged(address string, s control.Settings) {
	for _, l := range ls {
		if l != nil {
			l.SettingsChanged(address, s)
		}
	}
}

// HistoryRecorder stores write outcomes in a history.Repository.
type HistoryRecorder struct {
	Repo   history.Repository
	Logger Logger
}

// RecordWrite converts r to a history entry and stores it. Storage errors
// are logged, never returned; history must not block device control.
func (h HistoryRecorder) RecordWrite(ctx context.Context, r WriteResult) {
	entry := history.Entry{
		Address:   r.Address,
		Parameter: string(r.Parameter),
		Requested: r.Requested.String(),
		Outcome:   history.OutcomeAccepted,
		Source:    r.Source,
		CreatedAt: r.At,
	}
	if r.Err != nil {
		entry.Outcome = history.OutcomeFailed
		entry.Error = r.Err.Error()
	} else {
		entry.Accepted = r.Accepted.String()
	}

	// The dispatcher context may already be cancelled on shutdown; the
	// record of the final write should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := h.Repo.Record(ctx, entry); err != nil && h.Logger != nil {
		h.Logger.Warn("recording parameter history failed",
			"address", r.Address,
			"parameter", string(r.Parameter),
			"error", err,
		)
	}
}

// TelemetryWriter receives write outcomes as time-series points.
// *influxdb.Client implements it.
type TelemetryWriter interface {
	WriteParameter(address, parameter string, value any, ok bool, latency time.Duration, at time.Time)
}

// TelemetryRecorder forwards write outcomes to a TelemetryWriter.
type TelemetryRecorder struct {
	Writer TelemetryWriter
}

// RecordWrite emits one point per write. Numeric values are sent as
// integers so they can be graphed; the name is sent as text.
func (t TelemetryRecorder) RecordWrite(_ context.Context, r WriteResult) {
	v := r.Requested
	if r.Err == nil {
		v = r.Accepted
	}
	var value any = v.Number
	if v.IsText() {
		value = v.Text
	}
	t.Writer.WriteParameter(r.Address, string(r.Parameter), value, r.Err == nil, r.Duration, r.At)
}
