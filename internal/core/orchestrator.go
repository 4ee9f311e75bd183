package core

/*
secagg — client for aggregating security metadata about domain names
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/x-stp/secagg/internal/aggregator"
	"github.com/x-stp/secagg/internal/domains"
	"github.com/x-stp/secagg/internal/export"
	"github.com/x-stp/secagg/internal/metrics"
)

// State is the orchestrator's process state.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateDone
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status messages shown to the user.
const (
	StatusNoDomains = "Please add at least one domain."
	statusFmtBusy   = "Processing %d domain(s)..."
	statusFmtDone   = "Done. Processed %d domain(s)."
	statusFmtError  = "Error: %s"
)

// Aggregator is the network collaborator. *aggregator.Client implements it.
type Aggregator interface {
	Aggregate(ctx context.Context, domains []string) ([]aggregator.Item, error)
}

// Snapshot is an immutable copy of the orchestrator state.
type Snapshot struct {
	State         State
	Status        string
	SubmitEnabled bool
	ExportEnabled bool
	// Domains is the list of the most recent accepted submission.
	Domains []string
	// Results is the last successful result set.
	Results []aggregator.Item
	// Fingerprint identifies the domain list that produced Results.
	Fingerprint string
	// Err is the error of the last failed transition, nil otherwise.
	Err error
}

// StaleFor reports whether Results were produced for a different list than
// the one raw normalizes to. It is false while there are no results.
func (s Snapshot) StaleFor(raw string) bool {
	if s.Fingerprint == "" {
		return false
	}
	return domains.Fingerprint(domains.Normalize(raw)) != s.Fingerprint
}

// Orchestrator owns the process state, the status message, the submit and
// export enablement and the result set. It is safe for concurrent use;
// a second submission is rejected while one is processing.
type Orchestrator struct {
	mu  sync.Mutex
	agg Aggregator

	state         State
	status        string
	submitEnabled bool
	exportEnabled bool
	exportBefore  bool
	domains       []string
	results       []aggregator.Item
	fingerprint   string
	lastErr       error

	onChange func(Snapshot)
}

// NewOrchestrator returns an idle orchestrator with submit enabled and export
// disabled.
func NewOrchestrator(agg Aggregator) *Orchestrator {
	return &Orchestrator{
		agg:           agg,
		state:         StateIdle,
		submitEnabled: true,
	}
}

// OnChange registers fn to receive every new snapshot. fn runs on the
// goroutine that caused the transition, outside the orchestrator lock.
func (o *Orchestrator) OnChange(fn func(Snapshot)) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// Begin normalizes raw and, for a non-empty list, enters StateProcessing.
// It returns the list to pass to Call. An empty list leaves the orchestrator
// idle with ErrNoDomains; an active submission yields ErrSubmissionInFlight.
func (o *Orchestrator) Begin(raw string) ([]string, error) {
	list := domains.Normalize(raw)

	o.mu.Lock()
	if o.state == StateProcessing {
		o.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}

	if len(list) == 0 {
		o.state = StateIdle
		o.status = StatusNoDomains
		o.lastErr = ErrNoDomains
		snap, notify := o.snapshotLocked(), o.onChange
		o.mu.Unlock()

		metrics.GetMetrics().RecordSubmission("rejected", 0)
		log.Printf("Submission rejected: no domains in input")
		if notify != nil {
			notify(snap)
		}
		return nil, ErrNoDomains
	}

	o.state = StateProcessing
	o.status = fmt.Sprintf(statusFmtBusy, len(list))
	o.submitEnabled = false
	o.exportBefore = o.exportEnabled
	o.exportEnabled = false
	o.domains = list
	o.lastErr = nil
	snap, notify := o.snapshotLocked(), o.onChange
	o.mu.Unlock()

	log.Printf("Submitting %d domain(s)", len(list))
	if notify != nil {
		notify(snap)
	}
	return list, nil
}

// Call performs the single backend request for list. It does not touch
// orchestrator state and may run on any goroutine.
func (o *Orchestrator) Call(ctx context.Context, list []string) ([]aggregator.Item, error) {
	return o.agg.Aggregate(ctx, list)
}

// Complete applies the outcome of Call and returns the new snapshot.
//
// On success the result set is replaced, export is enabled when it is
// non-empty and the state becomes StateDone. On failure the result set is
// kept, export enablement returns to its value before Begin and the state
// becomes StateError. Submit is re-enabled either way.
func (o *Orchestrator) Complete(list []string, items []aggregator.Item, err error) Snapshot {
	m := metrics.GetMetrics()

	o.mu.Lock()
	if o.state != StateProcessing {
		log.Printf("Warning: completion received in state %s", o.state)
	}
	o.submitEnabled = true
	if err != nil {
		o.state = StateError
		o.status = fmt.Sprintf(statusFmtError, err.Error())
		o.exportEnabled = o.exportBefore
		o.lastErr = err
	} else {
		o.state = StateDone
		o.status = fmt.Sprintf(statusFmtDone, len(items))
		o.results = items
		o.fingerprint = domains.Fingerprint(list)
		o.exportEnabled = len(items) > 0
		o.lastErr = nil
	}
	resultCount := len(o.results)
	snap, notify := o.snapshotLocked(), o.onChange
	o.mu.Unlock()

	m.RecordSubmission(snap.State.String(), len(list))
	m.SetResultSetSize(resultCount)
	if err != nil {
		log.Printf("Aggregation of %d domain(s) failed: %v", len(list), err)
	} else {
		log.Printf("Aggregation of %d domain(s) returned %d result(s)", len(list), len(items))
	}
	if notify != nil {
		notify(snap)
	}
	return snap
}

// Submit runs Begin, Call and Complete in sequence.
func (o *Orchestrator) Submit(ctx context.Context, raw string) (Snapshot, error) {
	list, err := o.Begin(raw)
	if err != nil {
		return o.Snapshot(), err
	}
	items, err := o.Call(ctx, list)
	return o.Complete(list, items, err), err
}

// Export returns the CSV document of the current result set.
func (o *Orchestrator) Export() (string, error) {
	items, err := o.exportable()
	if err != nil {
		return "", err
	}
	return export.ToCSV(items), nil
}

// WriteExport writes the current result set to path. See export.Write.
func (o *Orchestrator) WriteExport(path string, compress bool) (string, int64, error) {
	items, err := o.exportable()
	if err != nil {
		return "", 0, err
	}
	return export.Write(path, items, compress)
}

func (o *Orchestrator) exportable() ([]aggregator.Item, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.exportEnabled || len(o.results) == 0 {
		return nil, ErrNothingToExport
	}
	return append([]aggregator.Item(nil), o.results...), nil
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		State:         o.state,
		Status:        o.status,
		SubmitEnabled: o.submitEnabled,
		ExportEnabled: o.exportEnabled,
		Domains:       append([]string(nil), o.domains...),
		Results:       append([]aggregator.Item(nil), o.results...),
		Fingerprint:   o.fingerprint,
		Err:           o.lastErr,
	}
}
