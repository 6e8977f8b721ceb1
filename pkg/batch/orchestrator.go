// Package batch runs a merge instruction table zone by zone.
//
// Each zone goes through PROVISIONING, SESSION_INIT, PROCESSING_ROWS and
// TEARDOWN. The table is saved after every processed row, so an
// interrupted run can be resumed by running it again: rows that succeeded
// are skipped.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slsp/almamerge/pkg/config"
	"github.com/slsp/almamerge/pkg/logging"
	"github.com/slsp/almamerge/pkg/merger"
	"github.com/slsp/almamerge/pkg/sheet"
	"github.com/slsp/almamerge/pkg/staff"
)

// State is a step of the per-zone state machine.
type State string

const (
	StateProvisioning   State = "PROVISIONING"
	StateSessionInit    State = "SESSION_INIT"
	StateProcessingRows State = "PROCESSING_ROWS"
	StateTeardown       State = "TEARDOWN"
)

// Provisioner creates and removes the temporary staff account of a zone.
type Provisioner interface {
	StaffID(zone string) string
	CreateStaffAccount(ctx context.Context, primaryID, zone string) *staff.Identity
	Delete(ctx context.Context, identity *staff.Identity)
}

// Session is a logged in browser session on the merge users page.
type Session interface {
	MergeUsers(ctx context.Context, fromID, toID string) error
	Terminate()
}

// SessionFactory logs in with identity and opens the merge users page.
type SessionFactory func(identity *staff.Identity) (Session, error)

// Table is the instruction table being processed.
type Table interface {
	Path() string
	Rows() []sheet.Row
	SetResult(i int, status sheet.Status, reason string) error
	Save() error
}

// ErrPersist is returned when the table cannot be saved. The run stops
// since further outcomes could not be recorded.
var ErrPersist = errors.New("failed to save instruction table")

// Orchestrator drives the merges of a table.
type Orchestrator struct {
	cfg         *config.Config
	provisioner Provisioner
	open        SessionFactory
	log         *logging.Logger

	now func() time.Time
}

// New creates an orchestrator.
func New(cfg *config.Config, provisioner Provisioner, open SessionFactory, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		provisioner: provisioner,
		open:        open,
		log:         logger,
		now:         time.Now,
	}
}

type zoneRows struct {
	zone string
	rows []sheet.Row
}

// groupByZone groups rows by zone, zones in order of first appearance and
// rows in table order.
func groupByZone(rows []sheet.Row) (groups []zoneRows, unzoned int) {
	index := make(map[string]int)
	for _, row := range rows {
		if row.Zone == "" {
			unzoned++
			continue
		}
		i, ok := index[row.Zone]
		if !ok {
			i = len(groups)
			index[row.Zone] = i
			groups = append(groups, zoneRows{zone: row.Zone})
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	return groups, unzoned
}

// Run processes every zone of the table. Zone failures are logged and
// recorded in the summary; the only error returned is a failure to save
// the table. A cancelled context stops the run between rows.
func (o *Orchestrator) Run(ctx context.Context, table Table) (*Summary, error) {
	summary := &Summary{
		RunID:       o.log.RunID(),
		Input:       table.Path(),
		Environment: o.cfg.Environment,
		StartTime:   o.now(),
	}
	defer func() {
		summary.finish(o.now())
	}()

	matches, err := o.cfg.ZoneMatcher()
	if err != nil {
		return summary, err
	}

	rows := table.Rows()
	groups, unzoned := groupByZone(rows)
	summary.Rows = len(rows)
	o.log.Infof("Starting user merge process: %d accounts to process.", len(rows))
	if unzoned > 0 {
		o.log.Warnf("Ignoring %d row(s) without zone", unzoned)
	}

	for n, group := range groups {
		if ctx.Err() != nil {
			summary.Interrupted = true
			o.log.Warnf("Run interrupted, %d zone(s) not started", len(groups)-n)
			break
		}

		if !matches(group.zone) {
			o.log.Infof("Skipping %s: not selected by zone patterns", group.zone)
			summary.Zones = append(summary.Zones, ZoneResult{Zone: group.zone, Rows: len(group.rows), Outcome: OutcomeNotSelected})
			continue
		}

		o.log.Infof("Processing %s (%d / %d): %d merges to perform.", group.zone, n+1, len(groups), len(group.rows))
		result, err := o.processZone(ctx, table, group)
		summary.Zones = append(summary.Zones, result)
		if result.Outcome == OutcomeInterrupted {
			summary.Interrupted = true
		}
		if err != nil {
			return summary, err
		}
	}

	return summary, nil
}

// processZone runs the state machine of one zone. Teardown runs whenever
// provisioning succeeded.
func (o *Orchestrator) processZone(ctx context.Context, table Table, group zoneRows) (result ZoneResult, err error) {
	zone := group.zone
	result = ZoneResult{Zone: zone, Rows: len(group.rows)}
	log := o.log.With("batch/" + zone)

	var pending []sheet.Row
	for _, row := range group.rows {
		if row.Status == sheet.StatusSuccess {
			result.Skipped++
			continue
		}
		pending = append(pending, row)
	}
	if len(pending) == 0 {
		log.Infof("All %d rows of %s already merged", len(group.rows), zone)
		result.Outcome = OutcomeCompleted
		return result, nil
	}

	// PROVISIONING
	result.State = StateProvisioning
	identity := o.provisioner.CreateStaffAccount(ctx, o.provisioner.StaffID(zone), zone)
	if identity.Failed() {
		log.Errorf("Skipping %s: cannot create staff account: %v", zone, identity.Err)
		result.Outcome = OutcomeProvisioningFailed
		result.Error = identity.Err.Error()
		return result, nil
	}

	var session Session
	defer func() {
		// TEARDOWN
		result.State = StateTeardown
		if session != nil {
			session.Terminate()
		}
		o.provisioner.Delete(context.WithoutCancel(ctx), identity)
	}()

	// SESSION_INIT
	result.State = StateSessionInit
	session, err = o.open(identity)
	if err != nil {
		session = nil
		log.Errorf("Skipping %s: cannot open merge page: %v", zone, err)
		result.Outcome = OutcomeSessionFailed
		result.Error = err.Error()
		return result, nil
	}

	// PROCESSING_ROWS
	result.State = StateProcessingRows
	result.Outcome = OutcomeCompleted
	for i, row := range pending {
		if ctx.Err() != nil {
			log.Warnf("Interrupted, %d row(s) of %s left unprocessed", len(pending)-i, zone)
			result.Outcome = OutcomeInterrupted
			result.Abandoned = len(pending) - i
			break
		}

		log.Infof("Processing %s (%d/%d): from %s to %s", zone, i+1, len(pending), row.From, row.To)
		mergeErr := o.merge(ctx, session, row)
		if mergeErr != nil && (ctx.Err() != nil || errors.Is(mergeErr, context.Canceled)) {
			// The row was cut short, not failed; it stays as it was
			log.Warnf("Interrupted while merging %s into %s, %d row(s) of %s left unprocessed: %v", row.From, row.To, len(pending)-i, zone, mergeErr)
			result.Outcome = OutcomeInterrupted
			result.Abandoned = len(pending) - i
			break
		}
		if err := o.record(table, row, mergeErr); err != nil {
			return result, err
		}

		if mergeErr == nil {
			result.Succeeded++
			continue
		}

		result.Failed++
		log.Errorf("Failed to merge %s into %s [%s]: %v", row.From, row.To, merger.KindOf(mergeErr), mergeErr)
		if merger.KeepsSession(mergeErr) {
			continue
		}

		session.Terminate()
		session = o.rebuild(identity, log)
		result.Rebuilds++
		if session == nil {
			log.Errorf("Cannot recover the browser session of %s, abandoning %d remaining row(s)", zone, len(pending)-i-1)
			result.Outcome = OutcomeAbandoned
			result.Abandoned = len(pending) - i - 1
			break
		}
	}

	return result, nil
}

// merge validates the row and runs the merge.
func (o *Orchestrator) merge(ctx context.Context, session Session, row sheet.Row) error {
	switch {
	case row.From == "":
		return &merger.Error{Kind: merger.KindInstruction, Stage: "instruction", Side: "from", Err: errors.New("user id is empty")}
	case row.To == "":
		return &merger.Error{Kind: merger.KindInstruction, Stage: "instruction", Side: "to", Err: errors.New("user id is empty")}
	case row.From == row.To:
		return &merger.Error{Kind: merger.KindInstruction, Stage: "instruction", Err: fmt.Errorf("cannot merge %s into itself", row.From)}
	}
	return session.MergeUsers(ctx, row.From, row.To)
}

// record stores the outcome of row and saves the table.
func (o *Orchestrator) record(table Table, row sheet.Row, mergeErr error) error {
	status, reason := sheet.StatusSuccess, ""
	if mergeErr != nil {
		status, reason = sheet.StatusFail, mergeErr.Error()
	}

	if err := table.SetResult(row.Index, status, reason); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := table.Save(); err != nil {
		o.log.Errorf("Cannot save progress, stopping: %v", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// rebuild opens a fresh session, trying up to the configured number of
// times. It returns nil when every attempt failed.
func (o *Orchestrator) rebuild(identity *staff.Identity, log *logging.Logger) Session {
	attempts := o.cfg.Retry.SessionRebuilds
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		session, err := o.open(identity)
		if err == nil {
			log.Infof("Browser session rebuilt")
			return session
		}
		log.Warnf("Session rebuild %d/%d failed: %v", attempt, attempts, err)
	}
	return nil
}
