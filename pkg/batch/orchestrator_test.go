package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/slsp/almamerge/pkg/alma"
	"github.com/slsp/almamerge/pkg/browser"
	"github.com/slsp/almamerge/pkg/config"
	"github.com/slsp/almamerge/pkg/logging"
	"github.com/slsp/almamerge/pkg/merger"
	"github.com/slsp/almamerge/pkg/sheet"
	"github.com/slsp/almamerge/pkg/staff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopPage completes every UI action immediately.
type nopPage struct{}

func (nopPage) Navigate(string, browser.NavigateOptions) error { return nil }
func (nopPage) Click(browser.ClickOptions) error               { return nil }
func (nopPage) Fill(browser.FillOptions) error                 { return nil }
func (nopPage) Wait(browser.WaitOptions) error                 { return nil }
func (nopPage) IsChecked(string) (bool, error)                 { return true, nil }
func (nopPage) EnterFrame(string) error                        { return nil }
func (nopPage) LeaveFrame()                                    {}
func (nopPage) Settle()                                        {}

// fakeSession merges through a real executor on a nopPage. Merges of
// users listed in harness.uiFailures fail like a broken wizard step.
type fakeSession struct {
	h          *harness
	identity   *staff.Identity
	exec       *merger.Executor
	terminated int
}

func (s *fakeSession) MergeUsers(ctx context.Context, fromID, toID string) error {
	s.h.attempts = append(s.h.attempts, s.identity.Zone+":"+fromID+">"+toID)
	if !s.h.client.Exists(s.identity.PrimaryID, s.identity.Zone, s.identity.Env) {
		return errors.New("staff account vanished")
	}
	if s.h.onMerge != nil {
		s.h.onMerge(fromID)
	}
	if err, ok := s.h.uiFailures[fromID]; ok {
		return err
	}
	return s.exec.MergeUsers(ctx, fromID, toID)
}

func (s *fakeSession) Terminate() {
	s.terminated++
}

type harness struct {
	cfg    *config.Config
	client *alma.MemoryClient
	log    *bytes.Buffer
	orch   *Orchestrator

	sessions   []*fakeSession
	openErrs   []error
	uiFailures map[string]error
	attempts   []string
	onMerge    func(fromID string)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		cfg:        config.NewTestConfig(),
		client:     alma.NewMemoryClient(),
		log:        &bytes.Buffer{},
		uiFailures: make(map[string]error),
	}

	for _, u := range []struct{ zone, data string }{
		{"UBS", `{"primary_id":"U1","user_block":[{"block_type":{"value":"GENERAL"},"segment_type":"Internal"},{"block_type":{"value":"LOST"},"segment_type":"External"}]}`},
		{"UBS", `{"primary_id":"U2","user_block":[]}`},
		{"UBS", `{"primary_id":"U3"}`},
		{"UBS", `{"primary_id":"U4"}`},
		{"UBS", `{"primary_id":"U5"}`},
		{"UBS", `{"primary_id":"U6"}`},
		{"HPH", `{"primary_id":"H1"}`},
		{"HPH", `{"primary_id":"H2"}`},
	} {
		h.client.Put(u.zone, config.EnvSandbox, []byte(u.data))
	}

	logger := logging.NewWriterLogger("batch", h.log)
	prov, err := staff.NewProvisioner(h.cfg, h.client, logger.With("staff"))
	require.NoError(t, err)
	h.orch = New(h.cfg, prov, h.open, logger)
	return h
}

func (h *harness) open(identity *staff.Identity) (Session, error) {
	if len(h.openErrs) > 0 {
		err := h.openErrs[0]
		h.openErrs = h.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &fakeSession{
		h:        h,
		identity: identity,
		exec:     merger.NewExecutor(nopPage{}, h.client, identity.Zone, identity.Env, h.cfg.Retry, logging.NewWriterLogger("merger", h.log)),
	}
	h.sessions = append(h.sessions, s)
	return s, nil
}

func (h *harness) staffAccounts() int {
	n := 0
	for _, zone := range []string{"UBS", "HPH"} {
		if h.client.Exists(fmt.Sprintf("automation_%s@slsp.ch", lower(zone)), zone, config.EnvSandbox) {
			n++
		}
	}
	return n
}

func lower(zone string) string {
	return map[string]string{"UBS": "ubs", "HPH": "hph"}[zone]
}

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merge.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func loadTable(t *testing.T, path string) *sheet.Table {
	t.Helper()
	table, err := sheet.Load(path)
	require.NoError(t, err)
	return table
}

func statuses(t *testing.T, path string) []sheet.Status {
	t.Helper()
	var out []sheet.Status
	for _, row := range loadTable(t, path).Rows() {
		out = append(out, row.Status)
	}
	return out
}

func uiFailure(stage string) error {
	return &merger.Error{Kind: merger.KindUI, Stage: stage, Err: fmt.Errorf("wait visible: %w", playwright.ErrTimeout)}
}

func TestRunSingleMerge(t *testing.T) {
	h := newHarness(t)
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\n")

	summary, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []sheet.Status{sheet.StatusSuccess}, statuses(t, path))

	u2, err := h.client.Get(context.Background(), "U2", "UBS", config.EnvSandbox)
	require.NoError(t, err)
	blocks := u2.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, alma.SegmentInternal, blocks[0].SegmentType())

	assert.Equal(t, 0, h.staffAccounts(), "temporary account must be deleted")
	require.Len(t, h.sessions, 1)
	assert.Equal(t, 1, h.sessions[0].terminated)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, path, summary.Input)
	require.Len(t, summary.Zones, 1)
	assert.Equal(t, OutcomeCompleted, summary.Zones[0].Outcome)
	assert.Equal(t, StateTeardown, summary.Zones[0].State)
	assert.Contains(t, h.log.String(), "Processing UBS (1/1): from U1 to U2")
}

func TestRunUserNotFoundKeepsSession(t *testing.T) {
	h := newHarness(t)
	path := writeTable(t, "zone,from_user,to_user\nUBS,U404,U2\nUBS,U3,U4\n")

	summary, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []sheet.Status{sheet.StatusFail, sheet.StatusSuccess}, statuses(t, path))
	rows := loadTable(t, path).Rows()
	assert.Contains(t, rows[0].Error, "does not exist")
	assert.Contains(t, rows[0].Error, "from user")

	require.Len(t, h.sessions, 1, "not found must not rebuild the session")
	assert.Equal(t, []string{"UBS:U404>U2", "UBS:U3>U4"}, h.attempts)
	assert.Equal(t, 0, summary.Zones[0].Rebuilds)
	assert.Equal(t, 0, h.staffAccounts())
}

func TestRunRebuildsSessionAfterUIFailure(t *testing.T) {
	h := newHarness(t)
	h.uiFailures["U1"] = uiFailure("Add Job button")
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\nUBS,U3,U4\n")

	summary, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []sheet.Status{sheet.StatusFail, sheet.StatusSuccess}, statuses(t, path))
	assert.Contains(t, loadTable(t, path).Row(0).Error, "Add Job button")

	require.Len(t, h.sessions, 2)
	assert.Equal(t, 1, h.sessions[0].terminated)
	assert.Equal(t, 1, h.sessions[1].terminated)
	assert.Equal(t, 1, summary.Zones[0].Rebuilds)
	assert.Contains(t, h.log.String(), "[ui]")
}

func TestRunAbandonsZoneWhenRebuildFails(t *testing.T) {
	h := newHarness(t)
	h.cfg.Retry.SessionRebuilds = 2
	h.uiFailures["U3"] = uiFailure("search field")
	// Initial session for UBS succeeds, both rebuilds fail, HPH opens fine
	h.openErrs = []error{nil, errors.New("login page: timeout"), errors.New("login page: timeout")}
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\nUBS,U3,U4\nUBS,U5,U6\nHPH,H1,H2\n")

	summary, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []sheet.Status{
		sheet.StatusSuccess,
		sheet.StatusFail,
		sheet.StatusNotProcessed,
		sheet.StatusSuccess,
	}, statuses(t, path))

	ubs := summary.Zones[0]
	assert.Equal(t, OutcomeAbandoned, ubs.Outcome)
	assert.Equal(t, 1, ubs.Abandoned)
	assert.Equal(t, OutcomeCompleted, summary.Zones[1].Outcome)
	assert.Equal(t, 0, h.staffAccounts())
	assert.Contains(t, h.log.String(), "Session rebuild 2/2 failed")
	assert.Contains(t, summary.String(), "UBS (abandoned)")
}

func TestRunZoneIsolation(t *testing.T) {
	h := newHarness(t)
	path := writeTable(t, "zone,from_user,to_user\nXYZ,X1,X2\nHPH,H1,H2\nXYZ,X3,X4\n")

	summary, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []sheet.Status{
		sheet.StatusNotProcessed,
		sheet.StatusSuccess,
		sheet.StatusNotProcessed,
	}, statuses(t, path))

	require.Len(t, summary.Zones, 2)
	assert.Equal(t, "XYZ", summary.Zones[0].Zone)
	assert.Equal(t, OutcomeProvisioningFailed, summary.Zones[0].Outcome)
	assert.Contains(t, summary.Zones[0].Error, "unknown zone")
	assert.Equal(t, OutcomeCompleted, summary.Zones[1].Outcome)
	assert.Equal(t, []string{"HPH:H1>H2"}, h.attempts)
	assert.Equal(t, 1, h.client.Calls["create"], "only HPH provisions an account")
}

func TestRunSessionInitFailureDeletesIdentity(t *testing.T) {
	h := newHarness(t)
	h.openErrs = []error{&merger.Error{Kind: merger.KindSession, Stage: "login page", Err: errors.New("unreachable")}}
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\nHPH,H1,H2\n")

	summary, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []sheet.Status{sheet.StatusNotProcessed, sheet.StatusSuccess}, statuses(t, path))
	assert.Equal(t, OutcomeSessionFailed, summary.Zones[0].Outcome)
	assert.Equal(t, StateTeardown, summary.Zones[0].State)
	assert.Equal(t, 0, h.staffAccounts())
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	content := "zone,from_user,to_user,Merge_status\nUBS,U1,U2,SUCCESS\nHPH,H1,H2,SUCCESS\n"
	path := writeTable(t, content)
	before, err := os.Stat(path)
	require.NoError(t, err)

	summary, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Empty(t, h.attempts)
	assert.Empty(t, h.sessions)
	assert.Equal(t, 0, h.client.Calls["create"])
	assert.Equal(t, 0, summary.Attempted())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestRunResumesOnlyUnfinishedRows(t *testing.T) {
	h := newHarness(t)
	path := writeTable(t, "zone,from_user,to_user,Merge_status\n"+
		"UBS,U1,U2,SUCCESS\n"+
		"UBS,U3,U4,FAIL\n"+
		"UBS,U5,U6,NOT PROCESSED\n")

	_, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []string{"UBS:U3>U4", "UBS:U5>U6"}, h.attempts)
	assert.Equal(t, []sheet.Status{sheet.StatusSuccess, sheet.StatusSuccess, sheet.StatusSuccess}, statuses(t, path))
}

// snapshotTable captures the persisted file after every save.
type snapshotTable struct {
	*sheet.Table
	t         *testing.T
	snapshots [][]sheet.Status
}

func (s *snapshotTable) Save() error {
	if err := s.Table.Save(); err != nil {
		return err
	}
	s.snapshots = append(s.snapshots, statuses(s.t, s.Path()))
	return nil
}

func TestRunPersistsEveryRow(t *testing.T) {
	h := newHarness(t)
	h.uiFailures["U3"] = uiFailure("merge button")
	h.openErrs = []error{nil, errors.New("browser crashed")}
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\nUBS,U3,U4\nUBS,U5,U6\n")

	table := &snapshotTable{Table: loadTable(t, path), t: t}
	_, err := h.orch.Run(context.Background(), table)
	require.NoError(t, err)

	np, ok, ko := sheet.StatusNotProcessed, sheet.StatusSuccess, sheet.StatusFail
	assert.Equal(t, [][]sheet.Status{
		{ok, np, np},
		{ok, ko, np},
	}, table.snapshots)
}

type failingTable struct {
	*sheet.Table
}

func (failingTable) Save() error {
	return errors.New("disk full")
}

func TestRunStopsWhenTableCannotBeSaved(t *testing.T) {
	h := newHarness(t)
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\nUBS,U3,U4\nHPH,H1,H2\n")

	summary, err := h.orch.Run(context.Background(), failingTable{loadTable(t, path)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)

	assert.Equal(t, []string{"UBS:U1>U2"}, h.attempts)
	assert.Equal(t, 0, h.staffAccounts())
	assert.Equal(t, 1, h.sessions[0].terminated)
	assert.Len(t, summary.Zones, 1)
}

func TestRunInterrupted(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.onMerge = func(string) { cancel() }
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\nUBS,U3,U4\nHPH,H1,H2\n")

	summary, err := h.orch.Run(ctx, loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []string{"UBS:U1>U2"}, h.attempts)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, OutcomeInterrupted, summary.Zones[0].Outcome)
	assert.Equal(t, 1, summary.Zones[0].Abandoned)
	assert.Len(t, summary.Zones, 1)
	assert.Equal(t, 0, h.staffAccounts(), "teardown runs on interruption")
	assert.Equal(t, []sheet.Status{sheet.StatusSuccess, sheet.StatusNotProcessed, sheet.StatusNotProcessed}, statuses(t, path))
}

func TestRunInterruptedDuringRow(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.onMerge = func(string) { cancel() }
	h.uiFailures["U1"] = &merger.Error{
		Kind:  merger.KindDataUpdate,
		Stage: "copy internal blocks",
		Side:  "from",
		Err:   fmt.Errorf("failed to fetch user U1: %w", context.Canceled),
	}
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\nUBS,U3,U4\n")

	summary, err := h.orch.Run(ctx, loadTable(t, path))
	require.NoError(t, err)

	assert.Len(t, h.sessions, 1, "no session rebuild after an interruption")
	zone := summary.Zones[0]
	assert.Equal(t, OutcomeInterrupted, zone.Outcome)
	assert.Equal(t, 0, zone.Rebuilds)
	assert.Equal(t, 0, zone.Failed)
	assert.Equal(t, 2, zone.Abandoned)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 0, h.staffAccounts())
	assert.Equal(t, []sheet.Status{sheet.StatusNotProcessed, sheet.StatusNotProcessed}, statuses(t, path))
}

func TestRunZonePatterns(t *testing.T) {
	h := newHarness(t)
	h.cfg.ZonePatterns = []string{"H*"}
	path := writeTable(t, "zone,from_user,to_user\nUBS,U1,U2\nHPH,H1,H2\n")

	summary, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	assert.Equal(t, []string{"HPH:H1>H2"}, h.attempts)
	assert.Equal(t, OutcomeNotSelected, summary.Zones[0].Outcome)
}

func TestRunInvalidRows(t *testing.T) {
	h := newHarness(t)
	path := writeTable(t, "zone,from_user,to_user\nUBS,,U2\nUBS,U1,U1\n,U3,U4\nUBS,U3,U4\n")

	_, err := h.orch.Run(context.Background(), loadTable(t, path))
	require.NoError(t, err)

	rows := loadTable(t, path).Rows()
	assert.Equal(t, sheet.StatusFail, rows[0].Status)
	assert.Contains(t, rows[0].Error, "user id is empty")
	assert.Equal(t, sheet.StatusFail, rows[1].Status)
	assert.Contains(t, rows[1].Error, "into itself")
	assert.Equal(t, sheet.StatusNotProcessed, rows[2].Status)
	assert.Equal(t, sheet.StatusSuccess, rows[3].Status)
	assert.Len(t, h.sessions, 1)
	assert.Contains(t, h.log.String(), "Ignoring 1 row(s) without zone")
}

func TestGroupByZone(t *testing.T) {
	groups, unzoned := groupByZone([]sheet.Row{
		{Index: 0, Zone: "HPH"},
		{Index: 1, Zone: "UBS"},
		{Index: 2, Zone: ""},
		{Index: 3, Zone: "HPH"},
	})

	assert.Equal(t, 1, unzoned)
	require.Len(t, groups, 2)
	assert.Equal(t, "HPH", groups[0].zone)
	assert.Equal(t, 0, groups[0].rows[0].Index)
	assert.Equal(t, 3, groups[0].rows[1].Index)
	assert.Equal(t, "UBS", groups[1].zone)
}
