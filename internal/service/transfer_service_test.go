package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"sync"
	"testing"
	"time"

	"constructlink/internal/database"
	"constructlink/internal/model"
	"constructlink/internal/repository"
	"constructlink/internal/websocket"
	"constructlink/internal/workflow"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []websocket.TransferEvent
}

func (n *recordingNotifier) Publish(e websocket.TransferEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Action
	}
	return out
}

type countingRecorder struct {
	done     map[string]int
	rejected map[string]int
}

func (r *countingRecorder) TransitionDone(action string) { r.done[action]++ }
func (r *countingRecorder) TransitionRejected(action, kind string) {
	r.rejected[action+":"+kind]++
}

type env struct {
	db       *gorm.DB
	svc      TransferService
	notifier *recordingNotifier
	recorder *countingRecorder
	audit    repository.AuditRepository
	assets   repository.AssetRepository
	projects repository.ProjectRepository
	now      time.Time

	north, harbor, depot *model.Project
	excavator, crane     *model.Asset

	admin, director, assetDir, procurement, pmNorth, pmDepot, clerkHarbor, warehouseNorth workflow.Actor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := database.NewTestDB(t)
	ctx := context.Background()

	e := &env{
		db:       db,
		notifier: &recordingNotifier{},
		recorder: &countingRecorder{done: map[string]int{}, rejected: map[string]int{}},
		audit:    repository.NewAuditRepository(db),
		assets:   repository.NewAssetRepository(db),
		projects: repository.NewProjectRepository(db),
		now:      time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
	}
	e.svc = NewTransferService(
		repository.NewTransferRepository(db),
		e.assets,
		e.projects,
		e.audit,
		repository.NewTransactionManager(db),
		workflow.NewRoleResolver(nil),
		WithNotifier(e.notifier),
		WithRecorder(e.recorder),
		WithClock(func() time.Time { return e.now }),
	)

	mkProject := func(code, name string, active bool) *model.Project {
		p := &model.Project{Code: code, Name: name, IsActive: true}
		require.NoError(t, e.projects.Create(ctx, p))
		if !active {
			require.NoError(t, db.Model(p).Update("is_active", false).Error)
			p.IsActive = false
		}
		return p
	}
	e.north = mkProject("PRJ-N", "North Tower", true)
	e.harbor = mkProject("PRJ-H", "Harbor Bridge", true)
	e.depot = mkProject("PRJ-D", "Old Depot", false)

	mkAsset := func(ref, name string) *model.Asset {
		a := &model.Asset{
			Ref: ref, Name: name, CurrentProjectID: e.north.ID,
			Status: model.AssetAvailable, AcquisitionCost: decimal.NewFromInt(120000),
		}
		require.NoError(t, e.assets.Create(ctx, a))
		return a
	}
	e.excavator = mkAsset("EXC-01", "Excavator")
	e.crane = mkAsset("CRN-02", "Tower crane")

	users := repository.NewUserRepository(db)
	mk := func(name string, role model.Role, project *model.Project) workflow.Actor {
		u := &model.User{Username: name, FullName: name, Email: name + "@example.com", Password: "x", Role: role}
		if project != nil {
			u.CurrentProjectID = &project.ID
		}
		require.NoError(t, users.Create(ctx, u))
		return workflow.ActorFromUser(u)
	}
	e.admin = mk("admin", model.RoleSystemAdmin, nil)
	e.director = mk("director", model.RoleFinanceDirector, nil)
	e.assetDir = mk("assetdir", model.RoleAssetDirector, nil)
	e.procurement = mk("buyer", model.RoleProcurementOfficer, nil)
	e.pmNorth = mk("pm-north", model.RoleProjectManager, e.north)
	e.pmDepot = mk("pm-depot", model.RoleProjectManager, e.depot)
	e.clerkHarbor = mk("clerk-harbor", model.RoleSiteInventoryClerk, e.harbor)
	e.warehouseNorth = mk("wh-north", model.RoleWarehouseman, e.north)
	return e
}

func (e *env) request(asset *model.Asset, typ model.TransferType) CreateTransferRequest {
	req := CreateTransferRequest{
		AssetID:       asset.ID,
		FromProjectID: e.north.ID,
		ToProjectID:   e.harbor.ID,
		TransferType:  string(typ),
		Reason:        "foundation works",
	}
	if typ == model.TransferTemporary {
		due := e.now.AddDate(0, 0, 8)
		req.ExpectedReturn = &due
	}
	return req
}

func (e *env) auditCount(t *testing.T, action string) int {
	t.Helper()
	logs, _, err := e.audit.List(context.Background(), repository.AuditFilter{}, 1, 500)
	require.NoError(t, err)
	n := 0
	for _, l := range logs {
		if l.Action == action {
			n++
		}
	}
	return n
}

func TestCreateTransfer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.Create(ctx, e.pmNorth, e.request(e.excavator, model.TransferTemporary))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingVerification, d.Transfer.Status)
	assert.Equal(t, model.ReturnNotReturned, d.Transfer.ReturnStatus)
	assert.Equal(t, e.pmNorth.ID, d.Transfer.InitiatedBy)
	assert.WithinDuration(t, e.now, d.Transfer.TransferDate, time.Second)
	require.NotNil(t, d.Transfer.Asset)
	assert.Equal(t, "EXC-01", d.Transfer.Asset.Ref)
	assert.Equal(t, []string{"verify", "cancel"}, d.AllowedActions)
	require.Len(t, d.Timeline.Steps, 1)
	assert.Equal(t, workflow.StepRequested, d.Timeline.Steps[0].Label)

	assert.Equal(t, 1, e.auditCount(t, model.ActionTransferCreated))
	assert.Equal(t, []string{"create"}, e.notifier.actions())

	_, err = e.svc.Create(ctx, e.pmNorth, e.request(e.excavator, model.TransferPermanent))
	require.ErrorIs(t, err, workflow.ErrValidation, "asset already has an open transfer")
	assert.Equal(t, "asset_id", workflow.FieldErrors(err)[0].Field)
}

func TestCreateTransferValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		edit  func(r *CreateTransferRequest)
		field string
	}{
		{"same project", func(r *CreateTransferRequest) { r.ToProjectID = r.FromProjectID }, "to_project_id"},
		{"bad type", func(r *CreateTransferRequest) { r.TransferType = "forever" }, "transfer_type"},
		{"temporary without return", func(r *CreateTransferRequest) { r.ExpectedReturn = nil }, "expected_return"},
		{"return before transfer", func(r *CreateTransferRequest) {
			past := e.now.AddDate(0, 0, -1)
			r.ExpectedReturn = &past
		}, "expected_return"},
		{"asset elsewhere", func(r *CreateTransferRequest) {
			r.FromProjectID, r.ToProjectID = e.harbor.ID, e.north.ID
		}, "from_project_id"},
		{"inactive destination", func(r *CreateTransferRequest) { r.ToProjectID = e.depot.ID }, "to_project_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := e.request(e.excavator, model.TransferTemporary)
			tc.edit(&req)
			_, err := e.svc.Create(ctx, e.director, req)
			require.ErrorIs(t, err, workflow.ErrValidation)
			assert.Equal(t, tc.field, workflow.FieldErrors(err)[0].Field)
		})
	}

	req := e.request(e.excavator, model.TransferPermanent)
	req.AssetID = 9999
	_, err := e.svc.Create(ctx, e.director, req)
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	_, err = e.svc.Create(ctx, e.warehouseNorth, e.request(e.excavator, model.TransferPermanent))
	assert.ErrorIs(t, err, workflow.ErrPermissionDenied)
	assert.Equal(t, 1, e.recorder.rejected["create:permission_denied"])

	_, err = e.svc.Create(ctx, e.clerkHarbor, CreateTransferRequest{
		AssetID: e.crane.ID, FromProjectID: e.north.ID, ToProjectID: e.depot.ID, TransferType: "permanent",
	})
	assert.ErrorIs(t, err, workflow.ErrPermissionDenied, "clerk is not on either project")

	assert.Equal(t, 0, e.auditCount(t, model.ActionTransferCreated))
}

func TestCreateWithStreamline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	req := e.request(e.crane, model.TransferPermanent)
	req.Streamline = true
	d, err := e.svc.Create(ctx, e.assetDir, req)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReceived, d.Transfer.Status)
	require.NotNil(t, d.Transfer.Receiver)
	assert.Equal(t, "assetdir", d.Transfer.Receiver.Username)
	assert.Len(t, d.Timeline.Steps, 5)
	assert.Equal(t, 1, e.auditCount(t, model.ActionTransferStreamlined))

	_, err = e.svc.Create(ctx, e.pmNorth, CreateTransferRequest{
		AssetID: e.excavator.ID, FromProjectID: e.north.ID, ToProjectID: e.harbor.ID,
		TransferType: "permanent", Streamline: true,
	})
	require.ErrorIs(t, err, workflow.ErrPermissionDenied)
	list, total, err := e.svc.List(ctx, e.admin, ListTransfersQuery{AssetID: e.excavator.ID})
	require.NoError(t, err)
	assert.Zero(t, total, "failed streamline rolls back the creation")
	assert.Empty(t, list)
}

func TestPerformFullTemporaryCycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.Create(ctx, e.pmNorth, e.request(e.excavator, model.TransferTemporary))
	require.NoError(t, err)
	id := d.Transfer.ID

	steps := []struct {
		actor  workflow.Actor
		action workflow.Action
		req    ActionRequest
	}{
		{e.pmNorth, workflow.ActionVerify, ActionRequest{}},
		{e.director, workflow.ActionApprove, ActionRequest{}},
		{e.warehouseNorth, workflow.ActionDispatch, ActionRequest{Notes: "flatbed 3"}},
		{e.clerkHarbor, workflow.ActionReceive, ActionRequest{}},
		{e.clerkHarbor, workflow.ActionComplete, ActionRequest{}},
	}
	for _, s := range steps {
		d, err = e.svc.Perform(ctx, s.actor, id, s.action, s.req)
		require.NoError(t, err, s.action)
	}
	assert.Equal(t, model.StatusCompleted, d.Transfer.Status)
	assert.Equal(t, []string{"returnAsset"}, d.AllowedActions)

	e.now = e.now.AddDate(0, 0, 12)
	overdue, err := e.svc.Overdue(ctx, e.now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, 4, overdue[0].DaysOverdue)

	list, total, err := e.svc.List(ctx, e.clerkHarbor, ListTransfersQuery{OverdueOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, id, list[0].ID)

	_, err = e.svc.Perform(ctx, e.clerkHarbor, id, workflow.ActionReturnAsset, ActionRequest{})
	require.NoError(t, err)
	d, err = e.svc.Perform(ctx, e.warehouseNorth, id, workflow.ActionReceiveReturn,
		ActionRequest{Condition: " Damaged ", DamageNotes: "hydraulic leak"})
	require.NoError(t, err)
	assert.Equal(t, model.ReturnReturned, d.Transfer.ReturnStatus)
	assert.Equal(t, model.ConditionDamaged, d.Transfer.ReturnCondition)
	assert.Empty(t, d.AllowedActions)
	assert.Equal(t, workflow.StepReturned, d.Timeline.Steps[len(d.Timeline.Steps)-1].Label)

	overdue, err = e.svc.Overdue(ctx, e.now)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	asset, err := e.assets.FindByID(ctx, e.excavator.ID)
	require.NoError(t, err)
	assert.Equal(t, e.north.ID, asset.CurrentProjectID)
	assert.Equal(t, model.AssetAvailable, asset.Status)

	assert.Equal(t, 7, e.recorder.done["create"]+e.recorder.done["verify"]+e.recorder.done["approve"]+
		e.recorder.done["dispatch"]+e.recorder.done["receive"]+e.recorder.done["complete"]+e.recorder.done["returnAsset"])
	assert.Equal(t, 1, e.recorder.done["receiveReturn"])
	assert.Equal(t, []string{
		"create", "verify", "approve", "dispatch", "receive", "complete", "returnAsset", "receiveReturn",
	}, e.notifier.actions())
}

func TestPerformRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err)
	id := d.Transfer.ID

	_, err = e.svc.Perform(ctx, e.pmDepot, id, workflow.ActionVerify, ActionRequest{})
	assert.ErrorIs(t, err, workflow.ErrPermissionDenied)

	_, err = e.svc.Perform(ctx, e.director, id, workflow.ActionApprove, ActionRequest{})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	_, err = e.svc.Perform(ctx, e.director, id, workflow.ActionCancel, ActionRequest{})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	_, err = e.svc.Perform(ctx, e.director, 4040, workflow.ActionCancel, ActionRequest{Notes: "x"})
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	_, err = e.svc.Perform(ctx, e.director, id, workflow.ActionExport, ActionRequest{})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	d, err = e.svc.Perform(ctx, e.director, id, workflow.ActionCancel, ActionRequest{Notes: "budget freeze"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, d.Transfer.Status)
	assert.Equal(t, "budget freeze", d.Transfer.CancelReason)

	assert.Equal(t, 1, e.recorder.rejected["verify:permission_denied"])
	assert.Equal(t, 1, e.recorder.rejected["approve:invalid_transition"])

	d, err = e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err, "canceled transfers free the asset")
}

func TestCancelAcceptsReasonField(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err)

	d, err = e.svc.Perform(ctx, e.director, d.Transfer.ID, workflow.ActionCancel,
		ActionRequest{Reason: " site closed "})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, d.Transfer.Status)
	assert.Equal(t, "site closed", d.Transfer.CancelReason)
}

func TestStreamlineService(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err)
	assert.Contains(t, d.AllowedActions, "streamline")

	_, err = e.svc.Streamline(ctx, e.assetDir, d.Transfer.ID, "")
	assert.ErrorIs(t, err, workflow.ErrPermissionDenied)

	d, err = e.svc.Streamline(ctx, e.director, d.Transfer.ID, "same-day move")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReceived, d.Transfer.Status)
	assert.Equal(t, "same-day move", d.Transfer.DispatchNotes)
}

func TestListScoping(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err)

	_, total, err := e.svc.List(ctx, e.pmNorth, ListTransfersQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = e.svc.List(ctx, e.pmDepot, ListTransfersQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, _, err = e.svc.List(ctx, e.pmDepot, ListTransfersQuery{ProjectID: &e.north.ID})
	assert.ErrorIs(t, err, workflow.ErrPermissionDenied)

	_, total, err = e.svc.List(ctx, e.procurement, ListTransfersQuery{Status: string(model.StatusPendingVerification)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, _, err = e.svc.List(ctx, e.director, ListTransfersQuery{Status: "Lost"})
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestGetRequiresAffiliation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err)

	_, err = e.svc.Get(ctx, e.pmDepot, d.Transfer.ID)
	assert.ErrorIs(t, err, workflow.ErrPermissionDenied)

	got, err := e.svc.Get(ctx, e.clerkHarbor, d.Transfer.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AllowedActions, "the clerk has nothing to do before dispatch")
}

func TestAppendNote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err)
	id := d.Transfer.ID
	_, err = e.svc.Perform(ctx, e.director, id, workflow.ActionCancel, ActionRequest{Notes: "duplicate"})
	require.NoError(t, err)

	_, err = e.svc.AppendNote(ctx, e.pmNorth, id, "   ")
	assert.ErrorIs(t, err, workflow.ErrValidation)

	d, err = e.svc.AppendNote(ctx, e.pmNorth, id, "replaced by #2")
	require.NoError(t, err, "notes are allowed on terminal transfers")
	d, err = e.svc.AppendNote(ctx, e.director, id, "ack")
	require.NoError(t, err)
	assert.Equal(t, "[2024-01-02 08:00] pm-north: replaced by #2\n[2024-01-02 08:00] director: ack", d.Transfer.Notes)
	assert.Equal(t, model.StatusCanceled, d.Transfer.Status)
	assert.Equal(t, 2, e.auditCount(t, model.ActionTransferNoteAdded))

	_, err = e.svc.AppendNote(ctx, e.pmDepot, id, "not mine")
	assert.ErrorIs(t, err, workflow.ErrPermissionDenied)
}

func TestExportCSV(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err)
	_, err = e.svc.Create(ctx, e.director, e.request(e.excavator, model.TransferTemporary))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, e.svc.Export(ctx, e.procurement, ListTransfersQuery{}, FormatCSV, &buf))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, 1, e.auditCount(t, model.ActionTransfersExported))

	assert.ErrorIs(t, e.svc.Export(ctx, e.warehouseNorth, ListTransfersQuery{}, FormatCSV, &buf), workflow.ErrPermissionDenied)
	assert.ErrorIs(t, e.svc.Export(ctx, e.director, ListTransfersQuery{}, "pdf", &buf), workflow.ErrValidation)
}

func TestSlip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	d, err := e.svc.Create(ctx, e.director, e.request(e.crane, model.TransferPermanent))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, e.svc.Slip(ctx, e.pmNorth, d.Transfer.ID, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))

	assert.ErrorIs(t, e.svc.Slip(ctx, e.pmDepot, d.Transfer.ID, &buf), workflow.ErrPermissionDenied)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "conflict", ErrorKind(workflow.Conflict(1)))
	assert.Equal(t, "not_found", ErrorKind(workflow.NotFound("transfer", 1)))
	assert.Equal(t, "internal", ErrorKind(assert.AnError))
}
