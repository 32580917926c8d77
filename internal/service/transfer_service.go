package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"constructlink/internal/model"
	"constructlink/internal/repository"
	"constructlink/internal/websocket"
	"constructlink/internal/workflow"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateTransferRequest opens a new transfer.
type CreateTransferRequest struct {
	AssetID        int64      `json:"asset_id" binding:"required"`
	FromProjectID  int64      `json:"from_project_id" binding:"required"`
	ToProjectID    int64      `json:"to_project_id" binding:"required"`
	TransferType   string     `json:"transfer_type" binding:"required"`
	Reason         string     `json:"reason"`
	TransferDate   *time.Time `json:"transfer_date"`
	ExpectedReturn *time.Time `json:"expected_return"`
	Streamline     bool       `json:"streamline"`
}

// ActionRequest carries the optional input of a single-step action.
type ActionRequest struct {
	Notes       string `json:"notes"`
	Reason      string `json:"reason"`
	Condition   string `json:"condition"`
	DamageNotes string `json:"damage_notes"`
}

// NoteRequest appends a free-text note.
type NoteRequest struct {
	Note string `json:"note" binding:"required"`
}

// ListTransfersQuery filters the transfer list. Empty strings mean "any".
type ListTransfersQuery struct {
	Status       string
	ReturnStatus string
	Type         string
	ProjectID    *int64
	AssetID      int64
	OverdueOnly  bool
	Page         int
	Limit        int
}

// TransferDetail is a transfer with its history and the actions open to the viewer.
type TransferDetail struct {
	Transfer       *model.Transfer   `json:"transfer"`
	Timeline       workflow.Timeline `json:"timeline"`
	AllowedActions []string          `json:"allowed_actions"`
}

// TransferListItem is a transfer row with its overdue count.
type TransferListItem struct {
	model.Transfer
	DaysOverdue int `json:"days_overdue"`
}

type TransferService interface {
	Create(ctx context.Context, actor workflow.Actor, req CreateTransferRequest) (*TransferDetail, error)
	Get(ctx context.Context, actor workflow.Actor, id int64) (*TransferDetail, error)
	List(ctx context.Context, actor workflow.Actor, q ListTransfersQuery) ([]TransferListItem, int64, error)
	Perform(ctx context.Context, actor workflow.Actor, id int64, action workflow.Action, req ActionRequest) (*TransferDetail, error)
	Streamline(ctx context.Context, actor workflow.Actor, id int64, notes string) (*TransferDetail, error)
	AppendNote(ctx context.Context, actor workflow.Actor, id int64, note string) (*TransferDetail, error)
	Overdue(ctx context.Context, now time.Time) ([]TransferListItem, error)
	Export(ctx context.Context, actor workflow.Actor, q ListTransfersQuery, format ExportFormat, w io.Writer) error
	Slip(ctx context.Context, actor workflow.Actor, id int64, w io.Writer) error
}

// Notifier receives transfer events after they commit.
type Notifier interface {
	Publish(event websocket.TransferEvent)
}

// TransitionRecorder counts transition outcomes.
type TransitionRecorder interface {
	TransitionDone(action string)
	TransitionRejected(action, kind string)
}

type nopNotifier struct{}

func (nopNotifier) Publish(websocket.TransferEvent) {}

type nopRecorder struct{}

func (nopRecorder) TransitionDone(string)             {}
func (nopRecorder) TransitionRejected(string, string) {}

type TransferOption func(*transferService)

func WithNotifier(n Notifier) TransferOption {
	return func(s *transferService) { s.notifier = n }
}

func WithRecorder(r TransitionRecorder) TransferOption {
	return func(s *transferService) { s.recorder = r }
}

func WithLogger(l *zap.Logger) TransferOption {
	return func(s *transferService) { s.log = l }
}

func WithClock(now func() time.Time) TransferOption {
	return func(s *transferService) { s.now = now }
}

type transferService struct {
	transfers repository.TransferRepository
	assets    repository.AssetRepository
	projects  repository.ProjectRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	roles     *workflow.RoleResolver
	validator *workflow.Validator
	executor  *workflow.Executor
	notifier  Notifier
	recorder  TransitionRecorder
	log       *zap.Logger
	now       func() time.Time
}

func NewTransferService(
	transfers repository.TransferRepository,
	assets repository.AssetRepository,
	projects repository.ProjectRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	roles *workflow.RoleResolver,
	opts ...TransferOption,
) TransferService {
	s := &transferService{
		transfers: transfers,
		assets:    assets,
		projects:  projects,
		auditRepo: auditRepo,
		txManager: txManager,
		roles:     roles,
		notifier:  nopNotifier{},
		recorder:  nopRecorder{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validator = workflow.NewValidator(roles)
	s.executor = workflow.NewExecutor(s.validator, transfers, assets, auditRepo, workflow.WithClock(s.now))
	return s
}

func (s *transferService) Create(ctx context.Context, actor workflow.Actor, req CreateTransferRequest) (*TransferDetail, error) {
	if err := s.validator.CanCreate(actor, req.FromProjectID, req.ToProjectID).Err(); err != nil {
		s.reject(workflow.ActionCreate, actor, 0, err)
		return nil, err
	}

	now := s.now()
	t := &model.Transfer{
		AssetID:        req.AssetID,
		FromProjectID:  req.FromProjectID,
		ToProjectID:    req.ToProjectID,
		TransferType:   model.TransferType(req.TransferType),
		Status:         model.StatusPendingVerification,
		ReturnStatus:   model.ReturnNotReturned,
		Reason:         strings.TrimSpace(req.Reason),
		TransferDate:   now,
		ExpectedReturn: req.ExpectedReturn,
		InitiatedBy:    actor.ID,
	}
	if req.TransferDate != nil {
		t.TransferDate = *req.TransferDate
	}
	if err := validateCreate(t); err != nil {
		return nil, err
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.checkAssetAndProjects(txCtx, t); err != nil {
			return err
		}
		if err := s.transfers.Create(txCtx, t); err != nil {
			return fmt.Errorf("failed to create transfer: %w", err)
		}

		details, _ := json.Marshal(map[string]any{
			"asset_id":        t.AssetID,
			"from_project_id": t.FromProjectID,
			"to_project_id":   t.ToProjectID,
			"transfer_type":   t.TransferType,
			"expected_return": t.ExpectedReturn,
			"reason":          t.Reason,
		})
		uid := actor.ID
		if err := s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     &uid,
			Action:     model.ActionTransferCreated,
			EntityType: model.EntityTransfer,
			EntityID:   strconv.FormatInt(t.ID, 10),
			Details:    string(details),
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}

		if req.Streamline {
			return s.executor.Streamline(txCtx, t, actor, t.Reason)
		}
		return nil
	})
	if err != nil {
		s.reject(workflow.ActionCreate, actor, t.ID, err)
		return nil, err
	}

	s.log.Info("Transfer created",
		zap.Int64("transfer_id", t.ID),
		zap.Int64("asset_id", t.AssetID),
		zap.Int64("actor_id", actor.ID),
		zap.Bool("streamlined", req.Streamline))
	s.recorder.TransitionDone(string(workflow.ActionCreate))
	s.publish(websocket.EventCreated, t, string(workflow.ActionCreate), actor)
	if req.Streamline {
		s.recorder.TransitionDone("streamline")
		s.publish(websocket.EventTransition, t, "streamline", actor)
	}
	return s.detail(ctx, actor, t.ID)
}

func validateCreate(t *model.Transfer) error {
	var v workflow.Validation
	if t.AssetID <= 0 {
		v.Add("asset_id", "asset is required")
	}
	if t.FromProjectID <= 0 {
		v.Add("from_project_id", "origin project is required")
	}
	if t.ToProjectID <= 0 {
		v.Add("to_project_id", "destination project is required")
	}
	if t.FromProjectID > 0 && t.FromProjectID == t.ToProjectID {
		v.Add("to_project_id", "destination must differ from the origin project")
	}
	switch {
	case !t.TransferType.Valid():
		v.Add("transfer_type", "transfer type must be temporary or permanent")
	case t.Temporary() && t.ExpectedReturn == nil:
		v.Add("expected_return", "expected return date is required for temporary transfers")
	case t.Temporary() && !t.ExpectedReturn.After(t.TransferDate):
		v.Add("expected_return", "expected return must be after the transfer date")
	case !t.Temporary() && t.ExpectedReturn != nil:
		v.Add("expected_return", "permanent transfers have no expected return")
	}
	return v.Err()
}

func (s *transferService) checkAssetAndProjects(ctx context.Context, t *model.Transfer) error {
	asset, err := s.assets.FindByIDForUpdate(ctx, t.AssetID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return workflow.NotFound("asset", t.AssetID)
	}
	if err != nil {
		return fmt.Errorf("failed to load asset %d: %w", t.AssetID, err)
	}
	if asset.CurrentProjectID != t.FromProjectID {
		return workflow.ValidationError("from_project_id",
			fmt.Sprintf("asset %s is not at project %d", asset.Ref, t.FromProjectID))
	}
	if asset.Status != model.AssetAvailable {
		return workflow.ValidationError("asset_id",
			fmt.Sprintf("asset %s is %s and cannot be transferred", asset.Ref, asset.Status))
	}

	for _, p := range []struct {
		field string
		id    int64
	}{{"from_project_id", t.FromProjectID}, {"to_project_id", t.ToProjectID}} {
		project, err := s.projects.FindByID(ctx, p.id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return workflow.NotFound("project", p.id)
		}
		if err != nil {
			return fmt.Errorf("failed to load project %d: %w", p.id, err)
		}
		if !project.IsActive {
			return workflow.ValidationError(p.field, fmt.Sprintf("project %s is not active", project.Code))
		}
	}

	open, err := s.transfers.HasOpenTransfer(ctx, t.AssetID)
	if err != nil {
		return fmt.Errorf("failed to check open transfers: %w", err)
	}
	if open {
		return workflow.ValidationError("asset_id", fmt.Sprintf("asset %s already has an open transfer", asset.Ref))
	}
	return nil
}

func (s *transferService) Get(ctx context.Context, actor workflow.Actor, id int64) (*TransferDetail, error) {
	return s.detail(ctx, actor, id)
}

func (s *transferService) detail(ctx context.Context, actor workflow.Actor, id int64) (*TransferDetail, error) {
	t, err := s.transfers.FindByIDWithRelations(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.NotFound("transfer", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transfer %d: %w", id, err)
	}
	if err := s.validator.CanView(t, actor).Err(); err != nil {
		return nil, err
	}
	actions := s.validator.AllowedActions(t, actor)
	if actions == nil {
		actions = []string{}
	}
	return &TransferDetail{
		Transfer:       t,
		Timeline:       workflow.BuildTimeline(t, s.now()),
		AllowedActions: actions,
	}, nil
}

// scope applies the viewer's project restriction to a query.
func (s *transferService) scope(actor workflow.Actor, q ListTransfersQuery) (repository.TransferFilter, error) {
	if !s.roles.Permits(actor.Role, workflow.ActionView) {
		return repository.TransferFilter{}, &workflow.Error{Kind: workflow.ErrPermissionDenied,
			Message: fmt.Sprintf("%s may not view transfers", actor.Role)}
	}
	f := repository.TransferFilter{
		Status:       model.TransferStatus(q.Status),
		ReturnStatus: model.ReturnStatus(q.ReturnStatus),
		Type:         model.TransferType(q.Type),
		ProjectID:    q.ProjectID,
		AssetID:      q.AssetID,
		Page:         q.Page,
		Limit:        q.Limit,
	}

	var v workflow.Validation
	if f.Status != "" && !f.Status.Valid() {
		v.Add("status", fmt.Sprintf("unknown status %q", q.Status))
	}
	if f.ReturnStatus != "" && !f.ReturnStatus.Valid() {
		v.Add("return_status", fmt.Sprintf("unknown return status %q", q.ReturnStatus))
	}
	if f.Type != "" && !f.Type.Valid() {
		v.Add("type", fmt.Sprintf("unknown transfer type %q", q.Type))
	}
	if err := v.Err(); err != nil {
		return f, err
	}

	if actor.Role.ProjectScoped() {
		if actor.CurrentProjectID == nil {
			return f, &workflow.Error{Kind: workflow.ErrPermissionDenied, Message: "you are not assigned to a project"}
		}
		if f.ProjectID != nil && *f.ProjectID != *actor.CurrentProjectID {
			return f, &workflow.Error{Kind: workflow.ErrPermissionDenied,
				Message: "you may only list transfers involving your current project"}
		}
		f.ProjectID = actor.CurrentProjectID
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return f, nil
}

func (s *transferService) List(ctx context.Context, actor workflow.Actor, q ListTransfersQuery) ([]TransferListItem, int64, error) {
	f, err := s.scope(actor, q)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()

	if q.OverdueOnly {
		f.Type = model.TransferTemporary
		f.Status = model.StatusCompleted
		f.ReturnStatus = model.ReturnNotReturned
		all, err := s.transfers.ListAll(ctx, f)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list transfers: %w", err)
		}
		items := overdueItems(all, now)
		total := int64(len(items))
		start := min((f.Page-1)*f.Limit, len(items))
		end := min(start+f.Limit, len(items))
		return items[start:end], total, nil
	}

	transfers, total, err := s.transfers.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transfers: %w", err)
	}
	items := make([]TransferListItem, 0, len(transfers))
	for i := range transfers {
		items = append(items, TransferListItem{
			Transfer:    transfers[i],
			DaysOverdue: workflow.DaysOverdue(&transfers[i], now),
		})
	}
	return items, total, nil
}

func overdueItems(transfers []model.Transfer, now time.Time) []TransferListItem {
	items := []TransferListItem{}
	for i := range transfers {
		if days := workflow.DaysOverdue(&transfers[i], now); days > 0 {
			items = append(items, TransferListItem{Transfer: transfers[i], DaysOverdue: days})
		}
	}
	return items
}

func (s *transferService) Perform(ctx context.Context, actor workflow.Actor, id int64, action workflow.Action, req ActionRequest) (*TransferDetail, error) {
	if !isTransition(action) {
		return nil, workflow.ValidationError("action", fmt.Sprintf("unknown transfer action %q", action))
	}
	snapshot, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	notes := req.Notes
	if action == workflow.ActionCancel && strings.TrimSpace(req.Reason) != "" {
		notes = req.Reason
	}
	payload := workflow.Payload{
		Notes:       strings.TrimSpace(notes),
		Condition:   model.AssetCondition(strings.ToLower(strings.TrimSpace(req.Condition))),
		DamageNotes: strings.TrimSpace(req.DamageNotes),
	}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		return s.executor.Apply(txCtx, snapshot, action, actor, payload)
	})
	if err != nil {
		s.reject(action, actor, id, err)
		return nil, err
	}

	s.log.Info("Transfer transition committed",
		zap.Int64("transfer_id", id),
		zap.String("action", string(action)),
		zap.Int64("actor_id", actor.ID),
		zap.String("status", string(snapshot.Status)),
		zap.String("return_status", string(snapshot.ReturnStatus)))
	s.recorder.TransitionDone(string(action))
	s.publish(websocket.EventTransition, snapshot, string(action), actor)
	return s.detail(ctx, actor, id)
}

func isTransition(a workflow.Action) bool {
	for _, t := range workflow.TransitionActions {
		if t == a {
			return true
		}
	}
	return false
}

func (s *transferService) Streamline(ctx context.Context, actor workflow.Actor, id int64, notes string) (*TransferDetail, error) {
	snapshot, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		return s.executor.Streamline(txCtx, snapshot, actor, strings.TrimSpace(notes))
	})
	if err != nil {
		s.reject("streamline", actor, id, err)
		return nil, err
	}

	s.log.Info("Transfer streamlined",
		zap.Int64("transfer_id", id),
		zap.Int64("actor_id", actor.ID),
		zap.String("status", string(snapshot.Status)))
	s.recorder.TransitionDone("streamline")
	s.publish(websocket.EventTransition, snapshot, "streamline", actor)
	return s.detail(ctx, actor, id)
}

func (s *transferService) AppendNote(ctx context.Context, actor workflow.Actor, id int64, note string) (*TransferDetail, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, workflow.ValidationError("note", "note must not be empty")
	}

	var t *model.Transfer
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if t, err = s.load(txCtx, id); err != nil {
			return err
		}
		if err := s.validator.CanView(t, actor).Err(); err != nil {
			return err
		}

		now := s.now()
		line := fmt.Sprintf("[%s] %s: %s", now.UTC().Format("2006-01-02 15:04"), actorLabel(actor), note)
		if err := s.transfers.AppendNote(txCtx, id, line); err != nil {
			return fmt.Errorf("failed to save note: %w", err)
		}

		details, _ := json.Marshal(map[string]any{"note": note, "status": t.Status})
		uid := actor.ID
		return s.auditRepo.Log(txCtx, &model.AuditLog{
			UserID:     &uid,
			Action:     model.ActionTransferNoteAdded,
			EntityType: model.EntityTransfer,
			EntityID:   strconv.FormatInt(id, 10),
			Details:    string(details),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(websocket.EventNote, t, "note", actor)
	return s.detail(ctx, actor, id)
}

func actorLabel(a workflow.Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return fmt.Sprintf("User #%d", a.ID)
}

func (s *transferService) load(ctx context.Context, id int64) (*model.Transfer, error) {
	t, err := s.transfers.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.NotFound("transfer", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transfer %d: %w", id, err)
	}
	return t, nil
}

func (s *transferService) publish(kind string, t *model.Transfer, action string, actor workflow.Actor) {
	uid := actor.ID
	s.notifier.Publish(websocket.TransferEvent{
		Type:          kind,
		TransferID:    t.ID,
		FromProjectID: t.FromProjectID,
		ToProjectID:   t.ToProjectID,
		Action:        action,
		Status:        string(t.Status),
		ReturnStatus:  string(t.ReturnStatus),
		ActorID:       &uid,
		At:            s.now().UTC(),
	})
}

func (s *transferService) reject(action workflow.Action, actor workflow.Actor, id int64, err error) {
	kind := ErrorKind(err)
	s.recorder.TransitionRejected(string(action), kind)
	fields := []zap.Field{
		zap.Int64("transfer_id", id),
		zap.String("action", string(action)),
		zap.Int64("actor_id", actor.ID),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if kind == "internal" {
		s.log.Error("Transfer action failed", fields...)
		return
	}
	s.log.Warn("Transfer action rejected", fields...)
}

// ErrorKind names the workflow error class of err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, workflow.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, workflow.ErrValidation):
		return "validation"
	case errors.Is(err, workflow.ErrConflict):
		return "conflict"
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	}
	return "internal"
}
