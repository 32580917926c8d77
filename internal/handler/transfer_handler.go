package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"constructlink/internal/middleware"
	"constructlink/internal/service"
	"constructlink/internal/workflow"
	"constructlink/pkg/pagination"
	"constructlink/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TransferHandler struct {
	transferService service.TransferService
	auth            *middleware.Authenticator
	roles           *workflow.RoleResolver
	log             *zap.Logger
}

func NewTransferHandler(transferService service.TransferService, auth *middleware.Authenticator, roles *workflow.RoleResolver, log *zap.Logger) *TransferHandler {
	return &TransferHandler{transferService: transferService, auth: auth, roles: roles, log: log}
}

func (h *TransferHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/transfers")
	group.Use(h.auth.RequireAuth())
	{
		group.GET("", h.ListTransfers)
		group.POST("", middleware.RequireAction(h.roles, workflow.ActionCreate), h.CreateTransfer)
		group.GET("/overdue", h.ListOverdue)
		group.GET("/export", middleware.RequireAction(h.roles, workflow.ActionExport), h.ExportTransfers)
		group.GET("/:id", h.GetTransfer)
		group.GET("/:id/slip", h.GetSlip)
		group.POST("/:id/streamline", h.Streamline)
		group.POST("/:id/notes", h.AppendNote)
		group.POST("/:id/:action", h.PerformAction)
	}
}

func listQuery(c *gin.Context) (service.ListTransfersQuery, bool) {
	p := pagination.Parse(c)
	q := service.ListTransfersQuery{
		Status:       c.Query("status"),
		ReturnStatus: c.Query("return_status"),
		Type:         c.Query("type"),
		OverdueOnly:  c.Query("overdue") == "true",
		Page:         p.Page,
		Limit:        p.Limit,
	}
	if v := c.Query("project_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(c, "Invalid project_id")
			return q, false
		}
		q.ProjectID = &id
	}
	if v := c.Query("asset_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(c, "Invalid asset_id")
			return q, false
		}
		q.AssetID = id
	}
	return q, true
}

// ListTransfers returns transfers visible to the caller
// @Summary      List transfers
// @Description  Paginated transfer list. Project-scoped roles only see transfers touching their project.
// @Tags         transfers
// @Security     BearerAuth
// @Produce      json
// @Param        status         query  string  false  "Status"
// @Param        return_status  query  string  false  "Return status"
// @Param        type           query  string  false  "temporary or permanent"
// @Param        project_id     query  int     false  "Origin or destination project"
// @Param        asset_id       query  int     false  "Asset"
// @Param        overdue        query  bool    false  "Only overdue loans"
// @Param        page           query  int     false  "Page number (default 1)"
// @Param        limit          query  int     false  "Items per page (default 20)"
// @Success      200  {object}  response.Response{data=response.Page}
// @Failure      400  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Router       /api/transfers [get]
func (h *TransferHandler) ListTransfers(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	q, ok := listQuery(c)
	if !ok {
		return
	}
	h.list(c, actor, q)
}

// ListOverdue returns temporary transfers past their expected return
// @Summary      List overdue loans
// @Tags         transfers
// @Security     BearerAuth
// @Produce      json
// @Param        page   query  int  false  "Page number (default 1)"
// @Param        limit  query  int  false  "Items per page (default 20)"
// @Success      200  {object}  response.Response{data=response.Page}
// @Router       /api/transfers/overdue [get]
func (h *TransferHandler) ListOverdue(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	q, ok := listQuery(c)
	if !ok {
		return
	}
	q.OverdueOnly = true
	h.list(c, actor, q)
}

func (h *TransferHandler) list(c *gin.Context, actor workflow.Actor, q service.ListTransfersQuery) {
	items, total, err := h.transferService.List(c.Request.Context(), actor, q)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.Params{Page: q.Page, Limit: q.Limit}.Wrap(items, total)))
}

// CreateTransfer opens a transfer request
// @Summary      Create transfer
// @Description  Opens a transfer in Pending Verification. Finance and Asset Directors may set streamline=true to run verify, approve, dispatch and receive at once.
// @Tags         transfers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateTransferRequest  true  "Transfer request"
// @Success      201      {object}  response.Response{data=service.TransferDetail}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/transfers [post]
func (h *TransferHandler) CreateTransfer(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	var req service.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	detail, err := h.transferService.Create(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, detail))
}

// GetTransfer returns one transfer with its timeline
// @Summary      Get transfer
// @Description  Transfer detail, ordered timeline and the actions the caller may perform now.
// @Tags         transfers
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Transfer ID"
// @Success      200  {object}  response.Response{data=service.TransferDetail}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/transfers/{id} [get]
func (h *TransferHandler) GetTransfer(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	detail, err := h.transferService.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

// PerformAction runs one workflow step
// @Summary      Perform transfer action
// @Description  action is one of verify, approve, dispatch, receive, complete, return, receive-return, cancel.
// @Tags         transfers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                    true   "Transfer ID"
// @Param        action   path      string                 true   "Action"
// @Param        payload  body      service.ActionRequest  false  "Notes, return condition"
// @Success      200      {object}  response.Response{data=service.TransferDetail}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/transfers/{id}/{action} [post]
func (h *TransferHandler) PerformAction(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	action, known := workflow.ParseAction(c.Param("action"))
	if !known {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, fmt.Sprintf("Unknown action %q", c.Param("action"))))
		return
	}

	var req service.ActionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	detail, err := h.transferService.Perform(c.Request.Context(), actor, id, action, req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

type streamlineRequest struct {
	Notes string `json:"notes"`
}

// Streamline runs verify, approve, dispatch and receive in one call
// @Summary      Streamline transfer
// @Description  Only the initiating Finance or Asset Director may streamline a Pending Verification transfer.
// @Tags         transfers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                 true   "Transfer ID"
// @Param        payload  body      streamlineRequest   false  "Notes"
// @Success      200      {object}  response.Response{data=service.TransferDetail}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/transfers/{id}/streamline [post]
func (h *TransferHandler) Streamline(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req streamlineRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	detail, err := h.transferService.Streamline(c.Request.Context(), actor, id, req.Notes)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

// AppendNote adds a note to the transfer in any status
// @Summary      Append note
// @Tags         transfers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                  true  "Transfer ID"
// @Param        payload  body      service.NoteRequest  true  "Note"
// @Success      200      {object}  response.Response{data=service.TransferDetail}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/transfers/{id}/notes [post]
func (h *TransferHandler) AppendNote(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req service.NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	detail, err := h.transferService.AppendNote(c.Request.Context(), actor, id, req.Note)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

// ExportTransfers downloads the filtered transfer list
// @Summary      Export transfers
// @Tags         transfers
// @Security     BearerAuth
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce      text/csv
// @Param        format  query  string  false  "xlsx (default) or csv"
// @Param        status  query  string  false  "Status"
// @Param        overdue query  bool    false  "Only overdue loans"
// @Success      200  {file}    file
// @Failure      400  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Router       /api/transfers/export [get]
func (h *TransferHandler) ExportTransfers(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	q, ok := listQuery(c)
	if !ok {
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", string(service.FormatXLSX)))

	var buf bytes.Buffer
	if err := h.transferService.Export(c.Request.Context(), actor, q, format, &buf); err != nil {
		respondError(c, h.log, err)
		return
	}
	filename := fmt.Sprintf("transfers-%s.%s", time.Now().UTC().Format("20060102"), format)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// GetSlip renders the printable transfer slip
// @Summary      Transfer slip
// @Tags         transfers
// @Security     BearerAuth
// @Produce      application/pdf
// @Param        id   path      int  true  "Transfer ID"
// @Success      200  {file}    file
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/transfers/{id}/slip [get]
func (h *TransferHandler) GetSlip(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := h.transferService.Slip(c.Request.Context(), actor, id, &buf); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="transfer-%d.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// bindOptionalJSON binds a JSON body when one is sent. An absent or empty
// body leaves obj untouched, including chunked requests with no length.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
