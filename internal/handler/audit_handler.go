package handler

import (
	"net/http"

	"constructlink/internal/middleware"
	"constructlink/internal/model"
	"constructlink/internal/service"
	"constructlink/pkg/pagination"
	"constructlink/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuditHandler struct {
	auditService service.AuditService
	auth         *middleware.Authenticator
	log          *zap.Logger
}

func NewAuditHandler(auditService service.AuditService, auth *middleware.Authenticator, log *zap.Logger) *AuditHandler {
	return &AuditHandler{auditService: auditService, auth: auth, log: log}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(h.auth.RequireAuth(), middleware.RequireRoles(
		model.RoleFinanceDirector, model.RoleAssetDirector, model.RoleProcurementOfficer,
	))
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs returns audit entries newest first
// @Summary      Get audit logs
// @Description  Paginated audit trail, optionally narrowed to one entity such as a transfer.
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        entity_type  query     string  false  "Entity type, e.g. transfer"
// @Param        entity_id    query     string  false  "Entity ID"
// @Param        page         query     int     false  "Page number (default 1)"
// @Param        limit        query     int     false  "Number of items per page (default 20)"
// @Success      200          {object}  response.Response{data=response.Page}
// @Failure      403          {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	logs, total, err := h.auditService.List(c.Request.Context(), c.Query("entity_type"), c.Query("entity_id"), p.Page, p.Limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, p.Wrap(logs, total)))
}
