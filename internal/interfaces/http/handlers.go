package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-routing/internal/application/port"
	"github.com/garyjia/approval-routing/internal/application/service"
	"github.com/garyjia/approval-routing/internal/domain/entity"
	"github.com/garyjia/approval-routing/internal/domain/workflow"
)

const dateLayout = "2006-01-02"

// DelegationService manages approver delegations
type DelegationService interface {
	Create(ctx context.Context, d *entity.Delegation, actor port.Actor) error
	Revoke(ctx context.Context, id int64, actor port.Actor) error
	ListForApprover(ctx context.Context, approverID string) ([]*entity.Delegation, error)
}

// HealthFunc reports overall health plus a component breakdown
type HealthFunc func() (bool, interface{})

// Handlers contains all HTTP request handlers
type Handlers struct {
	workflow    service.WorkflowService
	delegations DelegationService
	health      HealthFunc
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(workflowService service.WorkflowService, delegations DelegationService, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		workflow:    workflowService,
		delegations: delegations,
		health:      health,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// TaskActionBody is the body of approve and reject requests
type TaskActionBody struct {
	Comment string `json:"comment"`
	Method  string `json:"method"`
}

// CommentBody carries an optional comment
type CommentBody struct {
	Comment string `json:"comment"`
}

// DelegationRequest is the body of a create delegation request. The
// approver defaults to the caller.
type DelegationRequest struct {
	ApproverID      string `json:"approver_id"`
	DelegateID      string `json:"delegate_id" binding:"required"`
	StartDate       string `json:"start_date" binding:"required"`
	EndDate         string `json:"end_date" binding:"required"`
	Subsidiary      string `json:"subsidiary"`
	TransactionType string `json:"transaction_type"`
	Reason          string `json:"reason"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		ok, components := h.health()
		resp.Components = components
		if !ok {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, Response{Success: code == http.StatusOK, Data: resp})
}

// Submit handles POST /api/v1/transactions/:type/:id/submit
func (h *Handlers) Submit(c *gin.Context) {
	h.respond(c, h.workflow.Submit(c.Request.Context(), transactionRef(c), actorFrom(c)))
}

// Resubmit handles POST /api/v1/transactions/:type/:id/resubmit
func (h *Handlers) Resubmit(c *gin.Context) {
	h.respond(c, h.workflow.Resubmit(c.Request.Context(), transactionRef(c), actorFrom(c)))
}

// Recall handles POST /api/v1/transactions/:type/:id/recall
func (h *Handlers) Recall(c *gin.Context) {
	var body CommentBody
	if !h.bindOptional(c, &body) {
		return
	}
	h.respond(c, h.workflow.Recall(c.Request.Context(), transactionRef(c), body.Comment, actorFrom(c)))
}

// GetHistory handles GET /api/v1/transactions/:type/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	h.respond(c, h.workflow.GetHistory(c.Request.Context(), transactionRef(c)))
}

// ListTasks handles GET /api/v1/transactions/:type/:id/tasks
func (h *Handlers) ListTasks(c *gin.Context) {
	h.respond(c, h.workflow.ListTasks(c.Request.Context(), transactionRef(c)))
}

// Approve handles POST /api/v1/tasks/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	req, ok := h.taskAction(c)
	if !ok {
		return
	}
	h.respond(c, h.workflow.Approve(c.Request.Context(), req, actorFrom(c)))
}

// Reject handles POST /api/v1/tasks/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	req, ok := h.taskAction(c)
	if !ok {
		return
	}
	h.respond(c, h.workflow.Reject(c.Request.Context(), req, actorFrom(c)))
}

// ApproveByToken handles GET and POST /api/v1/tokens/:token/approve
func (h *Handlers) ApproveByToken(c *gin.Context) {
	comment, ok := h.tokenComment(c)
	if !ok {
		return
	}
	h.respond(c, h.workflow.ApproveByToken(c.Request.Context(), c.Param("token"), comment))
}

// RejectByToken handles GET and POST /api/v1/tokens/:token/reject
func (h *Handlers) RejectByToken(c *gin.Context) {
	comment, ok := h.tokenComment(c)
	if !ok {
		return
	}
	h.respond(c, h.workflow.RejectByToken(c.Request.Context(), c.Param("token"), comment))
}

// PreviewMatch handles POST /api/v1/match/preview
func (h *Handlers) PreviewMatch(c *gin.Context) {
	var mc entity.MatchContext
	if err := c.ShouldBindJSON(&mc); err != nil {
		h.badRequest(c, "invalid match context", err)
		return
	}
	h.respond(c, h.workflow.PreviewMatch(c.Request.Context(), mc))
}

// DebugMatch handles POST /api/v1/match/debug
func (h *Handlers) DebugMatch(c *gin.Context) {
	var mc entity.MatchContext
	if err := c.ShouldBindJSON(&mc); err != nil {
		h.badRequest(c, "invalid match context", err)
		return
	}
	h.respond(c, h.workflow.DebugMatch(c.Request.Context(), mc))
}

// ListPathSteps handles GET /api/v1/paths/:id/steps
func (h *Handlers) ListPathSteps(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid path id", err)
		return
	}
	h.respond(c, h.workflow.ListPathSteps(c.Request.Context(), id))
}

// CreateDelegation handles POST /api/v1/delegations
func (h *Handlers) CreateDelegation(c *gin.Context) {
	var req DelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid delegation request", err)
		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		h.badRequest(c, "start_date must be YYYY-MM-DD", err)
		return
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		h.badRequest(c, "end_date must be YYYY-MM-DD", err)
		return
	}

	actor := actorFrom(c)
	d := &entity.Delegation{
		ApproverID:      req.ApproverID,
		DelegateID:      req.DelegateID,
		StartDate:       start,
		EndDate:         end,
		Subsidiary:      req.Subsidiary,
		TransactionType: req.TransactionType,
		Reason:          req.Reason,
	}
	if d.ApproverID == "" {
		d.ApproverID = actor.ID
	}

	if err := h.delegations.Create(c.Request.Context(), d, actor); err != nil {
		h.fail(c, "create delegation", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: d})
}

// RevokeDelegation handles DELETE /api/v1/delegations/:id
func (h *Handlers) RevokeDelegation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid delegation id", err)
		return
	}
	if err := h.delegations.Revoke(c.Request.Context(), id, actorFrom(c)); err != nil {
		h.fail(c, "revoke delegation", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListDelegations handles GET /api/v1/delegations?approver_id=
func (h *Handlers) ListDelegations(c *gin.Context) {
	approverID := c.Query("approver_id")
	if approverID == "" {
		approverID = actorFrom(c).ID
	}
	delegations, err := h.delegations.ListForApprover(c.Request.Context(), approverID)
	if err != nil {
		h.fail(c, "list delegations", err)
		return
	}
	if delegations == nil {
		delegations = []*entity.Delegation{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: delegations})
}

func (h *Handlers) taskAction(c *gin.Context) (service.TaskActionRequest, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid task id", err)
		return service.TaskActionRequest{}, false
	}
	var body TaskActionBody
	if !h.bindOptional(c, &body) {
		return service.TaskActionRequest{}, false
	}
	return service.TaskActionRequest{TaskID: id, Comment: body.Comment, Method: body.Method}, true
}

// tokenComment reads the comment from the query string, or from a JSON body on POST
func (h *Handlers) tokenComment(c *gin.Context) (string, bool) {
	if comment := c.Query("comment"); comment != "" {
		return comment, true
	}
	var body CommentBody
	if !h.bindOptional(c, &body) {
		return "", false
	}
	return body.Comment, true
}

// bindOptional binds a JSON body when one is present
func (h *Handlers) bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		h.badRequest(c, "invalid request body", err)
		return false
	}
	return true
}

func (h *Handlers) respond(c *gin.Context, result *service.ActionResult) {
	code := http.StatusOK
	if !result.Success {
		code = statusForKind(result.ErrorKind)
	}
	c.JSON(code, result)
}

func (h *Handlers) fail(c *gin.Context, op string, err error) {
	var werr *workflow.Error
	if errors.As(err, &werr) && werr.Kind != workflow.KindInternal {
		c.JSON(statusForKind(werr.Kind), Response{Success: false, Error: werr.Message})
		return
	}
	h.logger.Error("Request failed", "op", op, "error", err)
	c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Info("Rejected malformed request", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

func transactionRef(c *gin.Context) entity.TransactionRef {
	return entity.TransactionRef{Type: c.Param("type"), ID: c.Param("id")}
}

func statusForKind(kind workflow.Kind) int {
	switch kind {
	case workflow.KindValidation:
		return http.StatusBadRequest
	case workflow.KindAuthorization:
		return http.StatusForbidden
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindState:
		return http.StatusConflict
	case workflow.KindConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
