package caseflow

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medsolicita/case-api/internal/handler"
	"github.com/medsolicita/case-api/internal/middleware"
	"github.com/medsolicita/case-api/internal/model"
	"github.com/medsolicita/case-api/internal/service/caseflow"
)

type Handler struct {
	svc *caseflow.Service
}

func NewHandler(svc *caseflow.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the authenticated case endpoints. Role and ownership
// checks live in the workflow engine; the routes only establish identity.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	cases := r.Group("/cases")
	{
		cases.POST("", h.CreateCase)
		cases.GET("", h.ListCases)
		cases.GET("/:id", h.GetCase)
		cases.POST("/:id/payment", h.RequestPayment)
		cases.GET("/:id/payment/status", h.RefreshPaymentStatus)
		cases.POST("/:id/approve", h.ApproveCase)
		cases.POST("/:id/reject", h.RejectCase)
		cases.GET("/:id/document", h.GetDocument)
		cases.GET("/:id/document/download", h.DownloadDocument)
	}

	review := r.Group("/review")
	review.Use(middleware.RequireRole(model.UserRoleDoctor))
	{
		review.GET("/cases", h.ListCasesAwaitingReview)
	}
}

func (h *Handler) CreateCase(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing identity"))
		return
	}

	var req model.CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	created, err := h.svc.CreateCase(c.Request.Context(), userID, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) ListCases(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing identity"))
		return
	}

	cases, err := h.svc.ListCasesForPatient(c.Request.Context(), userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(cases))
}

func (h *Handler) GetCase(c *gin.Context) {
	userID, caseID, ok := h.identityAndCase(c)
	if !ok {
		return
	}

	found, err := h.svc.GetCaseForPatient(c.Request.Context(), caseID, userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(found))
}

func (h *Handler) RequestPayment(c *gin.Context) {
	userID, caseID, ok := h.identityAndCase(c)
	if !ok {
		return
	}

	info, err := h.svc.RequestPayment(c.Request.Context(), caseID, userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(info))
}

func (h *Handler) RefreshPaymentStatus(c *gin.Context) {
	userID, caseID, ok := h.identityAndCase(c)
	if !ok {
		return
	}

	refreshed, err := h.svc.RefreshPaymentStatus(c.Request.Context(), caseID, userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(refreshed))
}

func (h *Handler) ApproveCase(c *gin.Context) {
	userID, caseID, ok := h.identityAndCase(c)
	if !ok {
		return
	}

	var req model.ApproveCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	doc, err := h.svc.ApproveCase(c.Request.Context(), caseID, userID, req.Content)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(doc))
}

func (h *Handler) RejectCase(c *gin.Context) {
	userID, caseID, ok := h.identityAndCase(c)
	if !ok {
		return
	}

	var req model.RejectCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.svc.RejectCase(c.Request.Context(), caseID, userID, req.Reason); err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"case_id": caseID, "status": model.CaseStatusRejected}))
}

func (h *Handler) ListCasesAwaitingReview(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing identity"))
		return
	}

	cases, err := h.svc.ListCasesAwaitingReview(c.Request.Context(), userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(cases))
}

func (h *Handler) GetDocument(c *gin.Context) {
	userID, caseID, ok := h.identityAndCase(c)
	if !ok {
		return
	}

	doc, err := h.svc.GetSignedDocument(c.Request.Context(), caseID, userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(doc))
}

func (h *Handler) DownloadDocument(c *gin.Context) {
	userID, caseID, ok := h.identityAndCase(c)
	if !ok {
		return
	}

	filename, content, err := h.svc.ExportSignedDocument(c.Request.Context(), caseID, userID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", content)
}

func (h *Handler) identityAndCase(c *gin.Context) (userID, caseID uuid.UUID, ok bool) {
	userID, found := middleware.CurrentUserID(c)
	if !found {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing identity"))
		return uuid.Nil, uuid.Nil, false
	}

	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid case ID"))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, caseID, true
}
