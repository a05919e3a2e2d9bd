package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"waqf-reconciliation-backend/internal/models"
	"waqf-reconciliation-backend/internal/services/matching"
	service "waqf-reconciliation-backend/internal/services/reconciliation"
	"waqf-reconciliation-backend/internal/statement"
)

type ReconciliationService interface {
	ImportStatement(ctx context.Context, stmt *statement.Statement) (service.Summary, error)
	ListSessions(ctx context.Context, status string, limit int) ([]models.ReconciliationSession, error)
	Report(ctx context.Context, id uuid.UUID) (service.Summary, error)
	ListCandidates(ctx context.Context, sessionID, txID uuid.UUID) ([]matching.MatchCandidate, error)
	ApplyAutoMatches(ctx context.Context, sessionID uuid.UUID) ([]models.Match, error)
	ConfirmManualMatch(ctx context.Context, sessionID, txID, ledgerID uuid.UUID, userID string) (models.Match, error)
	Unmatch(ctx context.Context, sessionID, txID uuid.UUID, userID string) error
	MarkReconcilingItem(ctx context.Context, sessionID, itemID uuid.UUID, kind models.ReconcilingKind, userID string) (models.ReconcilingItem, error)
	ClearReconcilingItem(ctx context.Context, sessionID, itemID uuid.UUID, userID string) error
	Close(ctx context.Context, sessionID uuid.UUID, userID string) (service.Summary, error)
	RecordAdjustment(ctx context.Context, sessionID uuid.UUID, userID, reason string, txID, ledgerID *uuid.UUID) (models.MatchAuditLog, error)
}

type ReconciliationHandler struct {
	service ReconciliationService
}

func NewReconciliationHandler(s ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: s}
}

// ParseStatement parses an upload without storing it.
func (h *ReconciliationHandler) ParseStatement(c *gin.Context) {
	stmt, ok := h.readStatement(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, stmt)
}

// ImportStatement parses an upload and opens a session for it. With
// auto_match=true the auto-match pass runs right away.
func (h *ReconciliationHandler) ImportStatement(c *gin.Context) {
	stmt, ok := h.readStatement(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sum, err := h.service.ImportStatement(ctx, stmt)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("auto_match") == "true" {
		if _, err := h.service.ApplyAutoMatches(ctx, sum.SessionID); err != nil {
			respondError(c, err)
			return
		}
		if sum, err = h.service.Report(ctx, sum.SessionID); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"session": sum, "warnings": stmt.Warnings})
}

func (h *ReconciliationHandler) readStatement(c *gin.Context) (*statement.Statement, bool) {
	body, filename, err := uploadBody(c)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return nil, false
	}
	defer body.Close()

	stmt, err := statement.Parse(statement.Format(c.Query("format")), body)
	if err != nil {
		badRequest(c, "cannot parse statement", err.Error())
		return nil, false
	}
	logrus.WithFields(logrus.Fields{
		"file":         filename,
		"format":       stmt.Format,
		"transactions": len(stmt.Transactions),
		"warnings":     len(stmt.Warnings),
	}).Info("statement parsed")
	return stmt, true
}

func (h *ReconciliationHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context(), c.Query("status"), 50)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": sessions})
}

func (h *ReconciliationHandler) GetSession(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	sum, err := h.service.Report(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *ReconciliationHandler) AutoMatch(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	created, err := h.service.ApplyAutoMatches(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": len(created), "matches": created})
}

func (h *ReconciliationHandler) Candidates(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	txID, ok := uuidParam(c, "txId")
	if !ok {
		return
	}
	candidates, err := h.service.ListCandidates(c.Request.Context(), id, txID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": candidates})
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func (r *userRequest) Validate() error {
	return validation.ValidateStruct(r, validation.Field(&r.UserID, validation.Required))
}

type manualMatchRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	LedgerEntryID uuid.UUID `json:"ledger_entry_id"`
	UserID        string    `json:"user_id"`
}

func (r *manualMatchRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TransactionID, requiredUUID),
		validation.Field(&r.LedgerEntryID, requiredUUID),
		validation.Field(&r.UserID, validation.Required),
	)
}

func (h *ReconciliationHandler) ConfirmMatch(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req manualMatchRequest
	if !bindJSON(c, &req) {
		return
	}
	m, err := h.service.ConfirmManualMatch(c.Request.Context(), id, req.TransactionID, req.LedgerEntryID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *ReconciliationHandler) Unmatch(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	txID, ok := uuidParam(c, "txId")
	if !ok {
		return
	}
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.service.Unmatch(c.Request.Context(), id, txID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "match removed"})
}

type reconcilingItemRequest struct {
	ItemID uuid.UUID              `json:"item_id"`
	Kind   models.ReconcilingKind `json:"kind"`
	UserID string                 `json:"user_id"`
}

func (r *reconcilingItemRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ItemID, requiredUUID),
		validation.Field(&r.Kind, validation.Required, validation.In(models.OutstandingCheck, models.DepositInTransit)),
		validation.Field(&r.UserID, validation.Required),
	)
}

func (h *ReconciliationHandler) MarkReconcilingItem(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req reconcilingItemRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := h.service.MarkReconcilingItem(c.Request.Context(), id, req.ItemID, req.Kind, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *ReconciliationHandler) ClearReconcilingItem(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	itemID, ok := uuidParam(c, "itemId")
	if !ok {
		return
	}
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.service.ClearReconcilingItem(c.Request.Context(), id, itemID, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reconciling item cleared"})
}

func (h *ReconciliationHandler) Close(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req userRequest
	if !bindJSON(c, &req) {
		return
	}
	sum, err := h.service.Close(c.Request.Context(), id, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

type adjustmentRequest struct {
	UserID        string     `json:"user_id"`
	Reason        string     `json:"reason"`
	TransactionID *uuid.UUID `json:"transaction_id"`
	LedgerEntryID *uuid.UUID `json:"ledger_entry_id"`
}

func (r *adjustmentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Reason, validation.Required, validation.Length(3, 500)),
	)
}

func (h *ReconciliationHandler) RecordAdjustment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req adjustmentRequest
	if !bindJSON(c, &req) {
		return
	}
	entry, err := h.service.RecordAdjustment(c.Request.Context(), id, req.UserID, req.Reason, req.TransactionID, req.LedgerEntryID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}
