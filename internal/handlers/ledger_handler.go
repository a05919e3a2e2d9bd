package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"waqf-reconciliation-backend/internal/models"
	"waqf-reconciliation-backend/internal/repository"
)

type LedgerStore interface {
	Create(ctx context.Context, entries []models.LedgerEntry) (int64, error)
	Search(ctx context.Context, query string, amountMinor int64, limit int) ([]models.LedgerEntry, error)
}

type LedgerHandler struct {
	store LedgerStore
}

func NewLedgerHandler(store LedgerStore) *LedgerHandler {
	return &LedgerHandler{store: store}
}

type ledgerEntryRequest struct {
	ID          uuid.UUID       `json:"id"`
	Account     string          `json:"account"`
	PostingDate string          `json:"posting_date"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

func (r ledgerEntryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Account, validation.Required),
		validation.Field(&r.PostingDate, validation.Required, validation.Date(time.DateOnly)),
		validation.Field(&r.Amount, validation.By(func(any) error {
			if !r.Amount.IsPositive() {
				return validation.NewError("validation_amount_positive", "must be positive")
			}
			return nil
		})),
		validation.Field(&r.Reference, validation.Length(0, 140)),
	)
}

type createLedgerRequest struct {
	Entries []ledgerEntryRequest `json:"entries"`
}

func (r *createLedgerRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Entries, validation.Required, validation.Length(1, 5000)),
	)
}

func (h *LedgerHandler) CreateEntries(c *gin.Context) {
	var req createLedgerRequest
	if !bindJSON(c, &req) {
		return
	}
	entries := make([]models.LedgerEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		posted, _ := time.Parse(time.DateOnly, e.PostingDate)
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		entries = append(entries, models.LedgerEntry{
			ID:                id,
			AccountIdentifier: e.Account,
			AmountMinor:       e.Amount.Shift(2).Round(0).IntPart(),
			PostingDate:       posted,
			Reference:         e.Reference,
			Description:       e.Description,
		})
	}
	h.create(c, entries, nil)
}

// Upload imports a ledger CSV export.
func (h *LedgerHandler) Upload(c *gin.Context) {
	body, filename, err := uploadBody(c)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}
	defer body.Close()

	entries, warnings, err := repository.ReadLedgerCSV(body)
	if err != nil {
		badRequest(c, "cannot read ledger file", err.Error())
		return
	}
	logrus.WithFields(logrus.Fields{
		"file":     filename,
		"entries":  len(entries),
		"warnings": len(warnings),
	}).Info("ledger file parsed")
	h.create(c, entries, warnings)
}

func (h *LedgerHandler) create(c *gin.Context, entries []models.LedgerEntry, warnings []string) {
	inserted, err := h.store.Create(c.Request.Context(), entries)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"received": len(entries),
		"inserted": inserted,
		"warnings": warnings,
	})
}

func (h *LedgerHandler) Search(c *gin.Context) {
	var amountMinor int64
	if raw := c.Query("amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			badRequest(c, "invalid amount", nil)
			return
		}
		amountMinor = amount.Shift(2).Round(0).IntPart()
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.store.Search(c.Request.Context(), c.Query("q"), amountMinor, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}
