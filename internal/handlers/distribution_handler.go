package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"waqf-reconciliation-backend/internal/models"
	"waqf-reconciliation-backend/internal/services/distribution"
)

type DistributionService interface {
	CreateJob(ctx context.Context, id string, recipients []distribution.Recipient, batchSize int) (distribution.JobSummary, error)
	Start(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	RetryFailed(ctx context.Context, id string) error
	Report(ctx context.Context, id string) (distribution.JobSummary, error)
	List(ctx context.Context, limit int) ([]models.DistributionJob, error)
}

type DistributionHandler struct {
	service DistributionService
}

func NewDistributionHandler(s DistributionService) *DistributionHandler {
	return &DistributionHandler{service: s}
}

type recipientRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

func (r recipientRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Currency, validation.Length(3, 3)),
	)
}

type createDistributionRequest struct {
	ID         string             `json:"id"`
	BatchSize  int                `json:"batch_size"`
	Recipients []recipientRequest `json:"recipients"`
	Start      bool               `json:"start"`
}

func (r *createDistributionRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Length(0, 64)),
		validation.Field(&r.BatchSize, validation.Min(0)),
		validation.Field(&r.Recipients, validation.Required),
	)
}

func (h *DistributionHandler) Create(c *gin.Context) {
	var req createDistributionRequest
	if !bindJSON(c, &req) {
		return
	}
	recipients := make([]distribution.Recipient, len(req.Recipients))
	for i, r := range req.Recipients {
		recipients[i] = distribution.Recipient{
			ID:            r.ID,
			Name:          r.Name,
			AccountNumber: r.AccountNumber,
			AmountMinor:   r.Amount.Shift(2).Round(0).IntPart(),
			Currency:      r.Currency,
		}
	}
	h.create(c, req.ID, recipients, req.BatchSize, req.Start)
}

// Upload creates a distribution from a recipients CSV. Query parameters id,
// batch_size and start mirror the JSON payload.
func (h *DistributionHandler) Upload(c *gin.Context) {
	batchSize := 0
	if raw := c.Query("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "invalid batch_size", nil)
			return
		}
		batchSize = n
	}
	body, _, err := uploadBody(c)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}
	defer body.Close()

	recipients, err := distribution.ReadRecipientsCSV(body)
	if err != nil {
		badRequest(c, "cannot read recipients file", err.Error())
		return
	}
	h.create(c, c.Query("id"), recipients, batchSize, c.Query("start") == "true")
}

func (h *DistributionHandler) create(c *gin.Context, id string, recipients []distribution.Recipient, batchSize int, start bool) {
	ctx := c.Request.Context()
	sum, err := h.service.CreateJob(ctx, id, recipients, batchSize)
	if err != nil {
		respondError(c, err)
		return
	}
	if start {
		if err := h.service.Start(ctx, sum.ID); err != nil {
			respondError(c, err)
			return
		}
		if sum, err = h.service.Report(ctx, sum.ID); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, sum)
}

func (h *DistributionHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := h.service.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": jobs})
}

func (h *DistributionHandler) Get(c *gin.Context) {
	sum, err := h.service.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *DistributionHandler) Start(c *gin.Context) {
	h.transition(c, h.service.Start, "distribution queued")
}

func (h *DistributionHandler) Pause(c *gin.Context) {
	h.transition(c, h.service.Pause, "pause requested")
}

func (h *DistributionHandler) Resume(c *gin.Context) {
	h.transition(c, h.service.Resume, "distribution resumed")
}

func (h *DistributionHandler) Retry(c *gin.Context) {
	h.transition(c, h.service.RetryFailed, "retry queued")
}

func (h *DistributionHandler) transition(c *gin.Context, fn func(context.Context, string) error, message string) {
	id := c.Param("id")
	if err := fn(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "message": message})
}
