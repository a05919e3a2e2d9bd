package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"waqf-reconciliation-backend/internal/apierror"
)

const maxUploadBytes = 20 << 20

var requiredUUID = validation.By(func(value any) error {
	if id, _ := value.(uuid.UUID); id == uuid.Nil {
		return errors.New("cannot be blank")
	}
	return nil
})

func respondError(c *gin.Context, err error) {
	apiErr := apierror.FromError(err)
	_ = c.Error(err)
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr})
}

func badRequest(c *gin.Context, message string, details any) {
	respondError(c, apierror.NewAPIError(apierror.ErrInvalidInput, message, details))
}

// bindJSON decodes and validates the body. It writes the error response and
// returns false on failure.
func bindJSON(c *gin.Context, v validation.Validatable) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "invalid payload", err.Error())
		return false
	}
	if err := v.Validate(); err != nil {
		badRequest(c, "invalid payload", err)
		return false
	}
	return true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// uploadBody returns the multipart "file" part when present, otherwise the raw
// request body.
func uploadBody(c *gin.Context) (io.ReadCloser, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			return nil, "", errors.New("file required")
		}
		return file, header.Filename, nil
	}
	if c.Request.ContentLength == 0 {
		return nil, "", errors.New("file required")
	}
	return c.Request.Body, "", nil
}
