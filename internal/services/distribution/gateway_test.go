package distribution

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatewayURL = "https://payments.test/v1"

func newMockedGateway(t *testing.T) *HTTPGateway {
	gw := NewHTTPGateway(gatewayURL+"/", "secret", 5*time.Second)
	httpmock.ActivateNonDefault(gw.Client())
	t.Cleanup(httpmock.DeactivateAndReset)
	return gw
}

func TestHTTPGateway_Success(t *testing.T) {
	gw := newMockedGateway(t)
	r := fakeRecipients(1)[0]

	httpmock.RegisterResponder(http.MethodPost, gatewayURL+"/payments",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "dist-1:"+r.ID, req.Header.Get("Idempotency-Key"))
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))

			var body paymentRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, r.AmountMinor, body.AmountMinor)
			assert.Equal(t, "dist-1", body.DistributionID)
			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"status": "success", "payment_id": "p-1"})
		})

	require.NoError(t, gw.Pay(context.Background(), "dist-1", r))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPGateway_Declined(t *testing.T) {
	gw := newMockedGateway(t)
	httpmock.RegisterResponder(http.MethodPost, gatewayURL+"/payments",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"failed","message":"insufficient funds"}`))

	err := gw.Pay(context.Background(), "dist-1", fakeRecipients(1)[0])
	var perr *PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "insufficient funds", perr.Message)
	assert.Equal(t, 0, perr.StatusCode)
}

func TestHTTPGateway_ServerError(t *testing.T) {
	gw := newMockedGateway(t)
	httpmock.RegisterResponder(http.MethodPost, gatewayURL+"/payments",
		httpmock.NewStringResponder(http.StatusBadGateway, "upstream unavailable"))

	err := gw.Pay(context.Background(), "dist-1", fakeRecipients(1)[0])
	var perr *PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), perr.Message)
}

func TestHTTPGateway_DrivesProcessor(t *testing.T) {
	gw := newMockedGateway(t)
	recipients := fakeRecipients(4)
	declined := recipients[2].ID

	httpmock.RegisterResponder(http.MethodPost, gatewayURL+"/payments",
		func(req *http.Request) (*http.Response, error) {
			var body paymentRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			if body.RecipientID == declined {
				return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"status": "failed", "message": "account closed"})
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]string{"status": "success"})
		})

	job, err := NewJob("dist-9", recipients, 2)
	require.NoError(t, err)
	cfg := fastConfig()
	cfg.AutoRetries = 0
	require.NoError(t, NewProcessor(gw, cfg).Run(context.Background(), job))

	assert.Equal(t, JobCompletedWithErrors, job.Status())
	assert.Equal(t, 4, httpmock.GetTotalCallCount())
	sum := job.Summary()
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, declined, sum.Failures[0].RecipientID)
	assert.Contains(t, sum.Failures[0].Message, "account closed")
}
