// Package attachments talks to the document service that stores uploaded receipts and
// delivery notes. Uploads are tagged with a transaction reference before the business
// entity exists; linking points them at the entity once it is created.
package attachments

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/lounge/internal/config"
	"github.com/mamadbah2/lounge/internal/repository"
)

// APIClient is a resty-backed implementation of repository.AttachmentLinker.
type APIClient struct {
	httpClient *resty.Client
}

var _ repository.AttachmentLinker = (*APIClient)(nil)

// NewClient builds an attachment service client using the provided configuration values.
func NewClient(cfg config.AttachmentsConfig) *APIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	return &APIClient{httpClient: restyClient}
}

type linkRequest struct {
	TransactionRef string `json:"transaction_ref"`
	EntityID       string `json:"entity_id"`
	EntityType     string `json:"entity_type"`
}

type apiError struct {
	Error string `json:"error"`
}

// LinkAttachments asks the service to point every attachment tagged with transactionRef at
// the entity. The service treats repeated links as no-ops.
func (c *APIClient) LinkAttachments(ctx context.Context, transactionRef, entityID, entityType string) error {
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(linkRequest{TransactionRef: transactionRef, EntityID: entityID, EntityType: entityType}).
		SetError(apiErr).
		Post("/attachments/link")
	if err != nil {
		return fmt.Errorf("link attachments: %w", err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("attachment service error: code=%d, message=%s", resp.StatusCode(), apiErr.Error)
	}

	return nil
}
