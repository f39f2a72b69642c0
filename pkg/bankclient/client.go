/**
 * @description
 * This package provides a client for the banking provider's transfer and
 * collection-link endpoints. The ids it returns are used as correlation keys when
 * the provider later reports settlement through webhooks.
 *
 * @dependencies
 * - github.com/shopspring/decimal: amounts are sent as decimal strings in major units.
 * - go.uber.org/zap: structured logging of non-2xx responses.
 */
package bankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client is a client for the banking provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	log        *zap.Logger
}

// NewClient creates a new banking provider API client.
func NewClient(baseURL, apiKey string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With(zap.String("component", "bank_client")),
	}
}

type relationship struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

func newRelationship(resourceType, id string) relationship {
	var r relationship
	r.Data.Type = resourceType
	r.Data.ID = id
	return r
}

// TransferRequest describes an outbound payout.
type TransferRequest struct {
	Reference       string
	SourceAccountID string
	CounterpartyID  string
	Amount          decimal.Decimal
	Currency        string
	Reason          string
}

type transferPayload struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Currency  string `json:"currency"`
			Amount    string `json:"amount"`
			Reason    string `json:"reason"`
			Reference string `json:"reference"`
		} `json:"attributes"`
		Relationships struct {
			Account      relationship `json:"account"`
			CounterParty relationship `json:"counterParty"`
		} `json:"relationships"`
	} `json:"data"`
}

// TransferResponse is the provider's view of a created transfer.
type TransferResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

// CollectionLinkRequest describes a payment link an employer pays payroll funds into.
type CollectionLinkRequest struct {
	Reference           string
	Amount              decimal.Decimal
	Currency            string
	PayerDocumentNumber string
	Description         string
}

type collectionLinkPayload struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Currency            string `json:"currency"`
			Amount              string `json:"amount"`
			Reference           string `json:"reference"`
			PayerDocumentNumber string `json:"payer_document_number,omitempty"`
			Description         string `json:"description,omitempty"`
		} `json:"attributes"`
	} `json:"data"`
}

// CollectionLinkResponse is the provider's view of a created collection link.
type CollectionLinkResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			URL       string    `json:"url"`
			Status    string    `json:"status"`
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the provider API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("bank api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return fmt.Sprintf("bank api error (status %d)", e.StatusCode)
}

// Temporary reports whether the failure is worth retrying.
func (e *ErrorResponse) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CreateTransfer initiates a payout. The returned id identifies the transfer in later webhooks.
func (c *Client) CreateTransfer(ctx context.Context, in TransferRequest) (*TransferResponse, error) {
	payload := transferPayload{}
	payload.Data.Type = "Transfer"
	payload.Data.Attributes.Currency = strings.ToUpper(in.Currency)
	payload.Data.Attributes.Amount = in.Amount.StringFixed(2)
	payload.Data.Attributes.Reason = in.Reason
	payload.Data.Attributes.Reference = in.Reference
	payload.Data.Relationships.Account = newRelationship("DepositAccount", in.SourceAccountID)
	payload.Data.Relationships.CounterParty = newRelationship("CounterParty", in.CounterpartyID)

	var resp TransferResponse
	if err := c.do(ctx, "create_transfer", "/api/v1/transfers", in.Reference, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateCollectionLink creates a payment link for funding a payroll.
func (c *Client) CreateCollectionLink(ctx context.Context, in CollectionLinkRequest) (*CollectionLinkResponse, error) {
	payload := collectionLinkPayload{}
	payload.Data.Type = "CollectionLink"
	payload.Data.Attributes.Currency = strings.ToUpper(in.Currency)
	payload.Data.Attributes.Amount = in.Amount.StringFixed(2)
	payload.Data.Attributes.Reference = in.Reference
	payload.Data.Attributes.PayerDocumentNumber = in.PayerDocumentNumber
	payload.Data.Attributes.Description = in.Description

	var resp CollectionLinkResponse
	if err := c.do(ctx, "create_collection_link", "/api/v1/collection-links", in.Reference, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, op, path, idempotencyKey string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			c.log.Warn("non-2xx response (unparsable error body)", zap.String("op", op), zap.Int("status", resp.StatusCode))
			return &errResp
		}
		c.log.Warn("non-2xx response", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("error", errResp.Error()))
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
