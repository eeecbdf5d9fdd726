package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ldp-health/platform/pkg/common/config"
	"github.com/ldp-health/platform/pkg/common/models"
	"golang.org/x/oauth2/clientcredentials"
)

// LookupClient talks to the external demographics lookup service's batch API.
// Authentication is OAuth2 client credentials; tokens are fetched and
// refreshed by the underlying transport.
type LookupClient struct {
	baseURL string
	http    *http.Client
}

func NewLookupClient(cfg *config.Config) *LookupClient {
	client := &http.Client{Timeout: cfg.LookupTimeout}
	if cfg.LookupTokenURL != "" {
		creds := clientcredentials.Config{
			ClientID:     cfg.LookupClientID,
			ClientSecret: cfg.LookupClientSecret,
			TokenURL:     cfg.LookupTokenURL,
		}
		client = creds.Client(context.Background())
		client.Timeout = cfg.LookupTimeout
	}
	return &LookupClient{baseURL: cfg.LookupBaseURL, http: client}
}

type addToBatchRequest struct {
	Records []models.TraceRecord `json:"records"`
}

type addToBatchResponse struct {
	BatchID string `json:"batch_id"`
}

// AddToBatch submits records for tracing and returns the lookup service's
// batch id. Responses arrive asynchronously through the inbox.
func (c *LookupClient) AddToBatch(ctx context.Context, records []models.TraceRecord) (string, error) {
	body, err := json.Marshal(addToBatchRequest{Records: records})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/trace-batches", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting trace batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("trace batch submission failed: %s: %s", resp.Status, readErrorBody(resp.Body))
	}

	var out addToBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding batch response: %w", err)
	}
	return out.BatchID, nil
}

type inboxResponse struct {
	Responses []CompletedTrace `json:"responses"`
}

// CollectResponses fetches every completed batch currently waiting in the
// inbox. Collected responses stay there until acknowledged.
func (c *LookupClient) CollectResponses(ctx context.Context) ([]CompletedTrace, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/trace-responses", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collecting trace responses: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("trace response collection failed: %s: %s", resp.Status, readErrorBody(resp.Body))
	}

	var out inboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding inbox response: %w", err)
	}
	return out.Responses, nil
}

// Acknowledge removes a processed response from the inbox.
func (c *LookupClient) Acknowledge(ctx context.Context, traceID string) error {
	endpoint := c.baseURL + "/api/v1/trace-responses/" + url.PathEscape(traceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("acknowledging trace response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("trace response acknowledgement failed: %s: %s", resp.Status, readErrorBody(resp.Body))
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(bytes.TrimSpace(body))
}
