package autonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PolicyClient calls the external learned-policy service over HTTP.
type PolicyClient struct {
	baseURL string
	client  *http.Client
}

// NewPolicyClient creates a client for the policy service at baseURL.
func NewPolicyClient(baseURL string, timeout time.Duration) *PolicyClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PolicyClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type confidenceRequest struct {
	Tool     string `json:"tool"`
	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id"`
}

type confidenceResponse struct {
	Confidence float64 `json:"confidence"`
}

// Confidence implements PolicyService.
func (c *PolicyClient) Confidence(ctx context.Context, toolName, tenantID, actorID string) (float64, error) {
	body, err := json.Marshal(confidenceRequest{
		Tool:     toolName,
		TenantID: tenantID,
		ActorID:  actorID,
	})
	if err != nil {
		return 0, fmt.Errorf("encode policy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/confidence", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("policy service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("policy service returned status %d", resp.StatusCode)
	}

	var out confidenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode policy response: %w", err)
	}
	return out.Confidence, nil
}
