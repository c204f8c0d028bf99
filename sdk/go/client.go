// Package chaselinesdk is a small HTTP client for the Chaseline API.
package chaselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Chaseline server. Set either BearerToken or APIKey
// before making calls against an authenticated server.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New returns a client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ClientRecord is a party whose documents are being chased.
type ClientRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	RiskProfile string `json:"risk_profile,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Chase is an outstanding document or LOA request.
type Chase struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"client_id"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	Priority     string  `json:"priority"`
	ProviderID   string  `json:"provider_id,omitempty"`
	Description  string  `json:"description,omitempty"`
	Attempts     int     `json:"attempts"`
	RiskScore    float64 `json:"risk_score"`
	LastTone     string  `json:"last_tone,omitempty"`
	LastChannel  string  `json:"last_channel,omitempty"`
	FailReason   string  `json:"fail_reason,omitempty"`
	CreatedAt    string  `json:"created_at"`
	LastActionAt string  `json:"last_action_at,omitempty"`
	NextActionAt string  `json:"next_action_at,omitempty"`
	ResolvedAt   string  `json:"resolved_at,omitempty"`
}

// Activity is one recorded chase action.
type Activity struct {
	ID        int64  `json:"id"`
	ItemID    string `json:"item_id"`
	AgentType string `json:"agent_type"`
	Action    string `json:"action"`
	Channel   string `json:"channel,omitempty"`
	Tone      string `json:"tone,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	TS        string `json:"ts"`
}

// Risk is a point-in-time delay assessment for a chase.
type Risk struct {
	ItemID         string   `json:"item_id"`
	Score          float64  `json:"score"`
	Band           string   `json:"band"`
	ExpectedDays   float64  `json:"expected_days"`
	ElapsedDays    float64  `json:"elapsed_days"`
	Factors        []string `json:"factors,omitempty"`
	Recommendation string   `json:"recommendation"`
}

// ProviderProfile tracks observed response behaviour for a provider.
type ProviderProfile struct {
	ProviderID   string  `json:"provider_id"`
	Name         string  `json:"name"`
	MeanDays     float64 `json:"mean_days"`
	P90Days      float64 `json:"p90_days"`
	SampleCount  int     `json:"sample_count"`
	OverdueCount int     `json:"overdue_count"`
	OverdueRate  float64 `json:"overdue_rate"`
}

// TickStats summarises one scheduler pass.
type TickStats struct {
	Due       int `json:"due"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
}

// Analytics is a workload snapshot.
type Analytics struct {
	TotalItems        int               `json:"total_items"`
	ByStatus          map[string]int    `json:"by_status"`
	OverdueItems      int               `json:"overdue_items"`
	HighRiskItems     int               `json:"high_risk_items"`
	CompletedToday    int               `json:"completed_today"`
	AvgCompletionDays float64           `json:"avg_completion_days"`
	Providers         []ProviderProfile `json:"providers,omitempty"`
}

// CreateClient registers a client.
func (c *Client) CreateClient(ctx context.Context, name, email, phone string) (ClientRecord, error) {
	body := map[string]any{
		"name":  name,
		"email": email,
		"phone": phone,
	}
	var resp ClientRecord
	err := c.do(ctx, http.MethodPost, "v0/clients", body, &resp)
	return resp, err
}

// ListClients returns all registered clients.
func (c *Client) ListClients(ctx context.Context) ([]ClientRecord, error) {
	var resp []ClientRecord
	err := c.do(ctx, http.MethodGet, "v0/clients", nil, &resp)
	return resp, err
}

// CreateChase registers a chase for a client.
func (c *Client) CreateChase(ctx context.Context, clientID, chaseType, providerID, description, priority string) (Chase, error) {
	body := map[string]any{
		"client_id":   clientID,
		"type":        chaseType,
		"provider_id": providerID,
		"description": description,
		"priority":    priority,
	}
	var resp Chase
	err := c.do(ctx, http.MethodPost, "v0/chases", body, &resp)
	return resp, err
}

// GetChase fetches a chase by id.
func (c *Client) GetChase(ctx context.Context, id string) (Chase, error) {
	var resp Chase
	err := c.do(ctx, http.MethodGet, chasePath(id, ""), nil, &resp)
	return resp, err
}

// ListChases returns chases, optionally filtered by status.
func (c *Client) ListChases(ctx context.Context, status string) ([]Chase, error) {
	endpoint := "v0/chases"
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Chase
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ChaseActivities returns the activity log for a chase.
func (c *Client) ChaseActivities(ctx context.Context, id string) ([]Activity, error) {
	var resp []Activity
	err := c.do(ctx, http.MethodGet, chasePath(id, "activities"), nil, &resp)
	return resp, err
}

// ChaseRisk returns the current risk assessment for a chase.
func (c *Client) ChaseRisk(ctx context.Context, id string) (Risk, error) {
	var resp Risk
	err := c.do(ctx, http.MethodGet, chasePath(id, "risk"), nil, &resp)
	return resp, err
}

// ReceiveChase records that the requested document arrived.
func (c *Client) ReceiveChase(ctx context.Context, id string) (Chase, error) {
	var resp Chase
	err := c.do(ctx, http.MethodPost, chasePath(id, "receive"), nil, &resp)
	return resp, err
}

// CompleteChase closes a chase as done.
func (c *Client) CompleteChase(ctx context.Context, id string) (Chase, error) {
	var resp Chase
	err := c.do(ctx, http.MethodPost, chasePath(id, "complete"), nil, &resp)
	return resp, err
}

// FailChase closes a chase as failed with a reason.
func (c *Client) FailChase(ctx context.Context, id, reason string) (Chase, error) {
	body := map[string]any{"reason": reason}
	var resp Chase
	err := c.do(ctx, http.MethodPost, chasePath(id, "fail"), body, &resp)
	return resp, err
}

// ProcessChase runs one scheduler pass over a single chase.
func (c *Client) ProcessChase(ctx context.Context, id string) (Chase, error) {
	var resp Chase
	err := c.do(ctx, http.MethodPost, chasePath(id, "process"), nil, &resp)
	return resp, err
}

// Tick runs one scheduler pass over all due chases.
func (c *Client) Tick(ctx context.Context) (TickStats, error) {
	var resp TickStats
	err := c.do(ctx, http.MethodPost, "v0/tick", nil, &resp)
	return resp, err
}

// Providers returns all known provider profiles.
func (c *Client) Providers(ctx context.Context) ([]ProviderProfile, error) {
	var resp []ProviderProfile
	err := c.do(ctx, http.MethodGet, "v0/providers", nil, &resp)
	return resp, err
}

// Analytics returns a workload snapshot.
func (c *Client) Analytics(ctx context.Context) (Analytics, error) {
	var resp Analytics
	err := c.do(ctx, http.MethodGet, "v0/analytics", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func chasePath(id, sub string) string {
	p := fmt.Sprintf("v0/chases/%s", url.PathEscape(id))
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
