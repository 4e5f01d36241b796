/**
 * @description
 * This package provides a client for the external KYC screening provider.
 * It encapsulates the logic for making authenticated HTTP requests, handling
 * request/response bodies, and managing errors from the provider API.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 *
 * @notes
 * - Every screening call carries its own bounded deadline so a slow provider
 *   cannot stall the compliance pipeline. Callers must treat ErrTimeout as an
 *   unanswered question, never as a pass.
 */
package kycclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTimeout is returned when the provider did not answer within the
// screening deadline.
var ErrTimeout = errors.New("kyc provider timed out")

// ScreeningResult is the provider's verdict on a single subject.
type ScreeningResult struct {
	SubjectRef string   `json:"subject_ref"`
	Clear      bool     `json:"clear"`
	Flags      []string `json:"flags,omitempty"`
}

// Screener is the interface the compliance pipeline depends on.
type Screener interface {
	ScreenSubject(ctx context.Context, subjectRef, countryCode string) (*ScreeningResult, error)
}

// Client is a client for the KYC screening provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	Deadline   time.Duration
	httpClient *http.Client
}

// NewClient creates a new KYC provider client. deadline bounds each screening
// call; zero falls back to five seconds.
func NewClient(baseURL, apiKey string, deadline time.Duration) *Client {
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Deadline: deadline,
		httpClient: &http.Client{
			Timeout: deadline + time.Second,
		},
	}
}

type screenRequest struct {
	SubjectRef  string `json:"subject_ref"`
	CountryCode string `json:"country_code"`
}

// ScreenSubject asks the provider whether a subject is clear to transact.
// A deadline overrun maps to ErrTimeout so the caller can hold rather than
// fail the transfer outright.
func (c *Client) ScreenSubject(ctx context.Context, subjectRef, countryCode string) (*ScreeningResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Deadline)
	defer cancel()

	body, err := json.Marshal(screenRequest{SubjectRef: subjectRef, CountryCode: countryCode})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/screenings", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to send request to KYC provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.handleErrorResponse(resp)
	}

	var result ScreeningResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode successful response: %w", err)
	}
	return &result, nil
}

// setHeaders applies the required headers for authenticated provider requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.APIKey)
}

// handleErrorResponse reads the body of a non-successful response and formats
// it into a descriptive error.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kyc provider request failed with status %d and unreadable body", resp.StatusCode)
	}
	return fmt.Errorf("kyc provider request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
}
