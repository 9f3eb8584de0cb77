// Package oracle talks to the abstraction, generation, verification and
// compliance services. Calls are single-shot: a failure is reported to the
// caller, who records it against the file.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/version"
)

const maxResponseSize = 10 * 1024 * 1024

// Client is an HTTP client for the oracle service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	observe    func(throttled bool)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithThrottleObserver reports every completed call: true when the service
// answered 429, false when it answered normally.
func WithThrottleObserver(fn func(throttled bool)) Option {
	return func(cl *Client) { cl.observe = fn }
}

// NewClient creates a client for baseURL, authenticating with token if set.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, &artifact.ConfigError{Field: "oracle.base_url", Reason: "must not be empty"}
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type abstractRequest struct {
	Repository string `json:"repository"`
	Path       string `json:"path"`
	Language   string `json:"language"`
	Content    string `json:"content"`
}

// Abstract asks for a description of what a.Content does.
func (c *Client) Abstract(ctx context.Context, a artifact.CodeArtifact) (artifact.ConceptAbstraction, error) {
	var out artifact.ConceptAbstraction
	req := abstractRequest{Repository: a.Repository, Path: a.Path, Language: a.Language, Content: a.Content}
	if err := c.call(ctx, "/v1/abstract", req, &out); err != nil {
		return artifact.ConceptAbstraction{}, err
	}
	if err := out.Validate(); err != nil {
		return artifact.ConceptAbstraction{}, &FatalError{err: fmt.Errorf("/v1/abstract: %w", err)}
	}
	return out, nil
}

type generateRequest struct {
	Concept  artifact.ConceptAbstraction `json:"concept"`
	Language string                      `json:"language"`
}

type generateResponse struct {
	Implementation string `json:"implementation"`
}

// Generate produces a fresh implementation of concept. The original text is
// never sent.
func (c *Client) Generate(ctx context.Context, concept artifact.ConceptAbstraction, language string) (string, error) {
	var out generateResponse
	if err := c.call(ctx, "/v1/generate", generateRequest{Concept: concept, Language: language}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Implementation) == "" {
		return "", &FatalError{err: errors.New("/v1/generate: empty implementation")}
	}
	return out.Implementation, nil
}

type verifyRequest struct {
	Language  string `json:"language"`
	Original  string `json:"original"`
	Generated string `json:"generated"`
}

// verifyResponse keeps the verdict fields as pointers so a missing field is
// told apart from false.
type verifyResponse struct {
	FunctionallyEquivalent *bool                           `json:"functionally_equivalent"`
	Performance            *artifact.PerformanceComparison `json:"performance"`
	SecurityFindings       []artifact.SecurityFinding      `json:"security_findings"`
	Approved               *bool                           `json:"approved"`
}

func (r verifyResponse) result() (artifact.VerificationResult, error) {
	switch {
	case r.Approved == nil:
		return artifact.VerificationResult{}, errors.New("response has no approved field")
	case r.FunctionallyEquivalent == nil:
		return artifact.VerificationResult{}, errors.New("response has no functionally_equivalent field")
	case r.Performance == nil:
		return artifact.VerificationResult{}, errors.New("response has no performance comparison")
	case *r.Approved && !*r.FunctionallyEquivalent:
		return artifact.VerificationResult{}, errors.New("approved an implementation that is not functionally equivalent")
	case *r.Approved && r.Performance.Ratio <= 0:
		return artifact.VerificationResult{}, fmt.Errorf("approved with invalid performance ratio %v", r.Performance.Ratio)
	}
	return artifact.VerificationResult{
		FunctionallyEquivalent: *r.FunctionallyEquivalent,
		Performance:            *r.Performance,
		SecurityFindings:       r.SecurityFindings,
		Approved:               *r.Approved,
	}, nil
}

// Verify compares the original and generated code. Responses missing part of
// the verdict, or approving a non-equivalent implementation, are fatal.
func (c *Client) Verify(ctx context.Context, original artifact.CodeArtifact, generated string) (artifact.VerificationResult, error) {
	var out verifyResponse
	req := verifyRequest{Language: original.Language, Original: original.Content, Generated: generated}
	if err := c.call(ctx, "/v1/verify", req, &out); err != nil {
		return artifact.VerificationResult{}, err
	}
	res, err := out.result()
	if err != nil {
		return artifact.VerificationResult{}, &FatalError{err: fmt.Errorf("/v1/verify: %w", err)}
	}
	return res, nil
}

type complianceRequest struct {
	Repository   string                `json:"repository"`
	Path         string                `json:"path"`
	Language     string                `json:"language"`
	License      string                `json:"license"`
	Dependencies []artifact.Dependency `json:"dependencies"`
	Content      string                `json:"content"`
}

type complianceResponse struct {
	Score *int `json:"score"`
}

// CheckCompliance returns the external 0-100 compliance score.
func (c *Client) CheckCompliance(ctx context.Context, a artifact.CodeArtifact) (int, error) {
	var out complianceResponse
	req := complianceRequest{
		Repository: a.Repository, Path: a.Path, Language: a.Language,
		License: a.License, Dependencies: a.Dependencies, Content: a.Content,
	}
	if err := c.call(ctx, "/v1/compliance", req, &out); err != nil {
		return 0, err
	}
	if out.Score == nil {
		return 0, &FatalError{err: errors.New("/v1/compliance: response has no score")}
	}
	return *out.Score, nil
}

func (c *Client) call(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return &FatalError{err: fmt.Errorf("%s: build request body: %w", endpoint, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return &FatalError{err: fmt.Errorf("%s: create HTTP request: %w", endpoint, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("Sending oracle request", "endpoint", endpoint, "bytes", len(body))
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{err: fmt.Errorf("%s: HTTP request failed: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransientError{err: fmt.Errorf("%s: read response body: %w", endpoint, err)}
	}

	if c.observe != nil {
		c.observe(resp.StatusCode == http.StatusTooManyRequests)
	}
	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(endpoint, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &FatalError{err: fmt.Errorf("%s: decode response: %w", endpoint, err)}
	}

	c.logger.Debug("Oracle response received", "endpoint", endpoint, "duration", time.Since(start))
	return nil
}
