package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/shsh-coach/internal/domain"
)

// maxResponseBodySize bounds how much of a collaborator response is read (1MB).
const maxResponseBodySize = 1 << 20

var errEmptyAnalysis = errors.New("analysis response missing next question")

// StatusError is returned when a collaborator answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collaborator returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("collaborator returned status %d: %s", e.StatusCode, e.Message)
}

// AnalysisClient posts stakeholder transcripts to the analysis service.
type AnalysisClient struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// NewAnalysisClient creates an analysis client for endpoint.
// A nil httpClient uses a client with a 60s overall timeout.
func NewAnalysisClient(endpoint string, httpClient *http.Client, logger *slog.Logger) *AnalysisClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisClient{endpoint: endpoint, http: httpClient, logger: logger}
}

// Analyze requests the next-question analysis for a stakeholder message.
func (c *AnalysisClient) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.StakeholderAnalysis, error) {
	body, err := json.Marshal(analysisRequestFromDomain(req))
	if err != nil {
		return domain.StakeholderAnalysis{}, fmt.Errorf("encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.StakeholderAnalysis{}, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Requesting stakeholder analysis",
		"transcript_length", len(req.Transcript),
		"history", len(req.ConversationHistory),
	)

	var resp analysisResponse
	if err := doJSON(c.http, httpReq, &resp); err != nil {
		return domain.StakeholderAnalysis{}, err
	}
	if resp.Analysis.NextQuestion == "" {
		return domain.StakeholderAnalysis{}, errEmptyAnalysis
	}
	return resp.Analysis.toDomain(), nil
}

// GuidanceClient fetches stage guidance from the guidance service.
type GuidanceClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewGuidanceClient creates a guidance client rooted at baseURL.
func NewGuidanceClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *GuidanceClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuidanceClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, logger: logger}
}

// GetGuidance fetches the guidance panel for stage.
func (c *GuidanceClient) GetGuidance(ctx context.Context, stage string) (domain.Guidance, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(stage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Guidance{}, fmt.Errorf("build guidance request: %w", err)
	}

	var g guidancePayload
	if err := doJSON(c.http, req, &g); err != nil {
		c.logger.Debug("Guidance fetch failed", "stage", stage, "error", err)
		return domain.Guidance{}, err
	}
	return g.toDomain(), nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the server-provided message from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}
