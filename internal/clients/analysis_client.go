package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spacesedan/sentiflow-worker/internal/models"
)

type processBatchRequest struct {
	Reviews models.ReviewBatch `json:"reviews"`
}

type processBatchResponse struct {
	Results []analysisEntry `json:"results"`
}

type analysisEntry struct {
	MovieName  string   `json:"movie_name"`
	Sentiment  string   `json:"sentiment"`
	Confidence *float64 `json:"confidence"`
}

// AnalysisClient talks to the remote analysis service. It holds no per-batch state and
// never retries; retry policy belongs to the queue.
type AnalysisClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewAnalysisClient(baseURL string, client *http.Client, logger *slog.Logger) *AnalysisClient {
	if client == nil {
		client = &http.Client{}
	}
	return &AnalysisClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

func (a *AnalysisClient) BaseURL() string {
	return a.baseURL
}

// Analyze sends the whole batch as a single request and returns one result per review in
// submission order. Errors are always *models.AnalysisError.
func (a *AnalysisClient) Analyze(ctx context.Context, batch models.ReviewBatch, timeout time.Duration) ([]models.AnalysisResult, error) {
	if err := batch.Validate(); err != nil {
		return nil, models.NewAnalysisError(models.AnalysisInvalidInput, err)
	}
	if timeout <= 0 {
		timeout = DEFAULT_ANALYSIS_LIMIT
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := a.baseURL + PROCESS_BATCH_PATH
	a.logger.Info("[AnalysisClient] Sending batch to analysis service",
		slog.String("endpoint", endpoint),
		slog.Int("batch_size", len(batch)))
	start := time.Now()

	body, err := json.Marshal(processBatchRequest{Reviews: batch})
	if err != nil {
		return nil, models.NewAnalysisError(models.AnalysisInvalidInput, fmt.Errorf("failed to marshal input: %w", err))
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, models.NewAnalysisError(models.AnalysisUnreachable, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", USER_AGENT)

	resp, err := a.client.Do(req)
	if err != nil {
		aerr := classifyTransportError(callCtx, err, timeout, endpoint)
		a.logger.Error("[AnalysisClient] Request failed",
			slog.String("endpoint", endpoint),
			slog.String("kind", aerr.Kind.String()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, aerr
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(callCtx, err, timeout, endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		a.logger.Error("[AnalysisClient] Analysis service returned non-2xx status",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			getPreview(respBody))
		return nil, &models.AnalysisError{
			Kind:       models.AnalysisBadStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("analysis service returned status %d: %s", resp.StatusCode, preview(respBody)),
		}
	}

	var decoded processBatchResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		a.logger.Error("[AnalysisClient] Failed to unmarshal response",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
			getPreview(respBody),
			slog.Int("raw_response_length", len(respBody)))
		return nil, models.NewAnalysisError(models.AnalysisMalformedResponse, fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if len(decoded.Results) == 0 {
		a.logger.Warn("[AnalysisClient] Analysis service returned no results",
			slog.String("endpoint", endpoint))
		return nil, models.NewAnalysisError(models.AnalysisEmptyResult, errors.New("analysis service returned no results"))
	}

	results, err := toAnalysisResults(batch, decoded.Results)
	if err != nil {
		return nil, models.NewAnalysisError(models.AnalysisMalformedResponse, err)
	}

	a.logger.Info("[AnalysisClient] Batch analysed",
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}

// Ping calls GET /health and returns the status code. A non-200 code is not an error.
func (a *AnalysisClient) Ping(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+HEALTH_PATH, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", USER_AGENT)

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func toAnalysisResults(batch models.ReviewBatch, entries []analysisEntry) ([]models.AnalysisResult, error) {
	if len(entries) != len(batch) {
		return nil, fmt.Errorf("analysis service returned %d results for %d reviews", len(entries), len(batch))
	}

	results := make([]models.AnalysisResult, 0, len(entries))
	for i, entry := range entries {
		if entry.Confidence == nil {
			return nil, fmt.Errorf("result %d has no confidence", i)
		}
		result := models.AnalysisResult{
			MovieName:  entry.MovieName,
			Sentiment:  models.Sentiment(strings.ToLower(strings.TrimSpace(entry.Sentiment))),
			Confidence: *entry.Confidence,
		}
		if result.MovieName == "" {
			result.MovieName = batch[i].MovieName
		}
		if err := result.Validate(); err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func classifyTransportError(callCtx context.Context, err error, timeout time.Duration, endpoint string) *models.AnalysisError {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return models.NewAnalysisError(models.AnalysisTimeout, fmt.Errorf("analysis service timeout after %s", timeout))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.NewAnalysisError(models.AnalysisTimeout, fmt.Errorf("analysis service timeout after %s", timeout))
	}
	return models.NewAnalysisError(models.AnalysisUnreachable, fmt.Errorf("cannot connect to analysis service at %s: %w", endpoint, err))
}

func preview(respBody []byte) string {
	raw := string(respBody)
	if len(raw) > 50 {
		raw = raw[:50]
	}
	return raw
}

func getPreview(respBody []byte) slog.Attr {
	return slog.String("raw_response", preview(respBody))
}
