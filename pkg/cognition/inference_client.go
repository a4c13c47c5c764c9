package cognition

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/neurosec-ai/cortex/pkg/httputil"
)

// InferenceClient is the production implementation of GateBackend and
// GenerativeBackend over the inference service's HTTP API
// (POST /classify, POST /generate, POST /stream).
type InferenceClient struct {
	baseURL string
	client  *http.Client
}

// NewInferenceClient creates a client for the inference service at baseURL.
func NewInferenceClient(baseURL string) *InferenceClient {
	return &InferenceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.DefaultClient(),
	}
}

type classifyRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ClassifyText implements GateBackend. Responses that do not satisfy the
// gate output contract are reported as malformed so the caller falls back.
func (c *InferenceClient) ClassifyText(ctx context.Context, text string, metadata map[string]string) (*ThalamicOutput, error) {
	body, err := c.post(ctx, "/classify", classifyRequest{Text: text, Metadata: metadata})
	if err != nil {
		return nil, err
	}

	var out ThalamicOutput
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, wrapDecodeError("classify", err)
	}
	if !out.Valid() {
		return nil, wrapDecodeError("classify", &invalidOutputError{})
	}
	return &out, nil
}

// Generate implements GenerativeBackend.
func (c *InferenceClient) Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	body, err := c.post(ctx, "/generate", req)
	if err != nil {
		return nil, err
	}

	var resp GenerationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapDecodeError("generate", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, wrapDecodeError("generate", &invalidOutputError{})
	}
	return &resp, nil
}

type streamRequest struct {
	GenerationRequest
	Stream bool `json:"stream"`
}

// Stream implements GenerativeBackend. Chunks are forwarded line-by-line
// from the chunked response body; the channel closes when the body ends
// or ctx is cancelled.
func (c *InferenceClient) Stream(ctx context.Context, req GenerationRequest) (<-chan string, error) {
	payload, err := json.Marshal(streamRequest{GenerationRequest: req, Stream: true})
	if err != nil {
		return nil, wrapDecodeError("stream", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, wrapTransportError("stream", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError("stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		httputil.DrainAndClose(resp.Body)
		return nil, wrapStatusError("stream", resp.StatusCode, body)
	}

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer httputil.DrainAndClose(resp.Body)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				continue
			}
			select {
			case chunks <- text:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			log.Printf("[INFERENCE] stream read ended early: %v", err)
		}
	}()
	return chunks, nil
}

// post issues one JSON request and returns the raw response body, with
// failures mapped onto the pipeline error taxonomy.
func (c *InferenceClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapDecodeError(path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, wrapTransportError(path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, wrapTransportError(path, err)
	}
	defer httputil.DrainAndClose(resp.Body)

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, wrapTransportError(path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wrapStatusError(path, resp.StatusCode, body)
	}
	return body, nil
}

type invalidOutputError struct{}

func (*invalidOutputError) Error() string { return "response violates output contract" }

// elapsedMs is a shared helper for reporting per-layer latencies.
func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
