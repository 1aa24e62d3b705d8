// Package imagegen provides a client for OpenAI-compatible image synthesis
// APIs (POST /images/generations with base64 responses).
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client defines the image synthesis operations used by the pipeline.
type Client interface {
	// Generate synthesizes one image and returns the decoded bytes.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest describes one image to synthesize.
type GenerateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

// GenerateResponse holds the synthesized image.
type GenerateResponse struct {
	Model         string
	ImageData     []byte
	RevisedPrompt string
}

// APIError is a non-2xx response from the synthesis API. Callers classify
// retryability from the status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("imagegen: status %d: %s", e.StatusCode, e.Message)
}

// apiResponse is the wire shape of a generation response.
type apiResponse struct {
	Data []struct {
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates an image synthesis client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			// Image synthesis is slow; per-call deadlines come from the
			// request context.
			Timeout: 0,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.N == 0 {
		req.N = 1
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: read response")
	}

	var result apiResponse
	if jsonErr := json.Unmarshal(body, &result); jsonErr != nil && resp.StatusCode == http.StatusOK {
		return nil, eris.Wrap(jsonErr, "imagegen: unmarshal response")
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if len(result.Data) == 0 {
		return nil, eris.New("imagegen: response contained no images")
	}

	data, err := base64.StdEncoding.DecodeString(result.Data[0].B64JSON)
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: decode image data")
	}

	return &GenerateResponse{
		Model:         req.Model,
		ImageData:     data,
		RevisedPrompt: result.Data[0].RevisedPrompt,
	}, nil
}
