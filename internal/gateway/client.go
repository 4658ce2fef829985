// Package gateway talks to the generative-music backend: it requests a
// rendered track over HTTP and turns the returned WAV plus its sidecar
// metadata into a store-ready segment.
package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"
)

// ErrGateway wraps every failure reported by the backend itself, as
// opposed to transport errors.
var ErrGateway = errors.New("gateway: backend error")

// maxAssetSize caps a single downloaded track at 256 MiB.
const maxAssetSize = 256 << 20

// Client is a thin HTTP client for the generation backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a gateway client. A nil logger discards output.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Minute},
		log:     logger,
	}
}

// GenerateRequest holds the generation parameters sent to the backend.
type GenerateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Seed           int    `json:"seed,omitempty"`
}

// GenerationParams mirror the backend's X-Generation-Params header.
type GenerationParams struct {
	Tempo    float64 `json:"tempo,omitempty"`
	Guidance float64 `json:"guidance,omitempty"`
	Density  float64 `json:"density,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// WeightedComponent is one entry of the X-Weighted-Prompt header.
type WeightedComponent struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Asset is one generated track as delivered by the backend, before it is
// decoded and stored.
type Asset struct {
	Filename   string
	WAV        []byte
	Prompt     string
	Components []WeightedComponent
	Params     GenerationParams
}

// WaitForHealthy blocks until the backend answers health checks, retrying
// every five seconds.
func (c *Client) WaitForHealthy(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			c.log.Info("generation backend healthy")
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}

		c.log.Info("generation backend not ready, retrying", "wait", "5s")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

// Generate requests one track. The backend streams the WAV body back
// directly; filename and metadata ride in the response headers.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Asset, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGateway, resp.StatusCode, bytes.TrimSpace(msg))
	}

	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return nil, fmt.Errorf("read audio body: %w", err)
	}

	asset := &Asset{
		Filename: assetFilename(resp.Header.Get("Content-Disposition")),
		WAV:      wav,
		Prompt:   req.Prompt,
	}
	if raw := resp.Header.Get("X-Weighted-Prompt"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &asset.Components); err != nil {
			return nil, fmt.Errorf("%w: bad weighted-prompt header: %v", ErrGateway, err)
		}
	}
	if raw := resp.Header.Get("X-Generation-Params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &asset.Params); err != nil {
			return nil, fmt.Errorf("%w: bad generation-params header: %v", ErrGateway, err)
		}
	}

	c.log.Info("track generated", "file", asset.Filename, "bytes", len(asset.WAV))
	return asset, nil
}

// assetFilename extracts the filename from a Content-Disposition header,
// falling back to a fresh track_<unix>_<hex4>.wav name.
func assetFilename(disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	var suffix [2]byte
	rand.Read(suffix[:])
	return fmt.Sprintf("track_%d_%s.wav", time.Now().Unix(), hex.EncodeToString(suffix[:]))
}

// DeepLink builds the query fragment the external editor surface uses to
// open a generated asset with its prompt pre-filled.
func DeepLink(assetID, prompt string) string {
	return "file=" + url.QueryEscape(assetID) + "&prompt=" + url.QueryEscape(prompt)
}
