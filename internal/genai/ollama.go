// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package genai provides clients for generative model servers: a chat
// backend producing schema-constrained extraction payloads and an
// embeddings client for the semantic matching strategy.
// See docs/ARCHITECTURE § Generation Boundary.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hsayeed/knowmat/internal/httputil"
	"github.com/hsayeed/knowmat/pkg/types"
)

// DefaultHost is the base URL of a local Ollama server.
const DefaultHost = "http://localhost:11434"

// recordFormat is the JSON schema handed to the chat endpoint's format
// field so the server constrains decoding to the record payload shape.
var recordFormat = json.RawMessage(`{
  "type": "object",
  "properties": {
    "compositions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "composition": {"type": "string"},
          "processing_conditions": {"type": "string"},
          "characterization": {"type": "object", "additionalProperties": {"type": "string"}},
          "properties_of_composition": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "property_name": {"type": "string"},
                "value": {"type": ["number", "string"]},
                "unit": {"type": "string"},
                "measurement_condition": {"type": "string"},
                "additional_information": {"type": ["string", "null"]}
              },
              "required": ["property_name", "value", "unit"]
            }
          },
          "non_standard_properties_of_composition": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "property_name": {"type": "string"},
                "value": {"type": ["number", "string"]},
                "unit": {"type": "string"},
                "measurement_condition": {"type": "string"},
                "additional_information": {"type": ["string", "null"]}
              },
              "required": ["property_name", "value", "unit"]
            }
          }
        },
        "required": ["composition", "properties_of_composition"]
      }
    }
  },
  "required": ["compositions"]
}`)

// ChatBackend calls an Ollama-compatible chat endpoint to produce one
// structured extraction payload per document. Decoding runs at temperature
// zero with the record schema as a format constraint.
type ChatBackend struct {
	Host       string
	Model      string
	APIKey     string // optional bearer token for hosted servers
	MaxRetries int
	Client     *http.Client
}

// NewChatBackend builds a backend from the shared AI configuration.
func NewChatBackend(cfg types.AIConfig) *ChatBackend {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	client := http.DefaultClient
	if cfg.Timeout > 0 {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ChatBackend{
		Host:       host,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		MaxRetries: cfg.MaxRetries,
		Client:     client,
	}
}

// chatRequest is the request body for the chat endpoint.
type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Format   json.RawMessage `json:"format,omitempty"`
	Stream   bool            `json:"stream"`
	Options  chatOptions     `json:"options"`
}

// chatMessage is a single message in the conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatOptions pins decoding parameters for reproducible extraction.
type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx"`
}

// chatResponse is the response body from the chat endpoint.
type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Generate posts the system and user prompts and returns the raw JSON
// payload claimed to conform to the record schema. Validation of the
// payload is the caller's concern.
func (b *ChatBackend) Generate(ctx context.Context, system, user string) ([]byte, error) {
	reqBody := chatRequest{
		Model: b.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Format:  recordFormat,
		Stream:  false,
		Options: chatOptions{Temperature: 0, NumCtx: 10000},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Host+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, b.client(), req, b.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("calling chat endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	if cResp.Message.Content == "" {
		return nil, fmt.Errorf("chat endpoint returned empty content")
	}

	return []byte(cResp.Message.Content), nil
}

func (b *ChatBackend) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return http.DefaultClient
}

// EmbedClient calls an Ollama-compatible embeddings endpoint. It
// implements the Embedder capability of the semantic matching strategy.
type EmbedClient struct {
	Host   string
	Model  string
	APIKey string
	Client *http.Client
}

// NewEmbedClient builds an embeddings client for the given model.
func NewEmbedClient(cfg types.AIConfig, embedModel string) *EmbedClient {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	client := http.DefaultClient
	if cfg.Timeout > 0 {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &EmbedClient{Host: host, Model: embedModel, APIKey: cfg.APIKey, Client: client}
}

// embedRequest is the request body for the embeddings endpoint.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse is the response body from the embeddings endpoint.
type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the vector embedding for text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float64, error) {
	bodyBytes, err := json.Marshal(embedRequest{Model: c.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/api/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("calling embeddings endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var eResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&eResp); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(eResp.Embedding) == 0 {
		return nil, fmt.Errorf("embeddings endpoint returned an empty vector")
	}

	return eResp.Embedding, nil
}
