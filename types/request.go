// Package types defines core domain types for the vellum generation client.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Generation defaults observed on the production endpoint.
const (
	DefaultModel          = "gemini-2.5-pro-exp-03-25"
	DefaultMaxTokens      = 128000
	DefaultTemperature    = 1.0
	DefaultThinkingBudget = 32000
)

// ModelParams are the tunable generation parameters.
type ModelParams struct {
	// Model is the upstream model identifier.
	Model string
	// Temperature must lie in [0, 1].
	Temperature float64
	// MaxTokens is the maximum number of output tokens.
	MaxTokens int
	// ThinkingBudget is the reasoning token budget.
	ThinkingBudget int
}

// DefaultModelParams returns the parameters used when none are configured.
func DefaultModelParams() ModelParams {
	return ModelParams{
		Model:          DefaultModel,
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
		ThinkingBudget: DefaultThinkingBudget,
	}
}

// FileMeta describes an uploaded file.
type FileMeta struct {
	// Name is the original file name.
	Name string
	// Type is the inferred file type ("pdf", "txt", ...).
	Type string
}

// InferFileType derives a file type label from a file name extension.
func InferFileType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "txt"
	}
	return ext
}

// GenerationRequest is one user-initiated generation.
// It is created once and never mutated; the session controller only reads it.
type GenerationRequest struct {
	// Credential is the opaque API credential forwarded to the endpoint.
	Credential string
	// Content is the text payload, or base64 file content when File is set.
	Content string
	// FormatPrompt holds optional formatting instructions.
	FormatPrompt string
	// Params are the generation parameters.
	Params ModelParams
	// File is set for file uploads.
	File *FileMeta
	// TestMode routes the request to the endpoint's test mode.
	TestMode bool
}

// Validate checks the request before anything is sent over the wire.
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Credential) == "" {
		return errors.New("credential must be non-empty")
	}
	if strings.TrimSpace(r.Content) == "" {
		return errors.New("content must be non-empty")
	}
	if r.Params.Temperature < 0 || r.Params.Temperature > 1 {
		return fmt.Errorf("temperature must be within [0, 1], got %g", r.Params.Temperature)
	}
	if r.Params.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be >= 0, got %d", r.Params.MaxTokens)
	}
	if r.Params.ThinkingBudget < 0 {
		return fmt.Errorf("thinking budget must be >= 0, got %d", r.Params.ThinkingBudget)
	}
	if r.File != nil && r.File.Name == "" {
		return errors.New("file name must be non-empty for file uploads")
	}
	return nil
}

// ResumeState is the state a reconnect carries so the server can continue.
type ResumeState struct {
	// SessionID is the server-assigned session identifier.
	SessionID string
	// LastChunkID is the last acknowledged fragment identifier, if any.
	LastChunkID string
	// ReceivedLength is the number of document bytes accumulated so far.
	ReceivedLength int
}

// OutboundRequest is the JSON body posted to the generation endpoint.
type OutboundRequest struct {
	APIKey         string  `json:"api_key"`
	Content        string  `json:"content"`
	FormatPrompt   string  `json:"format_prompt,omitempty"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	ThinkingBudget int     `json:"thinking_budget"`
	FileName       string  `json:"file_name,omitempty"`
	FileContent    string  `json:"file_content,omitempty"`
	FileType       string  `json:"file_type,omitempty"`
	TestMode       bool    `json:"test_mode,omitempty"`

	SessionID      string `json:"session_id,omitempty"`
	IsReconnect    bool   `json:"is_reconnect,omitempty"`
	LastChunkID    string `json:"last_chunk_id,omitempty"`
	ReceivedLength int    `json:"received_length,omitempty"`
}

// Outbound builds the request body. A nil resume state produces the
// initial request; a non-nil state with a session id produces a reconnect.
func (r *GenerationRequest) Outbound(resume *ResumeState) *OutboundRequest {
	out := &OutboundRequest{
		APIKey:         r.Credential,
		Content:        r.Content,
		FormatPrompt:   r.FormatPrompt,
		Model:          r.Params.Model,
		MaxTokens:      r.Params.MaxTokens,
		Temperature:    r.Params.Temperature,
		ThinkingBudget: r.Params.ThinkingBudget,
		TestMode:       r.TestMode,
	}
	if r.File != nil {
		out.FileName = r.File.Name
		out.FileContent = r.Content
		out.FileType = r.File.Type
		if out.FileType == "" {
			out.FileType = InferFileType(r.File.Name)
		}
	}
	if resume != nil && resume.SessionID != "" {
		out.SessionID = resume.SessionID
		out.IsReconnect = true
		out.LastChunkID = resume.LastChunkID
		out.ReceivedLength = resume.ReceivedLength
	}
	return out
}
