package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

type groqTranscriber struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewGroqTranscriber transcribes through the Groq Whisper endpoint
// (OpenAI-compatible /audio/transcriptions).
func NewGroqTranscriber(endpoint, apiKey, model string) Transcriber {
	return &groqTranscriber{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{},
	}
}

func (g *groqTranscriber) Name() string { return "groq" }

type groqTranscriptionResponse struct {
	Text string `json:"text"`
}

func (g *groqTranscriber) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, fmt.Errorf("empty audio payload")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+req.Format)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(req.Audio); err != nil {
		return Result{}, err
	}
	if err := writer.WriteField("model", g.model); err != nil {
		return Result{}, err
	}
	if req.Language != "" {
		if err := writer.WriteField("language", BaseLanguage(req.Language)); err != nil {
			return Result{}, err
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return Result{}, err
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("groq transcription returned status %s: %s", resp.Status, snippet)
	}

	var parsed groqTranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}
	return Result{Text: parsed.Text, Model: g.model}, nil
}
