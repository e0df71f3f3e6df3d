package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execTranscriber struct {
	cmd       []string
	modelPath string
	mu        sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

// NewExecTranscriber runs a local whisper-style CLI. The command receives the
// utterance via --audio <tempfile> and must print {"text": "..."} on stdout.
func NewExecTranscriber(command, modelPath string) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execTranscriber{cmd: args, modelPath: modelPath}, nil
}

func (e *execTranscriber) Name() string { return "whisper-cli" }

func (e *execTranscriber) Transcribe(ctx context.Context, req Request) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	format := req.Format
	if format == "" {
		format = "wav"
	}
	file, err := os.CreateTemp(os.TempDir(), "voxa_stt_*."+format)
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if _, err := file.Write(req.Audio); err != nil {
		return Result{}, fmt.Errorf("write audio: %w", err)
	}

	base := e.cmd[0]
	cmdArgs := append([]string{}, e.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if e.modelPath != "" {
		cmdArgs = append(cmdArgs, "--model", e.modelPath)
	}
	if req.Language != "" {
		cmdArgs = append(cmdArgs, "--language", BaseLanguage(req.Language))
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	return Result{Text: resp.Text, Model: "whisper-cli"}, nil
}
