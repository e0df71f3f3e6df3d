package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
	mu  sync.Mutex
}

// NewExecSynth runs a local piper-style synthesizer. The command receives the
// text on stdin plus --voice/--rate flags and must write the encoded audio to
// stdout.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Name() string { return "exec" }

func (e *execSynth) Voices() []string {
	return append([]string(nil), KnownVoices...)
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--voice", MapVoice(req.Voice))
	if req.Speed > 0 {
		args = append(args, "--rate", strconv.FormatFloat(req.Speed, 'f', 2, 64))
	}

	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewBufferString(req.Text)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("tts command produced no audio")
	}
	return stdout.Bytes(), nil
}
