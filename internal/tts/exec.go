package tts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-wyoming/internal/config"
	"github.com/mattn/go-shellwords"
)

const (
	placeholderOutput = "{output}"
	placeholderVoice  = "{voice}"
)

// execBackend runs one external process per request, writing the text to its
// stdin. The command line may reference {output} and {voice}; when {output}
// is absent the output path is appended as the last argument. A piper
// invocation looks like:
//
//	piper --model /voices/{voice}.onnx --output_file {output}
type execBackend struct {
	*catalog
	cmd     []string
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	log     *slog.Logger

	// closeMu orders wg.Add against Close.
	closeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewExecBackend(cfg config.TTSConfig, log *slog.Logger) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("tts command not found: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &execBackend{
		catalog: newCatalog(cfg),
		cmd:     args,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(slog.String("component", "tts-exec")),
	}, nil
}

func (e *execBackend) Ready() bool { return e.ctx.Err() == nil }

func (e *execBackend) SynthesizeToFile(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	e.closeMu.Lock()
	if !e.Ready() {
		e.closeMu.Unlock()
		return ErrNotReady
	}
	e.wg.Add(1)
	e.closeMu.Unlock()
	voice := req.Voice
	if voice == "" {
		voice = e.ActiveVoice()
	}
	args := expandArgs(e.cmd, req.OutputPath, voice)

	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		e.wg.Done()
		return fmt.Errorf("start tts command: %w", err)
	}
	e.log.Debug("tts command started", slog.String("utterance_id", req.ID), slog.Int("pid", cmd.Process.Pid))

	go func() {
		defer e.wg.Done()
		defer cancel()
		res := Result{ID: req.ID}
		if err := cmd.Wait(); err != nil {
			res.Err = fmt.Errorf("tts command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
			_ = os.Remove(req.OutputPath)
		} else if _, err := os.Stat(req.OutputPath); err != nil {
			res.Err = fmt.Errorf("tts command produced no output: %w", err)
		} else {
			res.Path = req.OutputPath
		}
		e.complete(res)
	}()
	return nil
}

func (e *execBackend) Close() {
	e.closeMu.Lock()
	e.cancel()
	e.closeMu.Unlock()
	e.wg.Wait()
}

func expandArgs(template []string, output, voice string) []string {
	args := make([]string, 0, len(template)+1)
	hasOutput := false
	for _, arg := range template {
		if strings.Contains(arg, placeholderOutput) {
			hasOutput = true
			arg = strings.ReplaceAll(arg, placeholderOutput, output)
		}
		args = append(args, strings.ReplaceAll(arg, placeholderVoice, voice))
	}
	if !hasOutput {
		args = append(args, output)
	}
	return args
}
