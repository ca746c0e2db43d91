// Package process supervises helper binaries the server launches for local
// development, such as a throwaway mongod.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nicodishanthj/fieldq/internal/common"
)

// ServiceConfig describes an external process that should be supervised.
// Readiness is probed with an HTTP GET against ReadyURL or a TCP dial against
// ReadyAddr; with neither set the process counts as ready once started.
type ServiceConfig struct {
	Name          string
	Command       string
	Args          []string
	Env           []string
	WorkDir       string
	ReadyURL      string
	ReadyAddr     string
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	StopTimeout   time.Duration
	Logger        *slog.Logger
}

// ManagedService tracks the lifecycle of a launched external process.
type ManagedService struct {
	cfg    ServiceConfig
	cmd    *exec.Cmd
	logger *slog.Logger

	done    chan struct{}
	waitErr error
	mu      sync.RWMutex
}

// Start launches the configured process and waits for the readiness probe.
func Start(ctx context.Context, cfg ServiceConfig) (*ManagedService, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("process: command required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name := serviceName(cfg)
	logger := cfg.Logger
	if logger == nil {
		logger = common.Logger()
	}
	logger.Info("process: launching service", "service", name, "command", cfg.Command, "args", strings.Join(cfg.Args, " "))

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe %s: %w", name, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdoutPipe.Close()
		return nil, fmt.Errorf("process: stderr pipe %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		stdoutPipe.Close()
		stderrPipe.Close()
		return nil, fmt.Errorf("process: start %s: %w", name, err)
	}

	svc := &ManagedService{cfg: cfg, cmd: cmd, logger: logger, done: make(chan struct{})}
	svc.cfg.Name = name

	streamCtx, cancelStreams := context.WithCancel(ctx)
	var streamWG sync.WaitGroup
	attrs := []slog.Attr{
		slog.String("component", "service/"+strings.ReplaceAll(strings.ToLower(name), " ", "_")),
		slog.String("service", name),
	}
	for stream, pipe := range map[string]io.ReadCloser{"stdout": stdoutPipe, "stderr": stderrPipe} {
		streamWG.Add(1)
		go func(stream string, pipe io.ReadCloser) {
			defer streamWG.Done()
			forward(streamCtx, logger, pipe, stream, attrs)
		}(stream, pipe)
	}

	go func() {
		err := cmd.Wait()
		cancelStreams()
		streamWG.Wait()
		svc.mu.Lock()
		svc.waitErr = err
		svc.mu.Unlock()
		close(svc.done)
	}()

	if err := waitForReady(ctx, svc); err != nil {
		svc.Stop(context.Background())
		return nil, err
	}
	logger.Info("process: service ready", "service", name, "probe", svc.probeTarget())
	return svc, nil
}

func serviceName(cfg ServiceConfig) string {
	if name := strings.TrimSpace(cfg.Name); name != "" {
		return name
	}
	if base := filepath.Base(strings.TrimSpace(cfg.Command)); base != "" && base != "." {
		return base
	}
	return "process"
}

// forward copies a child stream line by line into the structured log. stderr
// lines are logged at warn level.
func forward(ctx context.Context, logger *slog.Logger, pipe io.ReadCloser, stream string, base []slog.Attr) {
	var once sync.Once
	closePipe := func() { once.Do(func() { pipe.Close() }) }
	defer closePipe()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closePipe()
		case <-done:
		}
	}()

	attrs := append(append([]slog.Attr(nil), base...), slog.String("stream", stream))
	level := slog.LevelInfo
	if stream == "stderr" {
		level = slog.LevelWarn
	}
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.LogAttrs(ctx, level, scanner.Text(), attrs...)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
		logger.LogAttrs(ctx, slog.LevelWarn, "process log stream error", append(attrs, slog.Any("error", err))...)
	}
}

// Done is closed once the process has exited.
func (s *ManagedService) Done() <-chan struct{} {
	return s.done
}

// Stop attempts a graceful shutdown followed by a forced kill if needed.
func (s *ManagedService) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.done:
		return s.normalizeWaitErr()
	default:
	}
	s.logger.Info("process: stopping service", "service", s.cfg.Name)
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("process: interrupt failed", "service", s.cfg.Name, "error", err)
		}
	}
	stopTimeout := s.cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return s.normalizeWaitErr()
	case <-timer.C:
		s.logger.Warn("process: forcing service kill", "service", s.cfg.Name)
		if s.cmd != nil && s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.logger.Error("process: kill failed", "service", s.cfg.Name, "error", err)
				return err
			}
		}
		<-s.done
		return s.normalizeWaitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ManagedService) probeTarget() string {
	if s.cfg.ReadyURL != "" {
		return s.cfg.ReadyURL
	}
	return s.cfg.ReadyAddr
}

func waitForReady(ctx context.Context, svc *ManagedService) error {
	cfg := svc.cfg
	probe := readinessProbe(cfg)
	if probe == nil {
		return nil
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 30 * time.Second
	}
	interval := cfg.ReadyInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-readyCtx.Done():
			if lastErr != nil {
				return fmt.Errorf("process: waiting for %s ready timed out after %s: last error: %w", cfg.Name, readyTimeout, lastErr)
			}
			return fmt.Errorf("process: waiting for %s ready timed out after %s: %w", cfg.Name, readyTimeout, readyCtx.Err())
		case <-svc.done:
			return fmt.Errorf("process: %s exited before reporting ready: %v", cfg.Name, svc.waitError())
		case <-ticker.C:
			if lastErr = probe(readyCtx); lastErr == nil {
				return nil
			}
		}
	}
}

func readinessProbe(cfg ServiceConfig) func(context.Context) error {
	switch {
	case strings.TrimSpace(cfg.ReadyURL) != "":
		client := &http.Client{Timeout: 2 * time.Second}
		return func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ReadyURL, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	case strings.TrimSpace(cfg.ReadyAddr) != "":
		dialer := &net.Dialer{Timeout: 2 * time.Second}
		return func(ctx context.Context) error {
			conn, err := dialer.DialContext(ctx, "tcp", cfg.ReadyAddr)
			if err != nil {
				return err
			}
			return conn.Close()
		}
	}
	return nil
}

func (s *ManagedService) waitError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waitErr
}

func (s *ManagedService) normalizeWaitErr() error {
	err := s.waitError()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// interrupted children report a non-zero exit; treat that as a clean stop
		return nil
	}
	return err
}

// BinaryPath resolves an executable path using the system PATH.
func BinaryPath(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("process: binary name required")
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("process: locate %s: %w", name, err)
	}
	return filepath.Clean(path), nil
}
