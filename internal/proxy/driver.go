package proxy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Target is what a driver is asked to connect to.
type Target struct {
	SessionID string
	Host      string
	Port      int
}

// Handle controls one running tunnel.
type Handle interface {
	// Done is closed when the tunnel exits for any reason.
	Done() <-chan struct{}
	// Err reports why the tunnel exited, after Done is closed.
	Err() error
	Stop(ctx context.Context) error
}

// Driver establishes the actual proxy tunnel.
type Driver interface {
	Start(ctx context.Context, t Target) (Handle, error)
}

// ExecDriver runs an external binary per session. Args may contain the
// placeholders {host}, {port} and {session}.
type ExecDriver struct {
	Path string
	Args []string
	log  zerolog.Logger
}

func NewExecDriver(path string, args []string, log zerolog.Logger) *ExecDriver {
	return &ExecDriver{Path: path, Args: args, log: log.With().Str("component", "driver").Logger()}
}

func (d *ExecDriver) Start(_ context.Context, t Target) (Handle, error) {
	r := strings.NewReplacer("{host}", t.Host, "{port}", strconv.Itoa(t.Port), "{session}", t.SessionID)
	args := make([]string, len(d.Args))
	for i, a := range d.Args {
		args[i] = r.Replace(a)
	}

	cmd := exec.Command(d.Path, args...)
	cmd.Env = append(os.Environ(),
		"PROXYHUB_SESSION_ID="+t.SessionID,
		"PROXYHUB_PROXY_HOST="+t.Host,
		"PROXYHUB_PROXY_PORT="+strconv.Itoa(t.Port),
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start driver: %w", err)
	}
	d.log.Debug().Str("session", t.SessionID).Int("pid", cmd.Process.Pid).Msg("🚀 driver started")

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Stop asks the process to exit and kills it if ctx ends first.
func (h *execHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if runtime.GOOS == "windows" {
		h.cmd.Process.Kill()
	} else if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		h.cmd.Process.Kill()
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		<-h.done
		return nil
	}
}

// NoopDriver pretends to connect. It is used when no driver binary is
// configured.
type NoopDriver struct{}

func (NoopDriver) Start(context.Context, Target) (Handle, error) {
	return &noopHandle{done: make(chan struct{})}, nil
}

type noopHandle struct {
	done chan struct{}
	once sync.Once
}

func (h *noopHandle) Done() <-chan struct{} { return h.done }
func (h *noopHandle) Err() error            { return nil }

func (h *noopHandle) Stop(context.Context) error {
	h.once.Do(func() { close(h.done) })
	return nil
}
