package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/loykin/sessprobe/internal/common"
)

// StartRequest carries everything a Starter needs to bring the application up
type StartRequest struct {
	Command   string
	Args      []string
	Dir       string
	Env       []string
	Port      int
	ConfigDir string
	Config    BackendConfig
}

// Process is a running application instance
type Process interface {
	// Done is closed once the application has exited
	Done() <-chan struct{}
	// ExitErr is the exit error; only meaningful after Done is closed
	ExitErr() error
	// Output returns the tail of the combined stdout/stderr
	Output() string
	// Stop asks the application to exit and forces it after grace
	Stop(ctx context.Context, grace time.Duration) error
}

// Starter starts the application under test
type Starter interface {
	Start(ctx context.Context, req StartRequest) (Process, error)
}

// ProcessStarter runs the application as a child process
type ProcessStarter struct{}

type execProcess struct {
	cmd  *exec.Cmd
	out  *tailBuffer
	done chan struct{}
	err  error
}

// Start execs req.Command with the launch environment appended to the harness's own
func (ProcessStarter) Start(_ context.Context, req StartRequest) (Process, error) {
	if req.Command == "" {
		return nil, errors.New("no command configured")
	}
	logger := common.GetLogger().WithComponent("launcher")

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), req.Env...)
	out := &tailBuffer{limit: 8 << 10}
	cmd.Stdout = out
	cmd.Stderr = out
	configureProcess(cmd)

	logger.Debug("starting application",
		"command", shellescape.QuoteCommand(append([]string{req.Command}, req.Args...)),
		"port", req.Port,
		"config_dir", req.ConfigDir)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) ExitErr() error        { return p.err }
func (p *execProcess) Output() string        { return p.out.String() }

func (p *execProcess) Stop(ctx context.Context, grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	signalProcess(p.cmd, false)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	signalProcess(p.cmd, true)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("process %d did not exit: %w", p.cmd.Process.Pid, ctx.Err())
	}
}

// HandlerStarter serves an in-process http.Handler on the allocated port.
// Build receives the request so the handler can be wired to the launch configuration.
// A handler that is also an io.Closer is closed once the server stops.
type HandlerStarter struct {
	Build func(req StartRequest) (http.Handler, error)
}

type handlerProcess struct {
	srv     *http.Server
	handler http.Handler
	done    chan struct{}
	err     error
	once    sync.Once
}

func (s HandlerStarter) Start(_ context.Context, req StartRequest) (Process, error) {
	if s.Build == nil {
		return nil, errors.New("handler starter has no Build func")
	}
	h, err := s.Build(req)
	if err != nil {
		return nil, err
	}
	p := &handlerProcess{
		srv:     &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		handler: h,
		done:    make(chan struct{}),
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(req.Port)))
	if err != nil {
		p.release()
		return nil, err
	}
	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.err = err
		}
		close(p.done)
	}()
	return p, nil
}

func (p *handlerProcess) Done() <-chan struct{} { return p.done }
func (p *handlerProcess) ExitErr() error        { return p.err }
func (p *handlerProcess) Output() string        { return "" }

func (p *handlerProcess) Stop(ctx context.Context, grace time.Duration) error {
	sctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := p.srv.Shutdown(sctx); err != nil {
		_ = p.srv.Close()
	}
	defer p.release()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release closes the handler's resources
func (p *handlerProcess) release() {
	p.once.Do(func() {
		if c, ok := p.handler.(io.Closer); ok {
			if err := c.Close(); err != nil {
				common.GetLogger().WithComponent("launcher").Warn("closing handler failed", "error", err)
			}
		}
	})
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append([]byte(nil), b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
