// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/chromedp"
	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
	"github.com/xkilldash9x/kepco-scraper/internal/observability"
)

// binaryCandidates are tried on PATH when no binary is configured.
var binaryCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"}

// SessionFunc is the body run while a session is held.
type SessionFunc func(ctx context.Context, page PageWithChildren) error

// Driver owns browser processes. Each Acquire spawns a fresh process on a free
// port from the pool, binds one Session to it, and tears both down when the
// body returns.
type Driver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	http   *resty.Client

	slots *semaphore.Weighted
	ports chan int

	// start is replaced in tests.
	start func(binary string, args []string, port int, logger *zap.Logger) (*Process, error)
}

// NewDriver creates a Driver whose concurrency is capped by the port pool.
func NewDriver(cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ports := make(chan int, len(cfg.Ports))
	for _, p := range cfg.Ports {
		ports <- p
	}
	return &Driver{
		cfg:    cfg,
		logger: observability.Component(logger, "Driver"),
		http:   resty.New().SetTimeout(2 * time.Second),
		slots:  semaphore.NewWeighted(int64(len(cfg.Ports))),
		ports:  ports,
		start:  StartProcess,
	}, nil
}

// Acquire runs fn against a fresh browser session. Release happens on every
// exit path, including a panic in fn: cookies are cleared, the tab closed and
// the process killed.
func (d *Driver) Acquire(ctx context.Context, testMode bool, fn SessionFunc) error {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.slots.Release(1)

	port := <-d.ports
	defer func() { d.ports <- port }()

	lease, err := d.open(ctx, port, testMode)
	if err != nil {
		return err
	}
	defer lease.release()

	return fn(ctx, lease.session)
}

type lease struct {
	session     *Session
	process     *Process
	cancelAlloc context.CancelFunc
	userDataDir string
	cfg         config.BrowserConfig
	logger      *zap.Logger
}

func (d *Driver) open(ctx context.Context, port int, testMode bool) (*lease, error) {
	binary, err := d.resolveBinary(testMode)
	if err != nil {
		return nil, faults.New(faults.DriverUnavailable, "resolve binary", err)
	}

	profile, err := os.MkdirTemp(d.cfg.UserDataRoot, "kepco-chrome-*")
	if err != nil {
		return nil, faults.New(faults.DriverUnavailable, "profile dir", err)
	}

	proc, err := d.start(binary, LaunchArgs(d.cfg, port, profile), port, d.logger)
	if err != nil {
		_ = os.RemoveAll(profile)
		return nil, faults.New(faults.DriverUnavailable, "spawn", err)
	}
	l := &lease{process: proc, userDataDir: profile, cfg: d.cfg, logger: d.logger}

	// Chrome needs a moment before the DevTools listener is bound.
	select {
	case <-time.After(d.cfg.GracePeriod):
	case <-ctx.Done():
		l.release()
		return nil, ctx.Err()
	}

	wsURL, err := d.waitForDevTools(ctx, proc)
	if err != nil {
		l.release()
		return nil, err
	}

	// The tab outlives request cancellation until release runs.
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), wsURL, chromedp.NoModifyURL)
	sugar := d.logger.Sugar()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(sugar.Debugf), chromedp.WithErrorf(sugar.Debugf))
	l.cancelAlloc = cancelAlloc

	// The first Run attaches the tab. Cancelling the context of that call
	// would close the tab, so it runs on tabCtx and the request is watched
	// separately.
	attached := make(chan error, 1)
	go func() { attached <- chromedp.Run(tabCtx) }()
	select {
	case err = <-attached:
	case <-ctx.Done():
		cancelTab()
		<-attached
		err = ctx.Err()
	}
	if err != nil {
		cancelTab()
		l.release()
		return nil, faults.New(faults.SessionConnectFailed, "attach", err)
	}

	l.session = NewSession(tabCtx, cancelTab, d.logger, d.cfg.ActionTimeout, nil)
	l.logger = d.logger.With(zap.String("session_id", l.session.ID()), zap.Int("port", port))
	l.logger.Info("Browser session attached.")
	return l, nil
}

// waitForDevTools polls /json/version with bounded exponential backoff and
// returns the browser's websocket debugger URL.
func (d *Driver) waitForDevTools(ctx context.Context, proc *Process) (string, error) {
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/json/version", proc.Port)

	var wsURL string
	attempt := 0
	op := func() error {
		attempt++
		if proc.Exited() {
			return backoff.Permanent(errors.New("browser process exited before DevTools came up"))
		}
		var version struct {
			WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
		}
		resp, err := d.http.R().SetContext(ctx).SetResult(&version).Get(endpoint)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("devtools returned %s", resp.Status())
		}
		if version.WebSocketDebuggerURL == "" {
			return errors.New("devtools response has no webSocketDebuggerUrl")
		}
		wsURL = version.WebSocketDebuggerURL
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.ConnectInterval
	policy.MaxElapsedTime = d.cfg.ConnectTimeout
	retries := uint64(d.cfg.ConnectAttempts - 1)

	notify := func(err error, next time.Duration) {
		d.logger.Debug("DevTools not ready yet.", zap.Int("attempt", attempt), zap.Duration("retry_in", next), zap.Error(err))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", faults.New(faults.DriverUnavailable, fmt.Sprintf("connect after %d attempts", attempt), err)
	}
	return wsURL, nil
}

func (d *Driver) resolveBinary(testMode bool) (string, error) {
	path := d.cfg.BinaryPath
	if testMode && d.cfg.TestBinaryPath != "" {
		path = d.cfg.TestBinaryPath
	}
	if path != "" {
		return homedir.Expand(path)
	}
	for _, name := range binaryCandidates {
		if found, err := exec.LookPath(name); err == nil {
			return found, nil
		}
	}
	return "", errors.New("no browser binary configured and none found on PATH")
}

// release tears the session down in order: cookies, tab, allocator, process,
// profile. Each step runs even if an earlier one failed.
func (l *lease) release() {
	timeout := l.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if l.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := l.session.DeleteCookies(ctx); err != nil {
			l.logger.Warn("Failed to clear cookies.", zap.Error(err))
		}
		cancel()
		_ = l.session.Close()
	}
	if l.cancelAlloc != nil {
		l.cancelAlloc()
	}
	if err := l.process.Shutdown(timeout); err != nil {
		l.logger.Error("Failed to stop browser process.", zap.Error(err))
	}
	if l.userDataDir != "" {
		if err := os.RemoveAll(l.userDataDir); err != nil {
			l.logger.Debug("Failed to remove profile dir.", zap.String("dir", l.userDataDir), zap.Error(err))
		}
	}
	l.logger.Info("Browser session released.")
}
