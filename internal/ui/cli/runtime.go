package cli

import (
	coreapp "codegraph/internal/core/app"
	"codegraph/internal/core/config"
	"codegraph/internal/core/errors"
	"codegraph/internal/shared/observability"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// runtime is one loaded project: its configuration, index and the
// cleanups that must run on exit.
type runtime struct {
	cfg      *config.Config
	app      *coreapp.App
	cleanups []func()
}

type runtimeOptions struct {
	// logToFile moves logs off the terminal, for the dashboard.
	logToFile bool
	stderr    io.Writer
	// languages replaces languages.enabled when set.
	languages []string
}

func loadRuntime(ctx context.Context, opts *globalOptions, ro runtimeOptions) (*runtime, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("detect working directory: %w", err)
	}
	cfg, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		return nil, err
	}
	if len(ro.languages) > 0 {
		if err := cfg.OverrideLanguages(ro.languages); err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationError, "invalid --languages")
		}
	}

	rt := &runtime{cfg: cfg}
	level := cfg.Logging.Level
	if opts.verbose {
		level = "debug"
	}
	logOut := ro.stderr
	if logOut == nil {
		logOut = os.Stderr
	}
	if ro.logToFile {
		if f, err := openLogFile(resolveLogPath()); err != nil {
			fmt.Fprintf(logOut, "warning: %v\n", err)
		} else {
			logOut = f
			rt.cleanups = append(rt.cleanups, func() { _ = f.Close() })
		}
	}
	if err := observability.SetupLogging(logOut, level, cfg.Logging.Format); err != nil {
		rt.close()
		return nil, err
	}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	rt.cleanups = append(rt.cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	})

	a, err := coreapp.New(ctx, cfg, cwd)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.app = a
	return rt, nil
}

// loadConfig reads an explicit --config strictly, otherwise the nearest
// .codegraph.toml if there is one.
func loadConfig(path, cwd string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(config.FindConfig(cwd))
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	config.ApplyEnvOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sync indexes whatever changed since the stored revision.
func (rt *runtime) sync(ctx context.Context) error {
	_, err := rt.app.Index(ctx)
	return err
}

func (rt *runtime) close() {
	if rt.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := rt.app.Close(ctx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
		cancel()
	}
	for i := len(rt.cleanups) - 1; i >= 0; i-- {
		rt.cleanups[i]()
	}
	rt.cleanups = nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir for %s: %w", path, err)
	}
	if fi, err := os.Lstat(path); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
		return nil, fmt.Errorf("refusing to write logs to symlink path %s", path)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

func resolveLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "codegraph", "codegraph.log")
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "codegraph", "codegraph.log")
	}
	return filepath.Join(os.TempDir(), "codegraph.log")
}
