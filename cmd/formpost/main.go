// Package main is the one-shot command line client: it posts one multipart
// form to the target and prints the raw reply body.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"formpost/config"
	"formpost/internal/app"
	"formpost/internal/core"
	"formpost/internal/formdata"
	"formpost/internal/history"
	"formpost/internal/logging"
	"formpost/internal/submit"
	"formpost/internal/version"
)

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitNon2xx = 2
)

const defaultFileField = "init_image"

// fieldList is a repeatable name=value flag that keeps command line order.
type fieldList []formdata.Field

func (f *fieldList) String() string {
	parts := make([]string, len(*f))
	for i, field := range *f {
		parts[i] = field.Name + "=" + field.Value
	}
	return strings.Join(parts, ",")
}

func (f *fieldList) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	if name == "" {
		return fmt.Errorf("field name is empty in %q", s)
	}
	*f = append(*f, formdata.Field{Name: name, Value: value})
	return nil
}

// headerList is a repeatable "Name: value" flag.
type headerList map[string]string

func (h headerList) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}

func (h headerList) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected 'Name: value', got %q", s)
	}
	h[name] = strings.TrimSpace(value)
	return nil
}

type options struct {
	host       string
	path       string
	file       string
	fileField  string
	fields     fieldList
	headers    headerList
	token      string
	boundary   string
	timeout    time.Duration
	configPath string
	fail       bool
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{headers: headerList{}}

	fs := flag.NewFlagSet("formpost", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.host, "host", "", "Target host[:port] (default: config target.host)")
	fs.StringVar(&opts.path, "path", "", "Target path (default: config target.path)")
	fs.StringVar(&opts.file, "file", "", "File to attach")
	fs.StringVar(&opts.fileField, "file-field", "", "Form field name for the file (default: config target.file_field)")
	fs.Var(&opts.fields, "field", "Text field as name=value; repeatable, order is kept")
	fs.Var(opts.headers, "H", "Extra header as 'Name: value'; repeatable")
	fs.StringVar(&opts.token, "token", "", "Bearer token (default: $FORMPOST_API_KEY or config target.api_key)")
	fs.StringVar(&opts.boundary, "boundary", "", "Multipart boundary (default: random)")
	fs.DurationVar(&opts.timeout, "timeout", 0, "Overall request timeout (default: config http.timeout)")
	fs.StringVar(&opts.configPath, "config", "", "Path to config.yaml")
	fs.BoolVar(&opts.fail, "fail", false, "Exit with code 2 on a non-2xx reply")
	fs.BoolVar(&opts.version, "version", false, "Print version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

type runner struct {
	stdout     io.Writer
	stderr     io.Writer
	httpClient *http.Client
}

func (r *runner) run(ctx context.Context, args []string) int {
	opts, err := parseFlags(args, r.stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(r.stderr, err)
		return exitError
	}
	if opts.version {
		fmt.Fprintln(r.stdout, version.Info())
		return exitOK
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(r.stderr, "failed to load config: %v\n", err)
		return exitError
	}
	logger, err := logging.New(r.stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(r.stderr, "failed to configure logging: %v\n", err)
		return exitError
	}

	req, err := buildRequest(opts, cfg)
	if err != nil {
		logger.Error("invalid request", "error", err)
		return exitError
	}

	var clientOpts []submit.Option
	if r.httpClient != nil {
		clientOpts = append(clientOpts, submit.WithHTTPClient(r.httpClient))
	}
	client := app.NewSubmitClient(cfg, clientOpts...)

	start := time.Now()
	resp, err := client.Submit(ctx, req)
	elapsed := time.Since(start)

	sub := history.Submission{
		Source:   history.SourceCLI,
		Host:     req.Host,
		Path:     req.Path,
		Fields:   req.Fields,
		File:     req.File,
		Duration: elapsed,
		Err:      err,
	}
	if resp != nil {
		sub.StatusCode = resp.StatusCode
		sub.Body = resp.Body
	}
	recordHistory(ctx, logger, cfg, sub)

	if err != nil {
		logger.Error("submission failed",
			"host", req.Host,
			"path", req.Path,
			"error_type", core.TypeOf(err),
			"error", err,
		)
		return exitError
	}

	logger.Info("submission completed",
		"host", req.Host,
		"path", req.Path,
		"status", resp.StatusCode,
		"bytes", len(resp.Body),
		"duration_ms", elapsed.Milliseconds(),
	)
	if _, err := r.stdout.Write(resp.Body); err != nil {
		logger.Error("failed to write response body", "error", err)
		return exitError
	}

	if opts.fail && !resp.OK() {
		return exitNon2xx
	}
	return exitOK
}

// buildRequest merges flags over the configuration.
func buildRequest(opts *options, cfg *config.Config) (*submit.Request, error) {
	req := &submit.Request{
		Host:        firstNonEmpty(opts.host, cfg.Target.Host),
		Path:        firstNonEmpty(opts.path, cfg.Target.Path),
		BearerToken: firstNonEmpty(opts.token, cfg.Target.APIKey),
		Fields:      opts.fields,
		Headers:     opts.headers,
		Boundary:    opts.boundary,
		Timeout:     opts.timeout,
	}
	if req.Host == "" {
		return nil, fmt.Errorf("no target host: pass -host or set target.host")
	}
	if req.BearerToken == "" {
		return nil, fmt.Errorf("no token: pass -token or set FORMPOST_API_KEY")
	}
	if opts.file != "" {
		fieldName := firstNonEmpty(opts.fileField, cfg.Target.FileField, defaultFileField)
		file, err := formdata.ReadFile(fieldName, opts.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		req.File = file
	}
	return req, nil
}

// recordHistory stores the submission synchronously. Failures are logged and
// never change the exit code.
func recordHistory(ctx context.Context, logger *slog.Logger, cfg *config.Config, sub history.Submission) {
	if !cfg.History.Enabled {
		return
	}
	result, err := history.New(ctx, cfg)
	if err != nil {
		logger.Warn("failed to open submission history", "error", err)
		return
	}
	defer func() {
		if err := result.Close(); err != nil {
			logger.Warn("failed to close submission history", "error", err)
		}
	}()

	rec := history.NewRecord(sub)
	if err := result.Store.Create(ctx, rec); err != nil {
		logger.Warn("failed to record submission", "error", err)
		return
	}
	logger.Debug("submission recorded", "id", rec.ID, "task_id", rec.TaskID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	r := &runner{stdout: os.Stdout, stderr: os.Stderr}
	code := r.run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
