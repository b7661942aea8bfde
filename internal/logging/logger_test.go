package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"alertrelay/internal/config"
)

func TestNewWritesRotatingJSONFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "alertrelay.log")
	logger, closeFn, err := New(config.LogConfig{
		File: config.LogSinkConfig{Enabled: true, Level: "info", Format: "json", Path: path, MaxSizeMB: 1},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("webhook processed", "alerts", 3)
	closeFn()

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(body), "hidden") {
		t.Fatalf("debug line must be filtered: %s", body)
	}
	if !strings.Contains(string(body), `"msg":"webhook processed"`) || !strings.Contains(string(body), `"alerts":3`) {
		t.Fatalf("unexpected log body: %s", body)
	}
}

func TestNewRejectsNoSinks(t *testing.T) {
	t.Parallel()

	if _, _, err := New(config.LogConfig{}); err == nil {
		t.Fatalf("expected error without sinks")
	}
}

func TestTeeHandlerFansOutByLevel(t *testing.T) {
	t.Parallel()

	var debugBuf, warnBuf bytes.Buffer
	logger := slog.New(teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}).With("component", "test")

	logger.Info("only debug sink")
	logger.Warn("both sinks")

	if !strings.Contains(debugBuf.String(), "only debug sink") || !strings.Contains(debugBuf.String(), "both sinks") {
		t.Fatalf("unexpected debug sink output: %s", debugBuf.String())
	}
	if strings.Contains(warnBuf.String(), "only debug sink") || !strings.Contains(warnBuf.String(), "component=test") {
		t.Fatalf("unexpected warn sink output: %s", warnBuf.String())
	}
}

func TestColorLineWriterHighlightsPipelineAttrs(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	writer := &colorLineWriter{dst: &out}
	line := `level=WARN msg="publish retry failed" component=publisher target=ops-hook attempt=2` + "\n"
	n, err := writer.Write([]byte(line))
	if err != nil || n != len(line) {
		t.Fatalf("unexpected write result n=%d err=%v", n, err)
	}
	rendered := out.String()
	if !strings.HasPrefix(rendered, ansiYellow) {
		t.Fatalf("expected warn tone: %q", rendered)
	}
	if !strings.Contains(rendered, "component="+ansiCyan+"publisher"+ansiReset) || !strings.Contains(rendered, `msg="publish retry failed"`) {
		t.Fatalf("unexpected colors: %q", rendered)
	}
	if !strings.HasSuffix(rendered, "attempt=2\n"+ansiReset) {
		t.Fatalf("unexpected tail: %q", rendered)
	}
}

func TestConsoleHandlerRedactsSecrets(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	handler, err := buildConsoleHandler(config.LogSinkConfig{Level: "debug", Format: "json"}, &out)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	slog.New(handler).Info("target loaded", "target", "pd", "routing_key", "R0UT1NG", "api_key", "sk-123")
	if strings.Contains(out.String(), "R0UT1NG") || strings.Contains(out.String(), "sk-123") {
		t.Fatalf("secret leaked: %s", out.String())
	}
	if !strings.Contains(out.String(), `"routing_key":"[redacted]"`) || strings.Contains(out.String(), `"time"`) {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if level, err := parseLevel(" Warning "); err != nil || level != slog.LevelWarn {
		t.Fatalf("unexpected level %v %v", level, err)
	}
	if _, err := parseLevel("trace"); err == nil {
		t.Fatalf("expected unsupported level error")
	}
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := IntoContext(context.Background(), Component(base, "orchestrator").With("request_id", "r1"))
	FromContext(ctx, nil).Info("hello")
	if !strings.Contains(buf.String(), "component=orchestrator") || !strings.Contains(buf.String(), "request_id=r1") {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if FromContext(context.Background(), base) != base {
		t.Fatalf("expected fallback logger")
	}
}
