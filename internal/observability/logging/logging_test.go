package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestWithContextAnnotatesIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "json"})

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithPackageID(ctx, "pkg-1")
	WithContext(ctx, logger).Info("hello")

	line := buf.String()
	if !strings.Contains(line, `"request_id":"req-1"`) {
		t.Fatalf("request id missing: %s", line)
	}
	if !strings.Contains(line, `"package_id":"pkg-1"`) {
		t.Fatalf("package id missing: %s", line)
	}
}

func TestContextIgnoresBlankIdentifiers(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "   ")
	if _, ok := RequestIDFromContext(ctx); ok {
		t.Fatalf("blank request ids must not be stored")
	}
	ctx = ContextWithPackageID(ctx, "")
	if _, ok := PackageIDFromContext(ctx); ok {
		t.Fatalf("blank package ids must not be stored")
	}
}

func TestNewRespectsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Level: "warn", Format: "text"})

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level: %s", buf.String())
	}
	logger.Warn("emitted")
	if !strings.Contains(buf.String(), "emitted") {
		t.Fatalf("warn record missing: %s", buf.String())
	}
}

func TestContextWithLoggerRoundTrip(t *testing.T) {
	logger := New(Config{Format: "text"})
	ctx := ContextWithLogger(context.Background(), logger)
	if LoggerFromContext(ctx) != logger {
		t.Fatalf("logger not retrievable from context")
	}
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("empty context must yield no logger")
	}
}
