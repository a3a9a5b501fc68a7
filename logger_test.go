package platform

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestSimpleLoggerFormatsKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := &SimpleLogger{logger: log.New(&buf, "", 0)}

	logger.Info("request finished", "method", "GET", "status", 200)

	line := buf.String()
	for _, want := range []string{"INFO", "request finished", "method=GET", "status=200"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in log line %q", want, line)
		}
	}
}

func TestSimpleLoggerIgnoresDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	logger := &SimpleLogger{logger: log.New(&buf, "", 0)}

	logger.Error("boom", "orphan")

	line := buf.String()
	if !strings.Contains(line, "ERROR boom") {
		t.Errorf("expected error line, got %q", line)
	}
	if strings.Contains(line, "orphan=") {
		t.Errorf("dangling key must not be rendered as a pair: %q", line)
	}
}

func TestSimpleLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := &SimpleLogger{logger: log.New(&buf, "", 0)}

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	out := buf.String()
	for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR"} {
		if !strings.Contains(out, level) {
			t.Errorf("expected level %s in output", level)
		}
	}
}

func TestDefaultRequestIDGenerator(t *testing.T) {
	first := DefaultRequestIDGenerator()
	second := DefaultRequestIDGenerator()

	if len(first) != 8 {
		t.Errorf("expected 8-char request ID, got %q", first)
	}
	if first == second {
		t.Error("expected unique request IDs")
	}
}

func TestDefaultDebugConfig(t *testing.T) {
	config := DefaultDebugConfig()

	if config.Enabled {
		t.Error("debug should be off by default")
	}
	if !config.LogRequests || !config.LogCache || !config.LogDedup || !config.LogTokens {
		t.Error("all categories should be enabled once debug is switched on")
	}
	if config.RequestIDGen == nil {
		t.Error("expected a request ID generator")
	}
}
