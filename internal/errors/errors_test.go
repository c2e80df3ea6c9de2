package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.GetComponent() != "unknown" {
		t.Errorf("Expected component 'unknown', got '%s'", ee.GetComponent())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic', got '%s'", ee.Category)
	}
}

func TestBuilderChain(t *testing.T) {
	t.Parallel()

	ee := Newf("checksum %s not found", "abc").
		Component("resolver").
		Category(CategoryNotFound).
		Context("checksum", "abc").
		Build()

	if ee.GetComponent() != "resolver" {
		t.Errorf("Expected component 'resolver', got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryNotFound {
		t.Errorf("Expected category 'not-found', got '%s'", ee.Category)
	}
	if ee.GetContext()["checksum"] != "abc" {
		t.Errorf("Expected checksum context 'abc', got %v", ee.GetContext()["checksum"])
	}
}

func TestCategoryDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want ErrorCategory
	}{
		{"replay header truncated", CategoryReplayDecode},
		{"connection refused", CategoryNetwork},
		{"beatmap not found", CategoryNotFound},
		{"invalid string marker", CategoryValidation},
		{"failed to open file", CategoryFileIO},
		{"something else", CategoryGeneric},
	}

	for _, tt := range tests {
		ee := New(fmt.Errorf("%s", tt.msg)).Build()
		if ee.Category != tt.want {
			t.Errorf("message %q: expected category %q, got %q", tt.msg, tt.want, ee.Category)
		}
	}
}

func TestUnwrapAndIs(t *testing.T) {
	t.Parallel()

	base := NewStd("base failure")
	ee := New(fmt.Errorf("wrapped: %w", base)).Category(CategoryDatabase).Build()

	if !Is(ee, base) {
		t.Error("Expected Is() to find the wrapped base error")
	}

	var target *EnhancedError
	if !As(ee, &target) {
		t.Error("Expected As() to extract the enhanced error")
	}
	if target.Category != CategoryDatabase {
		t.Errorf("Expected category 'database', got '%s'", target.Category)
	}
}

func TestIsCategory(t *testing.T) {
	t.Parallel()

	ee := New(NewStd("no rows")).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("lookup failed: %w", ee)

	if !IsNotFound(wrapped) {
		t.Error("Expected IsNotFound on wrapped enhanced error")
	}
	if IsCategory(wrapped, CategoryNetwork) {
		t.Error("Did not expect network category match")
	}
}

func TestFileContextAnonymizesPath(t *testing.T) {
	t.Parallel()

	ee := FileError(NewStd("read failed"), "/home/player/replays/score.osr", 1024)

	ctx := ee.GetContext()
	if ctx["file_extension"] != "osr" {
		t.Errorf("Expected file_extension 'osr', got %v", ctx["file_extension"])
	}
	if ctx["file_size_bytes"] != int64(1024) {
		t.Errorf("Expected file_size_bytes 1024, got %v", ctx["file_size_bytes"])
	}
	for k, v := range ctx {
		if s, ok := v.(string); ok && k != "file_extension" && s == "/home/player/replays/score.osr" {
			t.Errorf("Raw path leaked into context key %q", k)
		}
	}
}

func TestNetworkContext(t *testing.T) {
	t.Parallel()

	ee := NetworkError(NewStd("timeout"), "https://osu.ppy.sh/api/v2/beatmaps", 30*time.Second)

	ctx := ee.GetContext()
	if ctx["url"] != "https://osu.ppy.sh/api/v2/beatmaps" {
		t.Errorf("Expected url context, got %v", ctx["url"])
	}
	if ctx["timeout_seconds"] != 30.0 {
		t.Errorf("Expected timeout_seconds 30, got %v", ctx["timeout_seconds"])
	}
	if ee.Category != CategoryNetwork {
		t.Errorf("Expected category 'network', got '%s'", ee.Category)
	}
}
