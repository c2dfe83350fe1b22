package llm

import (
	"errors"
	"strings"
	"testing"
	"time"

	"paper-twinview/internal/types"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"unauthorized", errors.New("401 unauthorized"), false},
		{"invalid api key", errors.New("invalid api key provided"), false},
		{"bad request", errors.New("status code 400"), false},
		{"rate limited", errors.New("429 too many requests"), true},
		{"rate limit text", errors.New("rate limit exceeded, slow down"), true},
		{"server error", errors.New("500 internal server error"), true},
		{"bad gateway", errors.New("502 bad gateway"), true},
		{"unavailable", errors.New("503 service unavailable"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("context deadline exceeded (timeout)"), true},
		{"eof", errors.New("unexpected EOF"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"unknown", errors.New("something odd happened"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.retryable {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	if d := backoffDelay(1); d != BaseRetryDelay {
		t.Errorf("attempt 1 delay %v, want %v", d, BaseRetryDelay)
	}
	if d := backoffDelay(2); d != 2*BaseRetryDelay {
		t.Errorf("attempt 2 delay %v, want %v", d, 2*BaseRetryDelay)
	}
	if d := backoffDelay(10); d != 30*time.Second {
		t.Errorf("delay must cap at 30s, got %v", d)
	}
}

func TestToneInstruction(t *testing.T) {
	academic := toneInstruction(types.ToneAcademic)
	plain := toneInstruction(types.TonePlain)
	casual := toneInstruction(types.ToneCasual)

	if academic == plain || plain == casual || academic == casual {
		t.Error("tones must produce distinct instructions")
	}
	// An unknown tone falls back to the academic register.
	if toneInstruction(types.Tone("whatever")) != academic {
		t.Error("unknown tone must fall back to academic")
	}
}

func TestPageSystemPrompt(t *testing.T) {
	prompt := pageSystemPrompt(types.ToneAcademic)

	for _, want := range []string{
		`"segments"`,
		"figure_caption",
		"reading order",
		"Korean",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("page prompt missing %q", want)
		}
	}
	if !strings.Contains(prompt, toneInstruction(types.ToneAcademic)) {
		t.Error("page prompt must embed the tone instruction")
	}
}

func TestExplainUserPrompt(t *testing.T) {
	full := explainUserPrompt("E = mc^2", "질량 에너지 등가", "why squared?")
	if !strings.Contains(full, "E = mc^2") || !strings.Contains(full, "질량 에너지 등가") {
		t.Error("prompt must carry both original and translation")
	}
	if !strings.Contains(full, "why squared?") {
		t.Error("prompt must carry the reader's question")
	}

	bare := explainUserPrompt("E = mc^2", "", "")
	if strings.Contains(bare, "Korean translation") || strings.Contains(bare, "specifically asks") {
		t.Error("empty sections must be omitted")
	}
}

func TestChatSystemPrompt(t *testing.T) {
	with := chatSystemPrompt("Title: Attention Is All You Need")
	if !strings.Contains(with, "Attention Is All You Need") {
		t.Error("chat prompt must embed the document context")
	}
	without := chatSystemPrompt("")
	if strings.Contains(without, "Document context") {
		t.Error("empty context must be omitted entirely")
	}
}
