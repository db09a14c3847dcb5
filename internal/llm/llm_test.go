package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jorge-barreto/patchr/internal/config"
)

func TestNew_Providers(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(config.LLM{Provider: config.ProviderNone}, nil)
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(config.LLM{Provider: config.ProviderAnthropic}, nil)
	assert.ErrorContains(t, err, "API key required")

	_, err = New(config.LLM{Provider: config.ProviderOpenAI}, nil)
	assert.ErrorContains(t, err, "API key required")

	_, err = New(config.LLM{Provider: "bard"}, nil)
	assert.Error(t, err)

	c, err := New(config.LLM{Provider: config.ProviderClaudeCLI, Model: "sonnet", Rate: 1, Burst: 1}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, c)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	c, err = New(config.LLM{Provider: config.ProviderOpenAI, Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)
}

func TestWithRateLimit_CanceledContext(t *testing.T) {
	called := false
	next := Func(func(ctx context.Context, req Request) (string, error) {
		called = true
		return "x", nil
	})
	// burst of one: the first call takes the only token, the second must wait
	c := WithRateLimit(next, 0.001, 1)
	_, err := c.Complete(context.Background(), Request{Prompt: "a"})
	require.NoError(t, err)

	called = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(ctx, Request{Prompt: "b"})
	assert.ErrorContains(t, err, "rate limiter")
	assert.False(t, called)
}

func TestLogged_PassesThrough(t *testing.T) {
	boom := fmt.Errorf("boom")
	c := &logged{next: Func(func(ctx context.Context, req Request) (string, error) {
		if req.Prompt == "fail" {
			return "", boom
		}
		return "ok:" + req.Prompt, nil
	}), log: zap.NewNop()}

	out, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok:hi", out)

	_, err = c.Complete(context.Background(), Request{Prompt: "fail"})
	assert.ErrorIs(t, err, boom)
}

func TestOpenAI_Complete(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"done"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI("sk-test", srv.URL+"/v1", "gpt-4o", 100, 0.2)
	out, err := c.Complete(context.Background(), Request{System: "be brief", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, "gpt-4o", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAI("k", srv.URL+"/v1", "gpt-4o", 0, 0).Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "no choices")
}

func TestAnthropic_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	c := NewAnthropic("k", "claude-test", 256, 0.2, option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	out, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "fake-claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestClaudeCLI_Complete(t *testing.T) {
	bin := writeScript(t, `echo "prompt=$2 model=$4"`)
	c := &ClaudeCLI{Binary: bin, Model: "haiku"}
	out, err := c.Complete(context.Background(), Request{Prompt: "add agent"})
	require.NoError(t, err)
	assert.Equal(t, "prompt=add agent model=haiku", out)
}

func TestClaudeCLI_NonZeroExit(t *testing.T) {
	bin := writeScript(t, `echo "quota exceeded" >&2; exit 3`)
	_, err := (&ClaudeCLI{Binary: bin}).Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestClaudeCLI_EmptyOutput(t *testing.T) {
	bin := writeScript(t, `exit 0`)
	_, err := (&ClaudeCLI{Binary: bin}).Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "no output")
}

func TestClaudeCLI_MissingBinary(t *testing.T) {
	_, err := (&ClaudeCLI{Binary: filepath.Join(t.TempDir(), "nope")}).Complete(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	code, err := exitCode(nil)
	assert.Equal(t, 0, code)
	assert.NoError(t, err)

	code, err = exitCode(fmt.Errorf("some error"))
	assert.Equal(t, 0, code)
	assert.Error(t, err)

	if _, lerr := exec.LookPath("sh"); lerr != nil {
		t.Skip("sh not available")
	}
	code, err = exitCode(exec.Command("sh", "-c", "exit 42").Run())
	assert.Equal(t, 42, code)
	assert.NoError(t, err)
}

func TestPreflight_OtherProviders(t *testing.T) {
	assert.NoError(t, Preflight(config.ProviderAnthropic))
	assert.NoError(t, Preflight(config.ProviderNone))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("  abc \n", 10))
	assert.Equal(t, "...def", tail("abcdef", 3))
}
