package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mail_worker/core/port/out"

	"github.com/goccy/go-json"
)

func TestOllamaGenerator_GenerateText(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"llama3","response":"  Short summary. ","done":true}`))
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL+"/", "")
	res, err := g.GenerateText(context.Background(), "summarize", out.GenerateOptions{System: "be brief", MaxTokens: 50, Temperature: 0.2})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if res.Text != "Short summary." || res.Provider != ProviderOllama || res.Model != "llama3" {
		t.Errorf("result = %+v", res)
	}
	if got.Stream || got.System != "be brief" || got.Options.NumPredict != 50 || got.Model != DefaultOllamaModel {
		t.Errorf("request = %+v", got)
	}
}

func TestOllamaGenerator_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "missing").GenerateText(context.Background(), "x", out.GenerateOptions{})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("error = %v, want status in message", err)
	}
}

func TestOpenAIGenerator_GenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system + user", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Refund requested."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	res, err := g.GenerateText(context.Background(), "summarize", out.GenerateOptions{System: "be brief"})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}
	if res.Text != "Refund requested." || res.Provider != ProviderOpenAI {
		t.Errorf("result = %+v", res)
	}
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantNil bool
		wantErr bool
	}{
		{"openai", Config{Provider: "openai", OpenAIAPIKey: "k"}, false, false},
		{"openai without key", Config{Provider: "openai"}, true, true},
		{"ollama", Config{Provider: "Ollama"}, false, false},
		{"none", Config{Provider: "none", OpenAIAPIKey: "k"}, true, false},
		{"empty with key", Config{OpenAIAPIKey: "k"}, false, false},
		{"empty without key", Config{}, true, false},
		{"unknown", Config{Provider: "gemini"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGenerator(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (g == nil) != tt.wantNil {
				t.Errorf("generator nil = %v, want %v", g == nil, tt.wantNil)
			}
		})
	}
}
