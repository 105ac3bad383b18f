package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/callsheet/internal/config"
	"github.com/zulandar/callsheet/internal/logging"
)

func parseConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

// --- buildApp tests ---

func TestBuildApp_SlackSQL(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	cfg := parseConfig(t, cfgPath)
	log := logging.Nop()

	a, err := buildApp(cfg, &log, logging.NewRing(10), new(bytes.Buffer))
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.close()

	if a.daemon == nil || a.router == nil || a.scheduler == nil {
		t.Fatalf("app not fully wired: %+v", a)
	}
	if a.server != nil {
		t.Error("server should be disabled when http.port is 0")
	}
	if got := a.cache.Timeout(); got != cfg.Timeouts.AI || got != 120*time.Second {
		t.Errorf("download timeout = %v, want the 120s AI timeout", got)
	}
}

func TestBuildApp_DownloadTimeoutFollowsConfig(t *testing.T) {
	cfgPath, _ := writeConfig(t, "timeouts:\n  ai: 45s\n")
	cfg := parseConfig(t, cfgPath)
	log := logging.Nop()

	a, err := buildApp(cfg, &log, nil, new(bytes.Buffer))
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.close()
	if got := a.cache.Timeout(); got != 45*time.Second {
		t.Errorf("download timeout = %v, want 45s", got)
	}
}

func TestBuildApp_WithHTTP(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http:\n  port: 18080\n")
	cfg := parseConfig(t, cfgPath)
	log := logging.Nop()

	a, err := buildApp(cfg, &log, nil, new(bytes.Buffer))
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.close()
	if a.server == nil {
		t.Fatal("expected HTTP server")
	}
}

// --- createAdapter tests ---

func TestCreateAdapter_TelegramWebhook(t *testing.T) {
	cfg := &config.Config{Platform: "telegram"}
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.WebhookURL = "https://example.com/webhook"
	log := logging.Nop()

	a, hook, err := createAdapter(cfg, &log)
	if err != nil {
		t.Fatalf("createAdapter: %v", err)
	}
	if a == nil || hook == nil {
		t.Fatal("expected adapter and webhook handler")
	}
}

func TestCreateAdapter_TelegramPolling(t *testing.T) {
	cfg := &config.Config{Platform: "telegram"}
	cfg.Telegram.Token = "123:abc"
	log := logging.Nop()

	_, hook, err := createAdapter(cfg, &log)
	if err != nil {
		t.Fatalf("createAdapter: %v", err)
	}
	if hook != nil {
		t.Error("polling mode should not expose a webhook")
	}
}

func TestCreateAdapter_Discord(t *testing.T) {
	cfg := &config.Config{Platform: "discord"}
	cfg.Discord.BotToken = "token"
	log := logging.Nop()

	if _, _, err := createAdapter(cfg, &log); err != nil {
		t.Fatalf("createAdapter: %v", err)
	}
}

func TestCreateAdapter_Unsupported(t *testing.T) {
	log := logging.Nop()
	_, _, err := createAdapter(&config.Config{Platform: "irc"}, &log)
	if err == nil || !strings.Contains(err.Error(), "unsupported platform") {
		t.Fatalf("expected unsupported platform error, got %v", err)
	}
}

// --- createPipeline tests ---

func TestCreatePipeline_OpenAI(t *testing.T) {
	cfg := &config.Config{}
	cfg.AI.OpenAIAPIKey = "sk-test"
	cfg.AI.AnalysisModel = "gpt-4o-mini"
	cfg.AI.SpeakersModel = "gpt-4o"
	log := logging.Nop()

	p, speakers, err := createPipeline(cfg, &log)
	if err != nil {
		t.Fatalf("createPipeline: %v", err)
	}
	if p == nil || speakers != "gpt-4o" {
		t.Errorf("speakers model = %q", speakers)
	}
}

func TestCreatePipeline_Anthropic(t *testing.T) {
	cfg := &config.Config{}
	cfg.AI.OpenAIAPIKey = "sk-test"
	cfg.AI.Generator = "anthropic"
	cfg.AI.AnthropicAPIKey = "ak-test"
	cfg.AI.AnthropicModel = "claude-sonnet-4-5"
	cfg.AI.SpeakersModel = "gpt-4o"
	log := logging.Nop()

	_, speakers, err := createPipeline(cfg, &log)
	if err != nil {
		t.Fatalf("createPipeline: %v", err)
	}
	if speakers != "claude-sonnet-4-5" {
		t.Errorf("speakers model = %q, want anthropic model", speakers)
	}
}

func TestCreatePipeline_MissingKey(t *testing.T) {
	log := logging.Nop()
	if _, _, err := createPipeline(&config.Config{}, &log); err == nil {
		t.Fatal("expected error without openai key")
	}
}

// --- createStore tests ---

func TestCreateStore_Notion(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Driver = "notion"
	cfg.Store.Notion.APIKey = "secret"
	cfg.Store.Notion.DatabaseID = "db"

	s, err := createStore(cfg, nil)
	if err != nil || s == nil {
		t.Fatalf("createStore: %v", err)
	}
}

func TestCreateStore_Unsupported(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Driver = "csv"
	if _, err := createStore(cfg, nil); err == nil {
		t.Fatal("expected error")
	}
}
