package config

import (
	"os"
	"testing"
	"time"
)

func TestConfigLoad_EmbedDefaults(t *testing.T) {
	// clear env vars
	_ = os.Unsetenv("MEMORY_MEDIATOR_EMBED_PROVIDER")
	_ = os.Unsetenv("MEMORY_MEDIATOR_EMBED_MODEL")
	_ = os.Unsetenv("MEMORY_MEDIATOR_SCORE_THRESHOLD")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.EmbedProvider != "ollama" || cfg.EmbedModel != "nomic-embed-text" || cfg.ScoreThreshold != 0.7 {
		t.Fatalf("unexpected default embed config: %+v", cfg)
	}
	if cfg.EmbedDimensions != 768 {
		t.Fatalf("unexpected default dimensions: %d", cfg.EmbedDimensions)
	}
}

func TestConfigLoad_EmbedEnvOverride(t *testing.T) {
	t.Setenv("MEMORY_MEDIATOR_EMBED_MODEL", "test-model")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.EmbedModel != "test-model" {
		t.Fatalf("embed model env override failed, got %s", cfg.EmbedModel)
	}
}

func TestConfigLoad_PipelineDefaults(t *testing.T) {
	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.PipelineMaxAttempts != 8 || cfg.PipelineShards != 8 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg)
	}
	if cfg.EnqueueTimeout() != 100*time.Millisecond || cfg.BaseBackoff() != 100*time.Millisecond || cfg.MaxBackoff() != 20*time.Second {
		t.Fatalf("unexpected pipeline durations: %v %v %v", cfg.EnqueueTimeout(), cfg.BaseBackoff(), cfg.MaxBackoff())
	}
}

func TestConfigLoad_BootstrapTimeoutEnvOverride(t *testing.T) {
	t.Setenv("MEMORY_MEDIATOR_BOOTSTRAP_TIMEOUT_SECONDS", "10")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.BootstrapTimeoutSeconds != 10 {
		t.Fatalf("bootstrap timeout env override failed, got %d", cfg.BootstrapTimeoutSeconds)
	}
}

func TestConfigLoad_RejectsBadThreshold(t *testing.T) {
	t.Setenv("MEMORY_MEDIATOR_SCORE_THRESHOLD", "1.5")

	if _, err := New(); err == nil {
		t.Fatal("expected error for threshold outside [-1,1]")
	}
}
