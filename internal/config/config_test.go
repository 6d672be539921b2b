package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Pipeline.SourceLang != "zh" {
		t.Fatalf("expected default source lang zh, got %q", cfg.Pipeline.SourceLang)
	}
	if len(cfg.Pipeline.Targets) != 3 {
		t.Fatalf("expected 3 default targets, got %d", len(cfg.Pipeline.Targets))
	}
	if cfg.Segmenter.SilenceMS != 700 {
		t.Fatalf("expected default silence 700ms, got %d", cfg.Segmenter.SilenceMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BABEL_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("BABEL_BUS_USERNAME", "alice")
	t.Setenv("BABEL_BUS_PASSWORD", "secret")
	t.Setenv("BABEL_PIPELINE_SOURCE_LANG", "ja")
	t.Setenv("BABEL_PIPELINE_TRANSLATION_TIMEOUT_MS", "1500")
	t.Setenv("BABEL_PIPELINE_LANE_HIGH_WATER", "32")
	t.Setenv("BABEL_PIPELINE_LANE_LOW_WATER", "8")
	t.Setenv("BABEL_SEGMENTER_SILENCE_MS", "500")
	t.Setenv("BABEL_SEGMENTER_ENERGY_THRESHOLD", "0.02")
	t.Setenv("BABEL_TRANSLATOR_ORDER", "libre, deepl")
	t.Setenv("BABEL_PROFILES_PATH", "./tmp-profiles.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Pipeline.SourceLang != "ja" {
		t.Fatalf("expected source lang override, got %q", cfg.Pipeline.SourceLang)
	}
	if cfg.Pipeline.TranslationTimeoutMS != 1500 {
		t.Fatalf("expected translation timeout override, got %d", cfg.Pipeline.TranslationTimeoutMS)
	}
	if cfg.Pipeline.LaneHighWater != 32 || cfg.Pipeline.LaneLowWater != 8 {
		t.Fatalf("expected watermark overrides, got %d/%d", cfg.Pipeline.LaneHighWater, cfg.Pipeline.LaneLowWater)
	}
	if cfg.Segmenter.SilenceMS != 500 {
		t.Fatalf("expected silence override, got %d", cfg.Segmenter.SilenceMS)
	}
	if cfg.Segmenter.EnergyThreshold != 0.02 {
		t.Fatalf("expected energy threshold override, got %v", cfg.Segmenter.EnergyThreshold)
	}
	if len(cfg.Translator.Order) != 2 || cfg.Translator.Order[0] != "libre" {
		t.Fatalf("expected translator order override, got %v", cfg.Translator.Order)
	}
	if cfg.Profiles.Path != "./tmp-profiles.db" {
		t.Fatalf("expected profiles path override")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no targets", func(c *Config) { c.Pipeline.Targets = nil }},
		{"duplicate target", func(c *Config) {
			c.Pipeline.Targets = append(c.Pipeline.Targets, TargetLanguage{Code: "en"})
		}},
		{"target equals source", func(c *Config) {
			c.Pipeline.Targets = []TargetLanguage{{Code: "zh"}}
		}},
		{"low water above high water", func(c *Config) {
			c.Pipeline.LaneLowWater = c.Pipeline.LaneHighWater
		}},
		{"exec recognizer without command", func(c *Config) {
			c.Recognizer.Mode = "exec"
			c.Recognizer.Command = ""
		}},
		{"unknown translator backend", func(c *Config) {
			c.Translator.Mode = "chain"
			c.Translator.Order = []string{"bing"}
		}},
		{"http synth without endpoint", func(c *Config) {
			c.Synthesis.Secondary = SynthBackendConfig{Mode: "http"}
		}},
		{"max utterance below min", func(c *Config) {
			c.Segmenter.MaxUtteranceMS = c.Segmenter.MinUtteranceMS
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
