package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// TargetLanguage configures one broadcast lane.
type TargetLanguage struct {
	Code        string `yaml:"code"`
	DisplayName string `yaml:"display_name"`
	Voice       string `yaml:"voice"`
}

type PipelineConfig struct {
	SourceLang           string           `yaml:"source_lang"`
	Targets              []TargetLanguage `yaml:"targets"`
	RecognitionTimeoutMS int              `yaml:"recognition_timeout_ms"`
	TranslationTimeoutMS int              `yaml:"translation_timeout_ms"`
	SynthesisTimeoutMS   int              `yaml:"synthesis_timeout_ms"`
	PublisherWaitMS      int              `yaml:"publisher_wait_ms"`
	LaneHighWater        int              `yaml:"lane_high_water"`
	LaneLowWater         int              `yaml:"lane_low_water"`
	ShutdownGraceMS      int              `yaml:"shutdown_grace_ms"`
	StatusIntervalMS     int              `yaml:"status_interval_ms"`
}

type SegmenterConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
	SilenceMS       int     `yaml:"silence_ms"`
	MinUtteranceMS  int     `yaml:"min_utterance_ms"`
	MaxUtteranceMS  int     `yaml:"max_utterance_ms"`
}

type RecognizerConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, http
	Command   string `yaml:"command"`
	Endpoint  string `yaml:"endpoint"`
	ModelPath string `yaml:"model_path"`
}

type TranslatorBackend struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Region   string `yaml:"region"`
}

type TranslatorConfig struct {
	Mode      string            `yaml:"mode"`  // mock, chain
	Order     []string          `yaml:"order"` // deepl, microsoft, libre
	DeepL     TranslatorBackend `yaml:"deepl"`
	Microsoft TranslatorBackend `yaml:"microsoft"`
	Libre     TranslatorBackend `yaml:"libre"`
}

type SynthBackendConfig struct {
	Mode     string `yaml:"mode"` // mock, http, exec, clone
	Endpoint string `yaml:"endpoint"`
	Command  string `yaml:"command"`
}

type SynthesisConfig struct {
	Primary    SynthBackendConfig `yaml:"primary"`
	Secondary  SynthBackendConfig `yaml:"secondary"`
	SampleRate int                `yaml:"sample_rate"`
	Channels   int                `yaml:"channels"`
}

type ProfilesConfig struct {
	Path           string `yaml:"path"`
	SampleDir      string `yaml:"sample_dir"`
	ArtifactDir    string `yaml:"artifact_dir"`
	BuildMode      string `yaml:"build_mode"` // mock, exec
	BuildCommand   string `yaml:"build_command"`
	BuildTimeoutMS int    `yaml:"build_timeout_ms"`
	Workers        int    `yaml:"workers"`
}

type TransportConfig struct {
	Mode string `yaml:"mode"` // nats, mock
	Room string `yaml:"room"`
}

type IngressConfig struct {
	Mode          string `yaml:"mode"` // bus, sim
	SimIntervalMS int    `yaml:"sim_interval_ms"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Segmenter   SegmenterConfig  `yaml:"segmenter"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Translator  TranslatorConfig `yaml:"translator"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Profiles    ProfilesConfig   `yaml:"profiles"`
	Transport   TransportConfig  `yaml:"transport"`
	Ingress     IngressConfig    `yaml:"ingress"`
}

func Default() Config {
	return Config{
		RuntimeName: "babel-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Pipeline: PipelineConfig{
			SourceLang: "zh",
			Targets: []TargetLanguage{
				{Code: "en", DisplayName: "English", Voice: "en-US-ChristopherNeural"},
				{Code: "vi", DisplayName: "Vietnamese", Voice: "vi-VN-HoaiMyNeural"},
				{Code: "ko", DisplayName: "Korean", Voice: "ko-KR-SunHiNeural"},
			},
			RecognitionTimeoutMS: 5000,
			TranslationTimeoutMS: 4000,
			SynthesisTimeoutMS:   8000,
			PublisherWaitMS:      2500,
			LaneHighWater:        16,
			LaneLowWater:         4,
			ShutdownGraceMS:      5000,
			StatusIntervalMS:     2000,
		},
		Segmenter: SegmenterConfig{
			SampleRate:      16000,
			Channels:        1,
			EnergyThreshold: 0.01,
			SilenceMS:       700,
			MinUtteranceMS:  250,
			MaxUtteranceMS:  15000,
		},
		Recognizer: RecognizerConfig{
			Mode: "mock",
		},
		Translator: TranslatorConfig{
			Mode:  "mock",
			Order: []string{"deepl", "microsoft", "libre"},
			DeepL: TranslatorBackend{
				Endpoint: "https://api-free.deepl.com",
			},
			Microsoft: TranslatorBackend{
				Endpoint: "https://api.cognitive.microsofttranslator.com",
				Region:   "eastasia",
			},
			Libre: TranslatorBackend{
				Endpoint: "https://libretranslate.com",
			},
		},
		Synthesis: SynthesisConfig{
			Primary:    SynthBackendConfig{Mode: "clone"},
			Secondary:  SynthBackendConfig{Mode: "mock"},
			SampleRate: 22050,
			Channels:   1,
		},
		Profiles: ProfilesConfig{
			Path:           "./data/babel-profiles.db",
			SampleDir:      "./data/voice-samples",
			ArtifactDir:    "./data/voice-artifacts",
			BuildMode:      "mock",
			BuildTimeoutMS: 120000,
			Workers:        1,
		},
		Transport: TransportConfig{
			Mode: "nats",
			Room: "live-translator",
		},
		Ingress: IngressConfig{
			Mode:          "bus",
			SimIntervalMS: 3000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "BABEL_RUNTIME_NAME")
	overrideString(&cfg.Environment, "BABEL_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "BABEL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "BABEL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "BABEL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "BABEL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "BABEL_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "BABEL_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "BABEL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "BABEL_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "BABEL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "BABEL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "BABEL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "BABEL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "BABEL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "BABEL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Pipeline.SourceLang, "BABEL_PIPELINE_SOURCE_LANG")
	overrideInt(&cfg.Pipeline.RecognitionTimeoutMS, "BABEL_PIPELINE_RECOGNITION_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.TranslationTimeoutMS, "BABEL_PIPELINE_TRANSLATION_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.SynthesisTimeoutMS, "BABEL_PIPELINE_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.PublisherWaitMS, "BABEL_PIPELINE_PUBLISHER_WAIT_MS")
	overrideInt(&cfg.Pipeline.LaneHighWater, "BABEL_PIPELINE_LANE_HIGH_WATER")
	overrideInt(&cfg.Pipeline.LaneLowWater, "BABEL_PIPELINE_LANE_LOW_WATER")
	overrideInt(&cfg.Pipeline.ShutdownGraceMS, "BABEL_PIPELINE_SHUTDOWN_GRACE_MS")
	overrideInt(&cfg.Pipeline.StatusIntervalMS, "BABEL_PIPELINE_STATUS_INTERVAL_MS")
	overrideInt(&cfg.Segmenter.SampleRate, "BABEL_SEGMENTER_SAMPLE_RATE")
	overrideInt(&cfg.Segmenter.Channels, "BABEL_SEGMENTER_CHANNELS")
	overrideFloat(&cfg.Segmenter.EnergyThreshold, "BABEL_SEGMENTER_ENERGY_THRESHOLD")
	overrideInt(&cfg.Segmenter.SilenceMS, "BABEL_SEGMENTER_SILENCE_MS")
	overrideInt(&cfg.Segmenter.MinUtteranceMS, "BABEL_SEGMENTER_MIN_UTTERANCE_MS")
	overrideInt(&cfg.Segmenter.MaxUtteranceMS, "BABEL_SEGMENTER_MAX_UTTERANCE_MS")
	overrideString(&cfg.Recognizer.Mode, "BABEL_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "BABEL_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.Endpoint, "BABEL_RECOGNIZER_ENDPOINT")
	overrideString(&cfg.Recognizer.ModelPath, "BABEL_RECOGNIZER_MODEL_PATH")
	overrideString(&cfg.Translator.Mode, "BABEL_TRANSLATOR_MODE")
	overrideStringSlice(&cfg.Translator.Order, "BABEL_TRANSLATOR_ORDER")
	overrideString(&cfg.Translator.DeepL.APIKey, "BABEL_TRANSLATOR_DEEPL_API_KEY")
	overrideString(&cfg.Translator.DeepL.Endpoint, "BABEL_TRANSLATOR_DEEPL_ENDPOINT")
	overrideString(&cfg.Translator.Microsoft.APIKey, "BABEL_TRANSLATOR_MICROSOFT_API_KEY")
	overrideString(&cfg.Translator.Microsoft.Endpoint, "BABEL_TRANSLATOR_MICROSOFT_ENDPOINT")
	overrideString(&cfg.Translator.Microsoft.Region, "BABEL_TRANSLATOR_MICROSOFT_REGION")
	overrideString(&cfg.Translator.Libre.APIKey, "BABEL_TRANSLATOR_LIBRE_API_KEY")
	overrideString(&cfg.Translator.Libre.Endpoint, "BABEL_TRANSLATOR_LIBRE_ENDPOINT")
	overrideString(&cfg.Synthesis.Primary.Mode, "BABEL_SYNTHESIS_PRIMARY_MODE")
	overrideString(&cfg.Synthesis.Primary.Endpoint, "BABEL_SYNTHESIS_PRIMARY_ENDPOINT")
	overrideString(&cfg.Synthesis.Primary.Command, "BABEL_SYNTHESIS_PRIMARY_COMMAND")
	overrideString(&cfg.Synthesis.Secondary.Mode, "BABEL_SYNTHESIS_SECONDARY_MODE")
	overrideString(&cfg.Synthesis.Secondary.Endpoint, "BABEL_SYNTHESIS_SECONDARY_ENDPOINT")
	overrideString(&cfg.Synthesis.Secondary.Command, "BABEL_SYNTHESIS_SECONDARY_COMMAND")
	overrideInt(&cfg.Synthesis.SampleRate, "BABEL_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "BABEL_SYNTHESIS_CHANNELS")
	overrideString(&cfg.Profiles.Path, "BABEL_PROFILES_PATH")
	overrideString(&cfg.Profiles.SampleDir, "BABEL_PROFILES_SAMPLE_DIR")
	overrideString(&cfg.Profiles.ArtifactDir, "BABEL_PROFILES_ARTIFACT_DIR")
	overrideString(&cfg.Profiles.BuildMode, "BABEL_PROFILES_BUILD_MODE")
	overrideString(&cfg.Profiles.BuildCommand, "BABEL_PROFILES_BUILD_COMMAND")
	overrideInt(&cfg.Profiles.BuildTimeoutMS, "BABEL_PROFILES_BUILD_TIMEOUT_MS")
	overrideInt(&cfg.Profiles.Workers, "BABEL_PROFILES_WORKERS")
	overrideString(&cfg.Transport.Mode, "BABEL_TRANSPORT_MODE")
	overrideString(&cfg.Transport.Room, "BABEL_TRANSPORT_ROOM")
	overrideString(&cfg.Ingress.Mode, "BABEL_INGRESS_MODE")
	overrideInt(&cfg.Ingress.SimIntervalMS, "BABEL_INGRESS_SIM_INTERVAL_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Pipeline.SourceLang == "" {
		return errors.New("pipeline.source_lang must not be empty")
	}
	if len(cfg.Pipeline.Targets) == 0 {
		return errors.New("pipeline.targets must not be empty")
	}
	seen := make(map[string]bool, len(cfg.Pipeline.Targets))
	for _, target := range cfg.Pipeline.Targets {
		if target.Code == "" {
			return errors.New("pipeline.targets entries must have a code")
		}
		if target.Code == cfg.Pipeline.SourceLang {
			return fmt.Errorf("pipeline.targets must not include the source language %q", target.Code)
		}
		if seen[target.Code] {
			return fmt.Errorf("pipeline.targets contains duplicate code %q", target.Code)
		}
		seen[target.Code] = true
	}
	if cfg.Pipeline.RecognitionTimeoutMS <= 0 {
		return errors.New("pipeline.recognition_timeout_ms must be positive")
	}
	if cfg.Pipeline.TranslationTimeoutMS <= 0 {
		return errors.New("pipeline.translation_timeout_ms must be positive")
	}
	if cfg.Pipeline.SynthesisTimeoutMS <= 0 {
		return errors.New("pipeline.synthesis_timeout_ms must be positive")
	}
	if cfg.Pipeline.PublisherWaitMS <= 0 {
		return errors.New("pipeline.publisher_wait_ms must be positive")
	}
	if cfg.Pipeline.LaneHighWater <= 0 {
		return errors.New("pipeline.lane_high_water must be positive")
	}
	if cfg.Pipeline.LaneLowWater < 0 || cfg.Pipeline.LaneLowWater >= cfg.Pipeline.LaneHighWater {
		return errors.New("pipeline.lane_low_water must be >= 0 and below lane_high_water")
	}
	if cfg.Segmenter.SampleRate <= 0 {
		return errors.New("segmenter.sample_rate must be positive")
	}
	if cfg.Segmenter.Channels <= 0 {
		return errors.New("segmenter.channels must be positive")
	}
	if cfg.Segmenter.SilenceMS <= 0 {
		return errors.New("segmenter.silence_ms must be positive")
	}
	if cfg.Segmenter.MinUtteranceMS <= 0 {
		return errors.New("segmenter.min_utterance_ms must be positive")
	}
	if cfg.Segmenter.MaxUtteranceMS <= cfg.Segmenter.MinUtteranceMS {
		return errors.New("segmenter.max_utterance_ms must be greater than min_utterance_ms")
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("recognizer.mode must be one of mock|exec|http")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.Mode == "http" && cfg.Recognizer.Endpoint == "" {
		return errors.New("recognizer.endpoint must be set when mode=http")
	}
	switch cfg.Translator.Mode {
	case "mock", "chain":
	default:
		return errors.New("translator.mode must be one of mock|chain")
	}
	if cfg.Translator.Mode == "chain" {
		if len(cfg.Translator.Order) == 0 {
			return errors.New("translator.order must not be empty when mode=chain")
		}
		for _, name := range cfg.Translator.Order {
			switch name {
			case "deepl", "microsoft", "libre":
			default:
				return fmt.Errorf("translator.order contains unknown backend %q", name)
			}
		}
	}
	for _, backend := range []SynthBackendConfig{cfg.Synthesis.Primary, cfg.Synthesis.Secondary} {
		switch backend.Mode {
		case "mock", "clone":
		case "http":
			if backend.Endpoint == "" {
				return errors.New("synthesis backends with mode=http must set an endpoint")
			}
		case "exec":
			if backend.Command == "" {
				return errors.New("synthesis backends with mode=exec must set a command")
			}
		default:
			return errors.New("synthesis backend mode must be one of mock|clone|http|exec")
		}
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	if cfg.Profiles.Path == "" {
		return errors.New("profiles.path must not be empty")
	}
	switch cfg.Profiles.BuildMode {
	case "mock", "exec":
	default:
		return errors.New("profiles.build_mode must be one of mock|exec")
	}
	if cfg.Profiles.BuildMode == "exec" && cfg.Profiles.BuildCommand == "" {
		return errors.New("profiles.build_command must be set when build_mode=exec")
	}
	if cfg.Profiles.Workers <= 0 {
		return errors.New("profiles.workers must be >= 1")
	}
	switch cfg.Transport.Mode {
	case "nats", "mock":
	default:
		return errors.New("transport.mode must be one of nats|mock")
	}
	if cfg.Transport.Room == "" {
		return errors.New("transport.room must not be empty")
	}
	switch cfg.Ingress.Mode {
	case "bus", "sim":
	default:
		return errors.New("ingress.mode must be one of bus|sim")
	}
	return nil
}
