package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livebabel/babel-core/internal/bus"
	"github.com/livebabel/babel-core/internal/config"
	"github.com/livebabel/babel-core/internal/ingress"
	"github.com/livebabel/babel-core/internal/natsserver"
	"github.com/livebabel/babel-core/internal/pipeline"
	"github.com/livebabel/babel-core/internal/recognize"
	"github.com/livebabel/babel-core/internal/segment"
	"github.com/livebabel/babel-core/internal/synth"
	"github.com/livebabel/babel-core/internal/translate"
	"github.com/livebabel/babel-core/internal/transport"
	"github.com/livebabel/babel-core/internal/voiceprofile"
)

// Runtime assembles and supervises every component of the translation
// pipeline: the audio ingress, the segmenter, the orchestrator with its
// language lanes, the voice profile builder, and the HTTP control surface.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer     *http.Server
	telemetryClose func(context.Context) error
	embedded       *natsserver.EmbeddedServer
	bus            *bus.Client
	store          *voiceprofile.Store
	profiles       *voiceprofile.Lifecycle
	ingress        *ingress.Service
	orch           *pipeline.Orchestrator

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up in dependency order, then blocks until
// the context is cancelled and tears them down again in reverse.
func (r *Runtime) Start(ctx context.Context) error {
	telemetryClose, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = telemetryClose

	if r.cfg.Bus.Embedded {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		r.embedded = embedded
	}

	if r.needsBus() {
		client, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.bus = client
	}

	store, err := voiceprofile.Open(ctx, r.cfg.Profiles, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open voice profile store: %w", err)
	}
	r.store = store

	builder, err := newProfileBuilder(r.cfg.Profiles)
	if err != nil {
		return err
	}
	r.profiles = voiceprofile.NewLifecycle(ctx, r.cfg.Profiles, store, builder, r.logger)
	if err := r.profiles.Start(); err != nil {
		return fmt.Errorf("failed to start voice profile lifecycle: %w", err)
	}

	deps, err := r.buildPipelineDeps()
	if err != nil {
		return err
	}

	seg := segment.New(r.cfg.Segmenter, r.cfg.Pipeline.SourceLang, r.logger)
	r.orch = pipeline.New(ctx, r.cfg, deps, r.logger)
	if err := r.orch.Start(seg.Utterances()); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	r.ingress = ingress.NewService(ctx, r.cfg.Ingress, r.cfg.Segmenter, r.bus, seg, r.logger)
	if err := r.ingress.Start(); err != nil {
		return fmt.Errorf("failed to start ingress: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("source_lang", r.cfg.Pipeline.SourceLang),
		slog.Int("lanes", len(r.cfg.Pipeline.Targets)))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.shutdown()
	return nil
}

func (r *Runtime) shutdown() {
	r.ready.Store(false)

	// Intake first: closing the ingress flushes the segmenter, which lets
	// the orchestrator drain whatever is already in flight.
	if r.ingress != nil {
		r.ingress.Close()
	}
	if r.orch != nil {
		r.orch.Close()
	}
	if r.profiles != nil {
		r.profiles.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("profile store close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

// needsBus reports whether any configured component talks to NATS.
func (r *Runtime) needsBus() bool {
	return r.cfg.Bus.Embedded ||
		r.cfg.Transport.Mode == "nats" ||
		r.cfg.Ingress.Mode == "bus"
}

func (r *Runtime) buildPipelineDeps() (pipeline.Deps, error) {
	recognizer, err := newRecognizer(r.cfg.Recognizer)
	if err != nil {
		return pipeline.Deps{}, err
	}

	translator, err := newTranslator(r.cfg.Translator, r.logger)
	if err != nil {
		return pipeline.Deps{}, err
	}

	profileSrc := &profileSource{profiles: r.profiles}
	primary, err := synth.NewBackend(r.cfg.Synthesis.Primary, profileSrc)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("primary synthesis backend: %w", err)
	}
	secondary, err := synth.NewBackend(r.cfg.Synthesis.Secondary, profileSrc)
	if err != nil {
		return pipeline.Deps{}, fmt.Errorf("secondary synthesis backend: %w", err)
	}

	broadcaster, err := r.newBroadcaster()
	if err != nil {
		return pipeline.Deps{}, err
	}

	return pipeline.Deps{
		Recognizer:  recognizer,
		Translator:  translator,
		Synth:       synth.NewChain(primary, secondary, time.Duration(r.cfg.Pipeline.SynthesisTimeoutMS)*time.Millisecond, r.logger),
		Broadcaster: broadcaster,
		Bus:         r.bus,
	}, nil
}

func (r *Runtime) newBroadcaster() (transport.Broadcaster, error) {
	switch r.cfg.Transport.Mode {
	case "nats":
		if r.bus == nil {
			return nil, errors.New("nats transport requires a bus connection")
		}
		return transport.NewNATSBroadcaster(r.bus, r.cfg.Transport.Room, r.logger), nil
	case "mock":
		return transport.NewMockBroadcaster(), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", r.cfg.Transport.Mode)
	}
}

func newRecognizer(cfg config.RecognizerConfig) (recognize.Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return recognize.NewMockRecognizer(), nil
	case "exec":
		return recognize.NewExecRecognizer(cfg)
	case "http":
		return recognize.NewHTTPRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", cfg.Mode)
	}
}

func newTranslator(cfg config.TranslatorConfig, logger *slog.Logger) (translate.Translator, error) {
	switch cfg.Mode {
	case "mock":
		return translate.NewMockTranslator(), nil
	case "chain":
		return translate.NewChainTranslator(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown translator mode %q", cfg.Mode)
	}
}

func newProfileBuilder(cfg config.ProfilesConfig) (voiceprofile.Builder, error) {
	switch cfg.BuildMode {
	case "mock":
		return voiceprofile.NewMockBuilder(cfg), nil
	case "exec":
		return voiceprofile.NewExecBuilder(cfg)
	default:
		return nil, fmt.Errorf("unknown profile build mode %q", cfg.BuildMode)
	}
}

// profileSource narrows the lifecycle to what synthesis needs: is this
// speaker's cloned voice usable right now, and where is its artifact.
type profileSource struct {
	profiles *voiceprofile.Lifecycle
}

func (p *profileSource) ArtifactRef(ctx context.Context, speakerID string) (string, error) {
	profile, err := p.profiles.Status(ctx, speakerID)
	if err != nil {
		if errors.Is(err, voiceprofile.ErrNotFound) {
			return "", synth.ErrProfileNotReady
		}
		return "", err
	}
	if profile.Status != voiceprofile.StatusReady {
		return "", synth.ErrProfileNotReady
	}
	return profile.ArtifactRef, nil
}
