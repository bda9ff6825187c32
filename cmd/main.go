package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fablecast/server/internal/analytics"
	"fablecast/server/internal/channels"
	"fablecast/server/internal/config"
	"fablecast/server/internal/engine"
	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/persona"
	"fablecast/server/internal/provider"
	"fablecast/server/internal/recall"
	"fablecast/server/internal/registry"
	"fablecast/server/internal/session"
	"fablecast/server/internal/storage"
	"fablecast/server/internal/story"
	"fablecast/server/internal/web"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[Main] No config at %s, using defaults", *configPath)
		cfg = config.Default()
	} else if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level == "debug" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session repository and TTL sweep.
	repo, closeRepo, err := buildRepository(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeRepo()
	go storage.RunSweeper(ctx, repo, cfg.Storage.SweepInterval)

	store := session.NewStore(repo, cfg.Storage.SessionTTL)

	// Model registry and router.
	reg := registry.NewRegistry()
	for i := range cfg.Models {
		if err := reg.Register(&cfg.Models[i]); err != nil {
			log.Fatalf("Failed to register model %s: %v", cfg.Models[i].ID, err)
		}
	}
	modelRouter := registry.NewRouter(reg)
	log.Printf("[Main] Registered %d models", len(cfg.Models))

	seed := cfg.Narrative.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Provider client drives generation, embeddings and health probes.
	// Without a key the server still runs on canned generation.
	var generator engine.ResponseGenerator
	var embedder interfaces.Embedder
	if cfg.Provider.APIKey != "" {
		client := provider.NewClient(cfg.Provider)
		generator = engine.NewModelGenerator(client)
		embedder = client

		monitor := registry.NewHealthMonitor(reg, client, cfg.Routing.HealthInterval, cfg.Routing.ProbeTimeout)
		monitor.Start()
		defer monitor.Stop()
	} else {
		log.Printf("[Main] No provider API key, using canned generation")
		generator = engine.NewRuleTableGenerator(rand.New(rand.NewSource(seed)))
	}

	// Personas.
	personas := persona.NewManager(rand.New(rand.NewSource(seed + 1)))
	if cfg.Narrative.PersonasFile != "" {
		n, err := personas.LoadFile(cfg.Narrative.PersonasFile)
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[Main] No persona file at %s", cfg.Narrative.PersonasFile)
		} else if err != nil {
			log.Fatalf("Failed to load personas: %v", err)
		} else {
			log.Printf("[Main] Loaded %d personas from %s", n, cfg.Narrative.PersonasFile)
		}
	}

	// Stories: the built-in sample plus the catalog directory.
	stories := story.NewCatalog()
	if err := stories.Add(story.SampleStory()); err != nil {
		log.Fatalf("Failed to add sample story: %v", err)
	}
	if cfg.Narrative.StoriesDir != "" {
		if _, err := stories.LoadDir(cfg.Narrative.StoriesDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load stories: %v", err)
		}
	}

	// Channels: websocket text, TTS voice, queued visual, and the
	// hybrid fan-out over all three.
	hub := web.NewHub()
	go hub.Run()

	textAdapter := channels.NewTextAdapter(hub, 256)
	voiceAdapter := channels.NewVoiceAdapter(provider.NewSynthesizer(cfg.Speech), cfg.Speech.Timeout)
	visualAdapter := channels.NewVisualAdapter(channels.NewDescriptorRenderer(cfg.Narrative.AssetsDir), cfg.Narrative.VisualWorkers)
	visualAdapter.Start(ctx)

	channelRouter := channels.NewRouter(cfg.Routing.DefaultChannel)
	channelRouter.RegisterAdapter(textAdapter)
	channelRouter.RegisterAdapter(voiceAdapter)
	channelRouter.RegisterAdapter(visualAdapter)
	channelRouter.RegisterAdapter(channels.NewHybridAdapter(textAdapter, voiceAdapter, visualAdapter))

	hub.SetInputSink(func(input interfaces.PlayerInput) {
		if err := textAdapter.Inject(input); err != nil {
			log.Printf("[Main] Dropped input for session %s: %v", input.SessionID, err)
		}
	})

	// Event recall is best-effort: a missing index never blocks startup.
	var eventIndex interfaces.EventIndex
	if cfg.Recall.Enabled && embedder != nil {
		if index := connectRecall(ctx, cfg.Recall, embedder); index != nil {
			eventIndex = index
			defer index.Close()
		}
	}

	collector := analytics.NewCollector()

	eng, err := engine.NewEngine(engine.Config{
		Store:     store,
		Stories:   stories,
		Personas:  personas,
		Models:    modelRouter,
		Channels:  channelRouter,
		Generator: generator,
		Recall:    eventIndex,
		Analytics: collector,
		Routing: engine.RoutingOptions{
			Priority:         cfg.Routing.Priority,
			PreferUncensored: cfg.Routing.PreferUncensored,
		},
		GenerateTimeout: cfg.Routing.GenerateTimeout,
		RenderTTL:       cfg.Narrative.RenderTTL,
		RenderCacheSize: cfg.Narrative.RenderCacheSize,
		ArchiveDir:      cfg.Narrative.ArchiveDir,
	})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	// Inbound channel traffic drives the engine.
	go web.PumpInputs(ctx, textAdapter, eng)
	go web.PumpInputs(ctx, voiceAdapter, eng)

	handlers := web.NewHandlers(eng, stories, reg, personas, collector, hub)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      web.NewRouter(handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[Main] Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Main] Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] Forced shutdown: %v", err)
	}
	cancel()
	log.Println("[Main] Server stopped")
}

// buildRepository picks the session backend named in config.
func buildRepository(cfg *config.Config) (interfaces.SessionRepository, func(), error) {
	switch cfg.Storage.Backend {
	case "redis":
		repo, err := storage.NewRedisRepository(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[Main] Using redis session storage")
		return repo, func() { repo.Close() }, nil
	case "mysql":
		repo, err := storage.NewMySQLRepository(cfg.Storage.MySQL)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[Main] Using mysql session storage")
		return repo, func() { repo.Close() }, nil
	default:
		log.Printf("[Main] Using in-memory session storage")
		return storage.NewMemoryRepository(), func() {}, nil
	}
}

// connectRecall dials the event index and provisions its collection,
// returning nil when the index is unreachable.
func connectRecall(ctx context.Context, cfg config.RecallConfig, embedder interfaces.Embedder) *recall.EventIndex {
	index, err := recall.NewEventIndex(cfg, embedder)
	if err != nil {
		log.Printf("[Main] Recall disabled: %v", err)
		return nil
	}

	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	defer initCancel()
	if err := index.EnsureCollection(initCtx); err != nil {
		log.Printf("[Main] Recall disabled: %v", err)
		index.Close()
		return nil
	}
	log.Printf("[Main] Recall index connected (collection %s)", cfg.Collection)
	return index
}
