package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	chatbotwebui "github.com/MegaGrindStone/chatbot-web-ui"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/handlers"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/render"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/services"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/session"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/transcript"
	"gopkg.in/yaml.v3"
)

const (
	renderCacheSize = 512
	sweepInterval   = time.Minute
)

func main() {
	cfgFilePath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if *cfgFilePath == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
		}
		*cfgFilePath = filepath.Join(cfgDir, "chatbotwebui", "config.yaml")
	}

	cfg, err := loadConfig(*cfgFilePath)
	if err != nil {
		log.Fatal(err)
	}

	logger, logCloser, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating logger: %w", err))
	}
	defer logCloser.Close()

	completer, err := cfg.LLM.completer(cfg.Timeout, logger)
	if err != nil {
		logger.Error("Invalid llm config", slog.String("err", err.Error()))
		os.Exit(1)
	}
	var upstream handlers.Completer
	if cfg.LLM.proxies() {
		upstream = completer
	}

	highlighter := render.NewHighlighter(cfg.Style)
	renderer := render.NewRenderer(highlighter, renderCacheSize)
	sessions := session.NewManager(func() *transcript.Store {
		return transcript.New(cfg.SystemPrompt, completer, cfg.LLM.model(), logger)
	}, cfg.SessionTTL, logger)

	m, err := handlers.NewMain(renderer, sessions, upstream, logger)
	if err != nil {
		logger.Error("Failed to create handlers", slog.String("err", err.Error()))
		os.Exit(1)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Run(sweepCtx, sweepInterval)

	// Serve static files
	staticFS, err := fs.Sub(chatbotwebui.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/highlight.css", handlers.HandleHighlightCSS(highlighter))
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/sse", m.HandleSSE)
	mux.HandleFunc(services.ChatbotPath, m.HandleChatbot)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		stopSweep()
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("model", cfg.LLM.model()),
			slog.Bool("chatbotEndpoint", upstream != nil))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", slog.String("err", err.Error()))
		}

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}
