package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	vqabuilder "github.com/menta2k/vqa-builder"
	"github.com/menta2k/vqa-builder/internal/config"
	"github.com/menta2k/vqa-builder/internal/server"
	"github.com/menta2k/vqa-builder/internal/utils"
	"github.com/menta2k/vqa-builder/pkg/client"
	"github.com/menta2k/vqa-builder/pkg/detection"
	"github.com/menta2k/vqa-builder/pkg/imageio"
	"github.com/menta2k/vqa-builder/pkg/llamacpp"
	"github.com/menta2k/vqa-builder/pkg/ollama"
)

func main() {
	var configPath, addr, datasetPath string
	var debug bool

	flag.StringVar(&configPath, "config", "", "config file (json or yaml), default "+config.GetConfigPath())
	flag.StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	flag.BoolVar(&debug, "debug", false, "enable debug logging and gin debug mode")
	flag.StringVar(&datasetPath, "dataset", "", "dataset file to load at startup")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config path] [-addr :8080] [-debug] [-dataset file.json]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	cfg.ApplyEnv()
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if debug {
		cfg.Server.Debug = true
		cfg.Server.LogLevel = "debug"
	}
	if datasetPath == "" {
		datasetPath = cfg.Dataset.DefaultFile
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level, err := log.ParseLevel(strings.ToLower(cfg.Server.LogLevel)); err == nil {
		log.SetLevel(level)
	}
	log.Infof("Starting vqa-builder %s...", vqabuilder.GetVersion())

	builder := vqabuilder.NewWithConfig(vqabuilder.Config{
		Display: imageio.Config{
			MaxWidth:         cfg.Display.MaxWidth,
			MaxHeight:        cfg.Display.MaxHeight,
			Timeout:          imageio.DefaultConfig().Timeout,
			MaxDownloadBytes: int64(cfg.Display.MaxDownloadMB) << 20,
		},
		MinBoxSize:    cfg.Annotation.MinBoxSize,
		MapToOriginal: cfg.Annotation.MapToOriginal,
	})

	if cfg.AssistEnabled() {
		assistant, err := newAssistant(cfg.Assist)
		if err != nil {
			log.Fatalf("Failed to create %s client: %v", cfg.Assist.Backend, err)
		}
		builder.SetAssistant(assistant)
		log.WithFields(log.Fields{"backend": cfg.Assist.Backend, "model": cfg.Assist.Model}).Info("Vision assist enabled")
	}

	if datasetPath != "" && utils.FileExists(datasetPath) {
		if err := builder.Load(datasetPath); err != nil {
			log.WithError(err).Warn("Could not load dataset")
		}
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(builder, server.Options{
			Debug:          cfg.Server.Debug,
			DisplayFormat:  cfg.Display.Format,
			DisplayQuality: cfg.Display.Quality,
		}).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 6 * time.Minute,
	}

	go func() {
		log.Infof("Listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	log.Info("Server exiting")
}

// loadConfig reads path, or the default config file when it exists
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
		if !utils.FileExists(path) {
			return config.Default(), nil
		}
	}
	return config.LoadFromFile(path)
}

func newAssistant(cfg config.AssistConfig) (*vqabuilder.Assistant, error) {
	var visionClient client.VisionClient
	var err error

	switch cfg.Backend {
	case "ollama":
		visionClient, err = ollama.NewClient(cfg.URL)
	case "llamacpp":
		visionClient, err = llamacpp.NewClient(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &vqabuilder.Assistant{
		Detector:    detection.NewDetector(visionClient),
		Model:       cfg.Model,
		SendSize:    cfg.SendSize,
		SendQuality: cfg.SendQuality,
	}, nil
}
