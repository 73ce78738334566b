// Command corpus runs the meeting corpus pipeline: batch processing of
// recorded meetings, interactive speaker assignment, corpus organization,
// and the review API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codebuildervaibhav/meeting-corpus/internal/assign"
	"github.com/codebuildervaibhav/meeting-corpus/internal/audio"
	"github.com/codebuildervaibhav/meeting-corpus/internal/config"
	"github.com/codebuildervaibhav/meeting-corpus/internal/diarize"
	"github.com/codebuildervaibhav/meeting-corpus/internal/organize"
	"github.com/codebuildervaibhav/meeting-corpus/internal/orchestrate"
	"github.com/codebuildervaibhav/meeting-corpus/internal/server"
	"github.com/codebuildervaibhav/meeting-corpus/internal/session"
	"github.com/codebuildervaibhav/meeting-corpus/internal/storage"
	"github.com/codebuildervaibhav/meeting-corpus/internal/transcribe"
	"github.com/codebuildervaibhav/meeting-corpus/internal/types"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	log.SetFlags(log.LstdFlags)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "process":
		err = runProcess(os.Args[2:])
	case "assign":
		err = runAssign(os.Args[2:])
	case "organize":
		err = runOrganize(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: corpus <command> [flags]

Commands:
  process   Diarize and transcribe every recording in the input queue
  assign    Interactively assign speaker names to sessions awaiting review
  organize  Rebuild the speaker corpus from all processed sessions
  serve     Run the review API server

Run "corpus <command> -h" for command flags.`)
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist at the default path.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) && path == defaultConfigPath {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newBuilder(cfg *config.Config, store *session.Store) *organize.Builder {
	return organize.NewBuilder(store, cfg.Directories.Corpus,
		cfg.Corpus.MinTotalSeconds, cfg.Corpus.Sentinels, cfg.Corpus.Aliases)
}

func openIndex(cfg *config.Config) *storage.Index {
	if cfg.Storage.Database == "" {
		return nil
	}
	ix, err := storage.OpenIndex(cfg.Storage.Database)
	if err != nil {
		log.Printf("Session index unavailable: %v", err)
		return nil
	}
	return ix
}

func runProcess(args []string) error {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	retryFailed := fs.Bool("retry-failed", false, "clear diarization failure markers before processing")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	token, err := cfg.RequireToken()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store := session.NewStore(cfg.Directories.Sessions)
	if *retryFailed {
		failed, err := store.ListByStatus(types.StatusDiarizationFailed)
		if err != nil {
			return err
		}
		for _, name := range failed {
			if err := store.ClearFailure(name); err != nil {
				return err
			}
			log.Printf("Cleared failure marker for %s", name)
		}
	}
	index := openIndex(cfg)
	if index != nil {
		defer index.Close()
	}

	pipeline := &orchestrate.Pipeline{
		Cfg:         cfg,
		Store:       store,
		Extractor:   audio.FFmpeg{},
		Diarizer:    diarize.NewCommand(cfg.Diarizer.Command, cfg.Diarizer.Args, cfg.Diarizer.TokenEnv, token),
		Transcriber: transcribe.NewWhisperCommand(cfg.Whisper.Model, cfg.Whisper.Language),
	}
	if index != nil {
		pipeline.Observer = func(name, source string, status types.Status) {
			if err := index.Upsert(name, source, status, time.Now().UTC()); err != nil {
				log.Printf("Indexing session %s: %v", name, err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("Batch finished: %d processed, %d skipped, %d failed",
		report.Processed, report.Skipped, report.Failed)
	return nil
}

func runAssign(args []string) error {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	sessionName := fs.String("session", "", "assign only this session")
	force := fs.Bool("force", false, "re-assign a completed session, replacing its mapping")
	fs.Parse(args)

	if *force && *sessionName == "" {
		return fmt.Errorf("-force requires -session")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.Directories.Sessions)
	builder := newBuilder(cfg, store)
	index := openIndex(cfg)
	if index != nil {
		defer index.Close()
	}

	var exporter *storage.DriveExporter
	if cfg.GoogleDrive.CredentialsFile != "" {
		if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
			exporter, err = storage.NewDriveExporter(
				cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile, cfg.GoogleDrive.FolderName)
			if err != nil {
				log.Printf("Google Drive export unavailable: %v", err)
			}
		}
	}

	stage := &assign.Stage{
		Store:    store,
		Prompter: assign.NewConsole(os.Stdin, os.Stdout),
		Samples:  cfg.Assignment.SamplesPerSpeaker,
		Force:    *force,
		AfterComplete: func() error {
			_, err := builder.Rebuild(time.Now().UTC())
			return err
		},
	}

	names := []string{*sessionName}
	if *sessionName == "" {
		names, err = store.ListByStatus(types.StatusAwaitingAssignment)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			log.Println("No sessions awaiting assignment")
			return nil
		}
	}

	for _, name := range names {
		if err := stage.Run(name, time.Now().UTC()); err != nil {
			return err
		}
		if index != nil {
			if err := index.Upsert(name, "", types.StatusCompleted, time.Now().UTC()); err != nil {
				log.Printf("Indexing session %s: %v", name, err)
			}
		}
		if exporter != nil {
			exportSession(store, exporter, name)
		}
	}
	return nil
}

// exportSession uploads a completed session's transcript to Google Drive.
func exportSession(store *session.Store, exporter *storage.DriveExporter, name string) {
	ft, err := store.LoadFinal(name)
	if err != nil {
		log.Printf("Exporting %s: %v", name, err)
		return
	}
	text, err := os.ReadFile(filepath.Join(store.Dir(name), "metadata", name+"_final_transcript.txt"))
	if err != nil {
		log.Printf("Exporting %s: %v", name, err)
		return
	}
	url, err := exporter.Export(ft, text)
	if err != nil {
		log.Printf("Exporting %s: %v", name, err)
		return
	}
	log.Printf("Exported %s to %s", name, url)
}

func runOrganize(args []string) error {
	fs := flag.NewFlagSet("organize", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.Directories.Sessions)
	summary, err := newBuilder(cfg, store).Rebuild(time.Now().UTC())
	if err != nil {
		return err
	}
	log.Printf("Corpus rebuilt: %d identities (%d eligible), %d segments, %.1fs total across %d sessions",
		summary.Identities, summary.Eligible, summary.Segments, summary.Duration, summary.Sessions)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logBuffer := server.NewLogBuffer()
	log.SetOutput(io.MultiWriter(os.Stdout, logBuffer))

	store := session.NewStore(cfg.Directories.Sessions)
	builder := newBuilder(cfg, store)
	index := openIndex(cfg)
	if index != nil {
		defer index.Close()
	}

	if cfg.Directories.Scratch != "" {
		if err := os.MkdirAll(cfg.Directories.Scratch, 0755); err != nil {
			return err
		}
		janitor := storage.NewScratchJanitor(cfg.Directories.Scratch,
			cfg.Cleanup.IntervalMinutes, cfg.Cleanup.MaxAgeHours)
		janitor.Start()
		defer janitor.Stop()
	}

	srv := server.New(cfg, store, builder, index, logBuffer)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint
		log.Println("Shutting down gracefully...")
		srv.Shutdown()
	}()

	return srv.Listen()
}
