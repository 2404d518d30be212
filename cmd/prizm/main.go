// Command prizm runs the Prizm panel's sync layer from a terminal: it keeps
// the scope caches and the unified file list current from server push events,
// and offers one-shot subcommands for registration, connectivity checks, and
// chatting with the agent.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prizmhq/prizm-client/pkg/api"
	"github.com/prizmhq/prizm-client/pkg/bus"
	"github.com/prizmhq/prizm-client/pkg/chat"
	"github.com/prizmhq/prizm-client/pkg/config"
	"github.com/prizmhq/prizm-client/pkg/filelist"
	"github.com/prizmhq/prizm-client/pkg/logging"
	"github.com/prizmhq/prizm-client/pkg/push"
	"github.com/prizmhq/prizm-client/pkg/scope"
	"github.com/prizmhq/prizm-client/pkg/session"
	"github.com/prizmhq/prizm-client/pkg/storage"
)

func main() {
	var (
		configPath  = flag.String("config", "", "config file path (default ~/.prizm/config.yaml)")
		scopeName   = flag.String("scope", "default", "workspace scope to bind")
		debug       = flag.Bool("debug", false, "log debug events")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9127)")
	)
	flag.Usage = usage
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			fatal(err)
		}
		cfgPath = p
	}

	cfg, err := config.LoadFromPath(cfgPath)
	if err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	cmd := "run"
	if args := flag.Args(); len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "run":
		err = runPanel(cfg, *scopeName, *debug, *metricsAddr)
	case "register":
		err = runRegister(cfg, cfgPath, flag.Args()[1:])
	case "check":
		err = runCheck(cfg)
	case "chat":
		err = runChat(cfg, *scopeName)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `prizm - workspace panel sync client

Usage:
  prizm [flags]            run the sync layer until interrupted
  prizm [flags] register   register this panel with the server
  prizm [flags] check      probe server connectivity
  prizm [flags] chat       interactive agent chat in the bound scope

Flags:
`)
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "prizm: %v\n", err)
	os.Exit(1)
}

func newLogger(cfg *config.Config, debug bool) (*logging.Logger, error) {
	logDir := cfg.LogDir
	if logDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		logDir = filepath.Join(home, ".prizm", "logs")
	}
	logger, err := logging.NewLogger(logDir, cfg.Client.Name)
	if err != nil {
		return nil, err
	}
	if debug {
		logger.SetMinLevel(logging.LevelDebug)
	}
	return logger, nil
}

func openSnapshots(cfg *config.Config) (*storage.Store, error) {
	dbPath := cfg.CacheDB
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dbPath = filepath.Join(home, ".prizm", "cache.db")
	}
	return storage.New(dbPath)
}

func runPanel(cfg *config.Config, scopeName string, debug bool, metricsAddr string) error {
	logger, err := newLogger(cfg, debug)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetScope(scopeName)

	snapshots, err := openSnapshots(cfg)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	client := api.NewClient(cfg.ServerURL(), cfg.APIKey)
	b := bus.New()

	store := scope.New(b, scope.Options{
		Logger:    logger,
		Snapshots: snapshots,
		Debounce: scope.Debounce{
			Documents: cfg.Sync.DocumentsDebounce,
			Clipboard: cfg.Sync.ClipboardDebounce,
			Memory:    cfg.Sync.MemoryDebounce,
		},
	})
	defer store.Close()

	files := filelist.New(b, filelist.Options{
		Logger:    logger,
		Snapshots: snapshots,
		Windows: filelist.Windows{
			Fast: cfg.Sync.ListFastDebounce,
			Slow: cfg.Sync.ListSlowDebounce,
		},
	})
	defer files.Close()

	// After a push gap the caches may have missed events; refetch everything.
	resync := func() {
		files.Resync()
		go store.RefreshDocuments()
		go store.RefreshClipboard()
		go store.RefreshMemoryCounts()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go srv.ListenAndServe()
		defer srv.Shutdown(context.Background())
	}

	store.Bind(client, scopeName)
	files.Bind(client, scopeName)

	fmt.Printf("prizm: syncing scope %q from %s (ctrl-c to stop)\n", scopeName, cfg.ServerURL())

	var source interface {
		Run(ctx context.Context) error
	}
	switch cfg.Push.Transport {
	case config.PushTransportNATS:
		src := push.NewNATS(cfg.Push.NATSURL, b, logger)
		src.OnReconnect = resync
		source = src
	default:
		src := push.NewWebSocket(cfg.EventSocketURL(), cfg.APIKey, b, logger)
		src.OnReconnect = resync
		source = src
	}

	if err := source.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runRegister(cfg *config.Config, cfgPath string, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", cfg.Client.Name, "panel name to register as")
	fs.Parse(args)

	client := api.NewClient(cfg.ServerURL(), "")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	grant, err := client.Register(ctx, *name, nil)
	if err != nil {
		return err
	}

	cfg.Client.Name = *name
	cfg.APIKey = grant.APIKey
	if err := cfg.Save(cfgPath); err != nil {
		return err
	}

	fmt.Printf("registered as %s (client id %s), key saved to %s\n", *name, grant.ClientID, cfgPath)
	return nil
}

func runCheck(cfg *config.Config) error {
	client := api.NewClient(cfg.ServerURL(), cfg.APIKey)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", cfg.ServerURL(), err)
	}
	fmt.Printf("server %s: %s (%s)\n", cfg.ServerURL(), health.Status, time.Since(start).Round(time.Millisecond))
	return nil
}

func runChat(cfg *config.Config, scopeName string) error {
	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer logger.Close()

	client := api.NewClient(cfg.ServerURL(), cfg.APIKey)
	client.SetTimeout(0) // the chat stream can outlive any fixed timeout

	manager := session.NewManager(client, scopeName, session.Options{
		Logger:      logger,
		MaxResident: cfg.KeepAliveMax(),
	})
	defer manager.Close()

	engine, err := manager.Create(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("session %s in scope %q. Empty line quits; ctrl-c stops a running reply.\n", engine.SessionID(), scopeName)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			engine.StopGeneration()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}

		if err := engine.SendMessage(line); err != nil {
			fmt.Fprintf(os.Stderr, "prizm: %v\n", err)
			continue
		}
		for engine.Busy() {
			time.Sleep(50 * time.Millisecond)
		}

		switch engine.State() {
		case chat.StateErrored:
			fmt.Fprintf(os.Stderr, "prizm: %v\n", engine.Err())
		default:
			msgs := engine.Messages()
			if len(msgs) > 0 {
				last := msgs[len(msgs)-1]
				fmt.Println(last.Content)
				if engine.State() == chat.StateAborted {
					fmt.Println("[stopped]")
				}
			}
		}
	}
}
