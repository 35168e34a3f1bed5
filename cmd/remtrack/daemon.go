package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/remtrack/remtrack/internal/config"
	"github.com/remtrack/remtrack/internal/csvlog"
	"github.com/remtrack/remtrack/internal/daemon"
	"github.com/remtrack/remtrack/internal/database"
	"github.com/remtrack/remtrack/internal/focus"
	"github.com/remtrack/remtrack/internal/idle"
	"github.com/remtrack/remtrack/internal/profiles"
	"github.com/remtrack/remtrack/internal/scanner"
	"github.com/remtrack/remtrack/internal/suspend"
	"github.com/remtrack/remtrack/internal/tracker"
)

const daemonChildEnv = "REMTRACK_DAEMON_CHILD"

// loadConfig builds the effective configuration: defaults, then the
// optional config file, then environment, then command-line flags.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()

	if flagConfig != "" {
		if err := config.LoadFile(cfg, flagConfig); err != nil {
			return nil, err
		}
	}

	config.LoadFromEnv(cfg)

	if flagCSVPath != "" {
		cfg.Log.CSVPath = flagCSVPath
	}
	if flagIdleThreshold > 0 {
		if err := cfg.SetIdleThresholdMinutes(flagIdleThreshold); err != nil {
			return nil, err
		}
	}
	if flagNoIdle {
		cfg.Monitor.IdleEnabled = false
	}
	if flagLogFile != "" {
		cfg.Daemon.LogFile = flagLogFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, foreground bool) {
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if foreground || cfg.Daemon.LogFile == "" {
		return
	}

	logFile, err := os.OpenFile(cfg.Daemon.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logrus.Warnf("cannot open log file %s, logging to stderr: %v", cfg.Daemon.LogFile, err)
		return
	}
	logrus.SetOutput(logFile)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg, true)
			return runDaemon(cfg, nil)
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the monitoring daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			dm := daemon.New(cfg.Daemon.PIDFile)
			running, pid, err := dm.IsRunning()
			if err != nil {
				return fmt.Errorf("failed to check daemon status: %w", err)
			}
			if running {
				return fmt.Errorf("daemon is already running (PID: %d)", pid)
			}

			if os.Getenv(daemonChildEnv) != "1" {
				return daemonize(cfg)
			}

			setupLogging(cfg, false)
			return runDaemon(cfg, dm)
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the monitoring daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			dm := daemon.New(cfg.Daemon.PIDFile)
			running, pid, err := dm.IsRunning()
			if err != nil {
				return fmt.Errorf("failed to check daemon status: %w", err)
			}
			if !running {
				fmt.Println("Daemon is not running")
				return nil
			}

			fmt.Printf("Stopping daemon (PID: %d)...\n", pid)
			if err := dm.Stop(); err != nil {
				return err
			}
			fmt.Println("Daemon stopped successfully")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and probe results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			dm := daemon.New(cfg.Daemon.PIDFile)
			running, pid, err := dm.IsRunning()
			if err != nil {
				return fmt.Errorf("failed to check daemon status: %w", err)
			}

			if running {
				fmt.Printf("Status: Running (PID: %d)\n", pid)
			} else {
				fmt.Println("Status: Not running")
			}
			fmt.Printf("CSV log: %s\n", cfg.Log.CSVPath)
			fmt.Printf("Idle threshold: %v (enabled: %v)\n", cfg.Monitor.IdleThreshold, cfg.Monitor.IdleEnabled)

			idleSrc := idle.New()
			if idleSrc.Available() {
				fmt.Printf("Idle detection: %s (current: %dms)\n", idleSrc.Backend(), idleSrc.IdleMs())
			} else {
				fmt.Println("Idle detection: unavailable")
			}

			focusSrc := focus.New()
			defer focusSrc.Close()
			fmt.Printf("Display server: %s\n", focusSrc.DisplayServer())
			fmt.Printf("Client focused: %v\n", focusSrc.ClientFocused())

			sessions := scanner.New().Scan()
			fmt.Printf("Active sessions: %d\n", len(sessions))
			for _, sess := range sessions {
				fmt.Printf("  %s | %s | %s\n", sess.Server, sess.Protocol, sess.ProcessName)
			}
			return nil
		},
	}
}

// runDaemon wires the collaborators together and runs the tracker
// loop until a termination signal arrives.
func runDaemon(cfg *config.Config, dm *daemon.Daemon) error {
	log := logrus.WithField("component", "main")

	// The CSV sink is the whole point of the daemon; failing to create
	// it is fatal.
	recorder, err := csvlog.New(cfg.Log.CSVPath, cfg.Log.Retention)
	if err != nil {
		return fmt.Errorf("failed to initialize csv log: %w", err)
	}

	// The database mirror only feeds reports; run without it on error.
	var store tracker.EventStore
	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		log.Warnf("report database unavailable: %v", err)
	} else {
		defer db.Close()
		if err := db.Initialize(); err != nil {
			log.Warnf("report database init failed: %v", err)
		} else {
			store = database.NewRepository(db)
		}
	}

	profileStore := profiles.NewStore(cfg.Profiles.Dir)
	defer profileStore.Close()
	if err := profileStore.Watch(); err != nil {
		log.Warnf("profile watching disabled: %v", err)
	}

	var idleSrc *idle.Source
	var focusSrc *focus.Source
	if cfg.Monitor.IdleEnabled {
		idleSrc = idle.New()
		if !idleSrc.Available() {
			log.Warn("idle detection NOT available - install xprintidle")
		}
		focusSrc = focus.New()
		defer focusSrc.Close()
	}

	suspendMon := suspend.New()
	var suspendEvents <-chan suspend.Event
	if err := suspendMon.Start(); err != nil {
		log.Warnf("sleep/wake awareness disabled: %v", err)
	} else {
		suspendEvents = suspendMon.Events()
		defer suspendMon.Stop()
	}

	if dm != nil {
		if err := dm.WritePID(); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer dm.RemovePID()
	}

	scan := scanner.New()
	deps := tracker.Deps{
		Scanner:       scan,
		Killer:        scan,
		Recorder:      recorder,
		Resolver:      profileStore,
		Store:         store,
		SuspendEvents: suspendEvents,
	}
	if idleSrc != nil {
		deps.Idle = idleSrc
	}
	if focusSrc != nil {
		deps.Focus = focusSrc
	}

	svc := tracker.NewService(cfg, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Infof("received signal %v, shutting down", sig)
		svc.Stop()
	}()

	log.Infof("remtrack %s starting", version)
	log.Infof("configuration:\n%s", cfg.String())

	if err := svc.Start(ctx); err != nil && err != context.Canceled {
		return err
	}

	log.Info("daemon stopped")
	return nil
}

// daemonize re-executes the binary detached from the terminal, with
// the child marker set so the new process runs the daemon for real.
func daemonize(cfg *config.Config) error {
	env := os.Environ()
	env = append(env, daemonChildEnv+"=1")

	procAttr := &os.ProcAttr{
		Env:   env,
		Files: []*os.File{nil, nil, nil}, // stdin, stdout, stderr to /dev/null
		Sys: &syscall.SysProcAttr{
			Setsid: true, // Create new session
		},
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot resolve executable path: %w", err)
	}

	process, err := os.StartProcess(exe, os.Args, procAttr)
	if err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	fmt.Printf("Daemon started successfully (PID: %d)\n", process.Pid)
	fmt.Printf("Logs: %s\n", cfg.Daemon.LogFile)
	return nil
}
