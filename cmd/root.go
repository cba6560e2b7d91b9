package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/parley/internal/backend"
	_ "github.com/zjrosen/parley/internal/backend/mock" // register the mock backend
	"github.com/zjrosen/parley/internal/chatlog"
	"github.com/zjrosen/parley/internal/config"
	"github.com/zjrosen/parley/internal/conversation"
	"github.com/zjrosen/parley/internal/flags"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/loop"
	"github.com/zjrosen/parley/internal/notice"
	"github.com/zjrosen/parley/internal/persona"
	"github.com/zjrosen/parley/internal/tracing"
	"github.com/zjrosen/parley/internal/workflow"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "A multi-persona deliberation driver",
	Long: `Parley rotates a set of persona profiles through turns against an LLM
backend while a workflow stage machine nudges the group from open
brainstorming toward one locked decision and a concrete next action.`,
	Version: version,
	RunE:    runSession,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .parley/config.yaml or ~/.config/parley/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false,
		"enable debug logging to .parley/debug.log")
	rootCmd.Flags().String("backend", "",
		"backend type override (\"ollama\" or \"mock\")")
	rootCmd.Flags().String("model", "",
		"model name override")
	rootCmd.Flags().String("seed", "",
		"seed prompt override for a fresh conversation")

	_ = viper.BindPFlag("backend.type", rootCmd.Flags().Lookup("backend"))
	_ = viper.BindPFlag("backend.model", rootCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("seed_prompt", rootCmd.Flags().Lookup("seed"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("personas_dir", defaults.PersonasDir)
	viper.SetDefault("state_dir", defaults.StateDir)
	viper.SetDefault("seed_prompt", defaults.SeedPrompt)
	viper.SetDefault("log_level", defaults.LogLevel)
	viper.SetDefault("backend.type", defaults.Backend.Type)
	viper.SetDefault("backend.model", defaults.Backend.Model)
	viper.SetDefault("backend.host", defaults.Backend.Host)
	viper.SetDefault("loop.turn_delay", defaults.Loop.TurnDelay)
	viper.SetDefault("loop.retained_cycles", defaults.Loop.RetainedCycles)
	viper.SetDefault("loop.cycle_window", defaults.Loop.CycleWindow)
	viper.SetDefault("loop.max_attempts", defaults.Loop.MaxAttempts)
	viper.SetDefault("loop.strict_specials", defaults.Loop.StrictSpecials)
	viper.SetDefault("loop.notice_interval", defaults.Loop.NoticeInterval)
	viper.SetDefault("chat_log.path", defaults.ChatLog.Path)
	viper.SetDefault("chat_log.wrap_width", defaults.ChatLog.WrapWidth)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .parley/config.yaml (current directory)
		// 2. ~/.config/parley/config.yaml (user config)
		if _, err := os.Stat(".parley/config.yaml"); err == nil {
			viper.SetConfigFile(".parley/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "parley"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config anywhere: create a starter at .parley/config.yaml.
			defaultPath := ".parley/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		} else {
			// A config file exists but cannot be read. Running silently
			// on defaults would mask the typo, so say so.
			fmt.Fprintf(os.Stderr, "warning: ignoring config file %s: %v\n",
				viper.ConfigFileUsed(), err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: ignoring invalid config values: %v\n", err)
	}
}

func runSession(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug || os.Getenv("PARLEY_DEBUG") != "" {
		cleanup, err := log.Init(filepath.Join(".parley", "debug.log"))
		if err != nil {
			return fmt.Errorf("initializing debug log: %w", err)
		}
		defer cleanup()
		log.SetEnabled(true)
		log.SetMinLevel(log.ParseLevel(cfg.LogLevel))
	}

	flagRegistry := flags.New(cfg.Flags)
	if flagRegistry.Enabled(flags.FlagLiveLog) {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		events := log.Subscribe(ctx)
		log.SafeGo("live-log", func() {
			for event := range events {
				fmt.Fprint(os.Stderr, event.Payload)
			}
		})
	}

	personas, err := persona.Load(cfg.PersonasDir)
	if err != nil {
		// Fatal configuration error, reported once.
		return fmt.Errorf("loading personas from %s: %w", cfg.PersonasDir, err)
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Exporter == "file" && cfg.Tracing.FilePath == "" {
		cfg.Tracing.FilePath = config.DefaultTracesFilePath()
	}
	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	b, err := backend.New(backend.Type(cfg.Backend.Type), backend.Options{
		Host:    cfg.Backend.Host,
		Timeout: cfg.Backend.Timeout,
	})
	if err != nil {
		return fmt.Errorf("configuring backend (registered types: %v): %w", backend.Registered(), err)
	}

	chat, err := chatlog.NewWriter(chatlog.Config{
		Path:          cfg.ChatLog.Path,
		MirrorKeyword: cfg.ChatLog.MirrorKeyword,
		MirrorPath:    cfg.ChatLog.MirrorPath,
		WrapWidth:     cfg.ChatLog.WrapWidth,
	})
	if err != nil {
		return err
	}
	defer func() { _ = chat.Close() }()

	var notices *notice.Source
	if cfg.Loop.NoticeFile != "" {
		notices, err = notice.NewSource(cfg.Loop.NoticeFile, cfg.Loop.NoticeInterval)
		if err != nil {
			return err
		}
		defer func() { _ = notices.Close() }()
	}

	contextBlocks, err := loadContextBlocks(cfg.ContextDir)
	if err != nil {
		return err
	}

	session, err := loop.New(loop.Config{
		Personas:       personas,
		Backend:        b,
		Model:          cfg.Backend.Model,
		SeedPrompt:     cfg.SeedPrompt,
		ContextBlocks:  contextBlocks,
		TurnDelay:      cfg.Loop.TurnDelay,
		RetainedCycles: cfg.Loop.RetainedCycles,
		CycleWindow:    cfg.Loop.CycleWindow,
		MaxAttempts:    cfg.Loop.MaxAttempts,
		StrictSpecials: cfg.Loop.StrictSpecials,
		Store:          conversation.NewStore(cfg.ConversationPath()),
		StateStore:     workflow.NewStateStore(cfg.WorkflowStatePath()),
		Chat:           chat,
		Notices:        notices,
		Flags:          flagRegistry,
		Tracer:         provider.Tracer(),
		Rand:           rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // G404: rotation shuffle
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return session.Run(ctx)
}

// loadContextBlocks reads the shared context files in lexical order. A
// missing directory is not an error.
func loadContextBlocks(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading context directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var blocks []string
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // G304: path comes from trusted config
		if err != nil {
			return nil, fmt.Errorf("reading context file %s: %w", name, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			blocks = append(blocks, text)
		}
	}
	return blocks, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
