package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/martinemde/planwright/architect"
	"github.com/martinemde/planwright/config"
	"github.com/martinemde/planwright/developer"
	"github.com/martinemde/planwright/events"
	"github.com/martinemde/planwright/llm"
	"github.com/martinemde/planwright/logging"
	"github.com/martinemde/planwright/orchestrator"
	"github.com/martinemde/planwright/runstate"
	"github.com/martinemde/planwright/workspace"
)

type flags struct {
	configFile string
	dir        string
	verbose    bool
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"model":      "llm.model",
	"provider":   "llm.provider",
	"store":      "store.driver",
	"store-path": "store.path",
	"log-level":  "logging.level",
}

// app is everything a command needs, built once per invocation.
type app struct {
	cfg     *config.Config
	ws      *workspace.FSWorkspace
	logger  *logging.Logger
	store   runstate.Store
	emitter *events.Emitter
	orch    *orchestrator.Orchestrator
	printer *printer

	closers []func() error
}

func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	v, err := config.NewViper(f.configFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(cmd, v); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for name, key := range flagKeys {
		fl := cmd.Flags().Lookup(name)
		if fl == nil || !fl.Changed {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// newApp wires config, logging, the workspace and the checkpoint store. The
// reasoning client is only built when withClient is set, so listing runs
// needs no credentials.
func newApp(cmd *cobra.Command, o *options, f *flags, withClient bool) (*app, error) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	if cfg.Logging.Dir != "" {
		a.logger, err = logging.NewFileLogger(cfg.Logging.Dir, cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.logger.Close)
	} else {
		a.logger = logging.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	}

	a.ws, err = workspace.NewOS(f.dir)
	if err != nil {
		a.close()
		return nil, err
	}

	storePath := cfg.Store.Path
	if storePath != "" && storePath != ":memory:" && !filepath.IsAbs(storePath) {
		storePath = filepath.Join(a.ws.Root(), storePath)
	}
	store, closeStore, err := runstate.OpenStore(cmd.Context(), cfg.Store.Driver, storePath)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	if !withClient {
		return a, nil
	}

	client := o.client
	if client == nil {
		c, err := llm.NewClientFromSettings(llmSettings(cfg, a.logger))
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		client = c
	}

	a.emitter = events.NewEmitter("", 1024)
	a.printer = newPrinter(cmd.OutOrStdout(), a.emitter, f.verbose)
	a.orch = orchestrator.New(client, a.ws,
		orchestrator.WithStore(a.store),
		orchestrator.WithEmitter(a.emitter),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithArchitectConfig(architectConfig(cfg)),
		orchestrator.WithDeveloperConfig(developerConfig(cfg)),
	)
	return a, nil
}

// flush stops the event stream and waits until every event is printed.
func (a *app) flush() {
	if a.emitter == nil {
		return
	}
	a.emitter.Close()
	a.printer.wait()
}

// close flushes events, then runs closers in reverse order of acquisition.
func (a *app) close() {
	a.flush()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "planwright: close: %v\n", err)
		}
	}
	a.closers = nil
}

func llmSettings(cfg *config.Config, logger *logging.Logger) llm.Settings {
	retry := llm.DefaultRetryPolicy()
	retry.MaxRetries = cfg.LLM.MaxRetries
	return llm.Settings{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Retry:       retry,
		Logger:      logger.Slog(),
	}
}

func architectConfig(cfg *config.Config) architect.Config {
	temp, maxTokens := cfg.LLM.Temperature, cfg.LLM.MaxTokens
	return architect.Config{
		Model:                   cfg.LLM.Model,
		Temperature:             &temp,
		MaxTokens:               &maxTokens,
		MaxHypothesisRejections: cfg.Research.MaxHypothesisRejections,
		MaxResearchCycles:       cfg.Research.MaxCycles,
		ToolRounds:              cfg.Research.ToolRounds,
	}
}

func developerConfig(cfg *config.Config) developer.Config {
	temp, maxTokens := cfg.LLM.Temperature, cfg.LLM.MaxTokens
	return developer.Config{
		Model:           cfg.LLM.Model,
		Temperature:     &temp,
		MaxTokens:       &maxTokens,
		MaxDiffAttempts: cfg.Execution.MaxDiffAttempts,
		ToolRounds:      cfg.Execution.ToolRounds,
		StalePolicy:     developer.StalePolicy(cfg.Execution.StalePolicy),
	}
}
