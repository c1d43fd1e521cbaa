package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-memory/config"
	"github.com/becomeliminal/nim-memory/engine"
	"github.com/becomeliminal/nim-memory/logger"
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/integration"
	"github.com/becomeliminal/nim-memory/tools"
)

// GeneratorFactory builds the generator for one session.
type GeneratorFactory func(cfg config.AnthropicConfig, tools engine.ToolExecutor, logger *log.Logger) (engine.Generator, error)

// app carries what every command needs. Tests replace the factories.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *log.Logger

	newManager   integration.Factory
	newGenerator GeneratorFactory

	in  io.Reader
	out io.Writer
}

func newApp() *app {
	return &app{
		newManager:   integration.NewManager,
		newGenerator: anthropicGenerator,
		in:           os.Stdin,
		out:          os.Stdout,
	}
}

func anthropicGenerator(cfg config.AnthropicConfig, tools engine.ToolExecutor, logger *log.Logger) (engine.Generator, error) {
	return engine.NewAnthropicGenerator(engine.AnthropicConfig{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		MaxTurns:  cfg.MaxTurns,
	}, tools, engine.WithGeneratorLogger(logger.WithPrefix("engine.anthropic")))
}

// load reads configuration and installs the process logger.
func (a *app) load() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	l, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, l
	return nil
}

// openManager builds and initialises a manager for direct memory commands.
func (a *app) openManager(ctx context.Context) (*memory.Manager, error) {
	if !a.cfg.Memory.Enabled {
		return nil, fmt.Errorf("%w: memory is disabled", memory.ErrConfiguration)
	}
	m, err := a.newManager(ctx, a.cfg.Memory, a.logger)
	if err != nil {
		return nil, err
	}
	if err := m.Initialize(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// newSession wires one agent: memory integration, memory tools and the
// generator. A non-nil shared manager is used instead of building one.
func (a *app) newSession(shared *memory.Manager) (*engine.Engine, error) {
	opts := []integration.Option{
		integration.WithLogger(a.logger.WithPrefix("memory.integration")),
		integration.WithFactory(a.newManager),
	}
	if shared != nil {
		opts = append(opts, integration.WithManager(shared))
	}
	mem := integration.New(a.cfg.Memory, opts...)

	memTools := tools.NewMemoryTools(mem, tools.WithLogger(a.logger.WithPrefix("tools.memory")))
	gen, err := a.newGenerator(a.cfg.Anthropic, memTools, a.logger)
	if err != nil {
		return nil, err
	}

	return engine.NewEngine(gen,
		engine.WithHooks(mem),
		engine.WithSystemPrompt(a.cfg.Agent.SystemPrompt),
		engine.WithLogger(a.logger.WithPrefix("engine")),
	)
}
