package main

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"council/internal/debate"
	"council/internal/display"
	"council/internal/embedding"
	"council/internal/gamestate"
	"council/internal/gateway"
	"council/internal/orchestrator"
	"council/internal/persona"
	"council/internal/prompt"
	"council/internal/router"
	"council/internal/ruling"
	"council/internal/store"
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Ask the council a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildSession(cmd.Context())
		if err != nil {
			return err
		}
		defer env.close()

		out, err := env.session.Turn(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

// sessionEnv bundles a live session with the resources it holds open.
type sessionEnv struct {
	session *orchestrator.Session
	store   *store.Store
	watcher *prompt.RulesWatcher
}

func (e *sessionEnv) close() {
	if e.watcher != nil {
		e.watcher.Stop()
	}
	if e.store != nil {
		e.store.Close()
	}
}

// buildSession wires the full pipeline from configuration.
func buildSession(ctx context.Context) (*sessionEnv, error) {
	registry, err := persona.Load(cfg.Personas.Dir)
	if err != nil {
		return nil, err
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		logger.Warn("embedding engine unavailable, implicit routing disabled", zap.Error(err))
		engine = nil
	}
	if engine != nil {
		if err := registry.ComputeDomainVectors(ctx, engine); err != nil {
			logger.Warn("domain vectors unavailable, implicit routing disabled", zap.Error(err))
			engine = nil
		}
	}

	st, err := store.Open(cfg.CampaignDBPath(), cfg.LogsDir())
	if err != nil {
		return nil, err
	}

	watcher, err := prompt.NewRulesWatcher(cfg.Personas.SystemPath)
	if err != nil {
		logger.Warn("rules watcher unavailable", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("rules watcher failed to start", zap.Error(err))
		watcher.Stop()
		watcher = nil
	}

	session := orchestrator.NewSession(cfg, orchestrator.Deps{
		Registry:  registry,
		Router:    router.New(registry, engine, cfg.Routing.MainThreshold, cfg.Routing.SupportThreshold),
		Assembler: prompt.New(cfg.Personas.SystemPath, cfg.Report.LineBudget),
		Gateway:   gateway.NewHTTPClient(cfg.Gateway),
		Validator: ruling.New(st, ruling.LogExecutor{}),
		Store:     st,
		State:     gamestate.New(cfg.Campaign.Dir),
		Formatter: display.New(plain),
		Selector:  debate.NewSelector(rand.New(rand.NewSource(time.Now().UnixNano()))),
	})

	return &sessionEnv{session: session, store: st, watcher: watcher}, nil
}

// runInteractive is the default play loop: read a query, run a turn, print.
func runInteractive(ctx context.Context) error {
	env, err := buildSession(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	fmt.Printf("council session %s | tier %d | type 'quit' to leave\n\n",
		env.session.ID(), env.session.Tier())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "quit" || query == "exit" {
			break
		}

		out, err := env.session.Turn(ctx, query)
		if err != nil {
			fmt.Println(display.New(plain).System("turn not recorded: " + err.Error()))
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
		fmt.Println()
	}
	return scanner.Err()
}
