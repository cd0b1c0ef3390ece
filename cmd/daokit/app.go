package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/who96/DAOKit/internal/config"
	"github.com/who96/DAOKit/internal/dispatch"
	"github.com/who96/DAOKit/internal/emit"
	"github.com/who96/DAOKit/internal/heartbeat"
	"github.com/who96/DAOKit/internal/ledger"
	"github.com/who96/DAOKit/internal/lease"
	"github.com/who96/DAOKit/internal/runtime"
	"github.com/who96/DAOKit/internal/store"
)

const leaseTTL = 10 * time.Minute

// app is the set of wired subsystems every subcommand but init needs. It is
// assembled once from the loaded config and torn down (where applicable) by
// the caller.
type app struct {
	cfg     config.Config
	store   store.Store
	ledger  *ledger.Ledger
	leases  *lease.Registry
	beats   *heartbeat.Evaluator
	runtime *runtime.Runtime
	closer  func() error
}

// newApp loads config for root and wires every subsystem a run needs:
// store, ledger, lease registry, heartbeat evaluator, dispatch backend, and
// the lifecycle runtime with its five nodes registered.
func newApp(ctx context.Context, root string, log zerolog.Logger) (*app, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	s, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	l := ledger.New(s, emit.NewLogEmitter(os.Stderr, false))
	leases := lease.New(s, leaseTTL, nil)
	beats := heartbeat.NewEvaluator(l, cfg.Heartbeat.WarningAfterSeconds, cfg.Heartbeat.StaleAfterSeconds, nil)

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("open dispatch backend: %w", err)
	}

	rt := runtime.New(l)
	nodes := &runtime.Nodes{
		Root:              filepath.Join(cfg.Root, "artifacts"),
		Backend:           backend,
		Rework:            dispatch.NewReworkTracker(cfg.Dispatch.MaxReworks),
		Leases:            leases,
		Heartbeats:        beats,
		Ledger:            l,
		RequireCommandLog: cfg.Acceptance.RequireCommandLog,
	}
	nodes.Wire(rt)

	log.Debug().Str("root", root).Str("store", string(cfg.Store.Driver)).Str("dispatch", string(cfg.Dispatch.Backend)).Msg("wired daokit runtime")

	return &app{cfg: cfg, store: s, ledger: l, leases: leases, beats: beats, runtime: rt, closer: closer}, nil
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func() error, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFile:
		return store.NewFileStore(cfg.Store.Root), nil, nil
	case config.StoreDriverSQLite:
		ts, err := store.NewTableStore(ctx, "sqlite", cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return ts, ts.Close, nil
	case config.StoreDriverMySQL:
		ts, err := store.NewTableStore(ctx, "mysql", cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return ts, ts.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openBackend(cfg config.Config) (dispatch.Backend, error) {
	switch cfg.Dispatch.Backend {
	case config.DispatchSubprocess:
		if len(cfg.Dispatch.Command) == 0 {
			return nil, fmt.Errorf("subprocess dispatch backend requires a command")
		}
		return dispatch.NewSubprocessBackend(cfg.Dispatch.Command, cfg.Dispatch.Timeout), nil
	case config.DispatchLLM:
		return dispatch.NewLLMBackend(dispatch.LLMConfig{
			Provider:    cfg.Dispatch.LLMProvider,
			APIKey:      cfg.Dispatch.LLMAPIKey,
			BaseURL:     cfg.Dispatch.LLMBaseURL,
			Model:       cfg.Dispatch.LLMModel,
			Temperature: cfg.Dispatch.LLMTemperature,
			MaxTokens:   cfg.Dispatch.LLMMaxTokens,
			Timeout:     cfg.Dispatch.Timeout,
			MaxRetries:  cfg.Dispatch.LLMMaxRetries,
		}), nil
	default:
		return nil, fmt.Errorf("unknown dispatch backend %q", cfg.Dispatch.Backend)
	}
}
