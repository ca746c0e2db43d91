package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nicodishanthj/fieldq/internal/api"
	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/common/process"
	"github.com/nicodishanthj/fieldq/internal/config"
	"github.com/nicodishanthj/fieldq/internal/data/orchestrator"
	"github.com/nicodishanthj/fieldq/internal/engine"
	"github.com/nicodishanthj/fieldq/internal/executor"
	"github.com/nicodishanthj/fieldq/internal/generator"
	"github.com/nicodishanthj/fieldq/internal/llm"
	"github.com/nicodishanthj/fieldq/internal/promptctx"
	"github.com/nicodishanthj/fieldq/internal/query"
	"github.com/nicodishanthj/fieldq/internal/sandbox"
	"github.com/nicodishanthj/fieldq/internal/schema"
	"github.com/nicodishanthj/fieldq/internal/usage"
)

// services holds everything built once per process and shared by reference.
type services struct {
	orch       *orchestrator.Orchestrator
	accountant *usage.Accountant
	engine     *engine.Engine
}

func buildServices(ctx context.Context, cfg config.Config) (*services, error) {
	logger := common.Logger()

	orchCfg, err := orchestrator.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	orchCfg.MongoURI = cfg.MongoURI
	orchCfg.MongoDatabase = cfg.MongoDatabase
	orchCfg.LedgerPath = cfg.LedgerPath
	orch, err := orchestrator.New(ctx, orchCfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	provider, err := llm.NewProvider()
	if err != nil {
		orch.Close()
		return nil, err
	}
	logger.Info("fieldq: llm provider ready", "provider", provider.Name())

	policy := cfg.Policy
	render := schema.RenderOptions{
		PriorityCollections: policy.PriorityCollections,
		OwnershipField:      policy.OwnershipField,
	}

	var sink usage.Sink
	var audit engine.AuditSink
	if ledger := orch.Ledger(); ledger != nil {
		sink = ledger
		audit = ledger
		logger.Info("fieldq: ledger enabled", "path", cfg.LedgerPath)
	} else {
		logger.Info("fieldq: ledger not configured")
	}
	accountant := usage.NewAccountant(usage.Rates{
		InputPerMillion:  policy.Rates.InputPerMillion,
		CachedPerMillion: policy.Rates.CachedPerMillion,
		OutputPerMillion: policy.Rates.OutputPerMillion,
	}, sink)

	eng := engine.New(engine.Deps{
		Schema: schema.NewService(orch.Datastore(), schema.Options{
			TTL:                 cfg.SchemaTTL,
			SampleSize:          cfg.SampleSize,
			InternalCollections: policy.InternalCollections,
		}),
		Contexts: promptctx.NewCache(promptctx.Options{
			TTL:                 cfg.ContextTTL,
			OwnershipField:      policy.OwnershipField,
			PriorityCollections: policy.PriorityCollections,
		}),
		Generator: generator.New(provider, generator.Options{
			Timeout:       cfg.GenerationTimeout,
			RatePerSecond: cfg.GenerationRate,
			Burst:         cfg.GenerationBurst,
			Recorder:      accountant,
		}),
		Validator: sandbox.New(sandbox.Policy{
			OwnershipField:  policy.OwnershipField,
			UserCollections: policy.UserCollections,
		}),
		Executor: executor.New(orch.Datastore(), executor.Options{
			DefaultTimeout: cfg.QueryTimeout,
			MaxTimeout:     cfg.MaxQueryTimeout,
			ExposeErrors:   cfg.ExposeExecutionErrors,
		}),
		Audit:  audit,
		Render: render,
	})
	return &services{orch: orch, accountant: accountant, engine: eng}, nil
}

// ledger returns the ledger as the API's interface, or an untyped nil so the
// server reports it as not configured.
func (s *services) ledger() api.Ledger {
	if l := s.orch.Ledger(); l != nil {
		return l
	}
	return nil
}

// Close waits for pending usage writes before the ledger is closed.
func (s *services) Close() error {
	s.accountant.Wait()
	return s.orch.Close()
}

func askRequest(prompt string, flags askFlags) engine.Request {
	return engine.Request{
		Prompt: prompt,
		Identity: query.Identity{
			ID:   strings.TrimSpace(flags.user),
			Role: query.RoleFromClaims(flags.role),
		},
		Timeout: time.Duration(flags.timeoutMs) * time.Millisecond,
	}
}

func startMongo(ctx context.Context, flags serveFlags, logger *slog.Logger) (*process.ManagedService, string, error) {
	bin, err := process.BinaryPath(flags.mongodBin)
	if err != nil {
		return nil, "", err
	}
	dataDir, err := filepath.Abs(flags.mongoDataDir)
	if err != nil {
		return nil, "", fmt.Errorf("resolve mongo data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("prepare mongo data directory: %w", err)
	}
	port := strconv.Itoa(flags.mongoPort)
	addr := net.JoinHostPort("127.0.0.1", port)
	svc, err := process.Start(ctx, process.ServiceConfig{
		Name:         "mongod",
		Command:      bin,
		Args:         []string{"--dbpath", dataDir, "--port", port, "--bind_ip", "127.0.0.1"},
		ReadyAddr:    addr,
		ReadyTimeout: time.Minute,
		StopTimeout:  10 * time.Second,
		Logger:       logger.With("component", "launcher", "service", "mongod"),
	})
	if err != nil {
		return nil, "", err
	}
	return svc, "mongodb://" + addr, nil
}

func stopManagedServices(ctx context.Context, svc *process.ManagedService, logger *slog.Logger) {
	if svc == nil {
		return
	}
	if err := svc.Stop(ctx); err != nil && logger != nil {
		logger.Warn("launcher: service shutdown returned error", "error", err)
	}
}
