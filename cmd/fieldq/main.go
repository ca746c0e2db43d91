package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nicodishanthj/fieldq/internal/api"
	"github.com/nicodishanthj/fieldq/internal/common"
	"github.com/nicodishanthj/fieldq/internal/config"
	"github.com/nicodishanthj/fieldq/internal/query"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fieldq",
		Short:         "Natural-language queries over the farm operations datastore",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := common.Logger()
			if err := godotenv.Load(); err != nil {
				logger.Debug("fieldq: .env file not loaded", "error", err)
			} else {
				logger.Info("fieldq: environment loaded from .env")
			}
		},
	}
	root.AddCommand(newServeCommand(), newAskCommand(), newSchemaCommand())
	return root
}

type serveFlags struct {
	addr           string
	autoStartMongo bool
	mongodBin      string
	mongoDataDir   string
	mongoPort      int
}

func newServeCommand() *cobra.Command {
	flags := serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address (default from FIELDQ_ADDR or :8081)")
	cmd.Flags().BoolVar(&flags.autoStartMongo, "auto-start-mongo", envBool("FIELDQ_AUTOSTART_MONGO"), "launch a local mongod before serving")
	cmd.Flags().StringVar(&flags.mongodBin, "mongod-bin", "mongod", "mongod binary used with --auto-start-mongo")
	cmd.Flags().StringVar(&flags.mongoDataDir, "mongo-data-dir", "mongo_data", "data directory used with --auto-start-mongo")
	cmd.Flags().IntVar(&flags.mongoPort, "mongo-port", 27017, "port used with --auto-start-mongo")
	return cmd
}

func runServe(ctx context.Context, flags serveFlags) error {
	logger := common.Logger()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if trimmed := strings.TrimSpace(flags.addr); trimmed != "" {
		cfg.Addr = trimmed
	}

	if flags.autoStartMongo {
		svc, uri, err := startMongo(context.WithoutCancel(ctx), flags, logger)
		if err != nil {
			return fmt.Errorf("launch mongod: %w", err)
		}
		defer stopManagedServices(context.Background(), svc, logger)
		cfg.MongoURI = uri
	}

	services, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	server, err := api.NewServer(services.engine, services.ledger(), &api.Config{
		JWTSecret:    cfg.JWTSecret,
		TrustHeaders: cfg.TrustHeaders,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	reachable := cfg.Addr
	if strings.HasPrefix(reachable, ":") {
		reachable = "localhost" + reachable
	}
	logger.Info("fieldq: server listening", "addr", cfg.Addr, "health", "/healthz")
	logger.Info("fieldq: verify reachability", "suggestion", fmt.Sprintf("curl http://%s/healthz", reachable))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("fieldq: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type askFlags struct {
	user      string
	role      string
	timeoutMs int64
}

func newAskCommand() *cobra.Command {
	flags := askFlags{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question from the command line and print the JSON response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			services, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			resp := services.engine.Ask(cmd.Context(), askRequest(strings.Join(args, " "), flags))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			if !resp.Success && resp.ErrorKind != query.KindRejected.String() {
				return fmt.Errorf("query failed: %s", resp.ErrorKind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.user, "user", "", "caller id the query runs as")
	cmd.Flags().StringVar(&flags.role, "role", string(query.RoleStandard), "caller role (standard or privileged)")
	cmd.Flags().Int64Var(&flags.timeoutMs, "timeout-ms", 0, "execution timeout in milliseconds (0 uses the default)")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Capture and print the datastore schema snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			services, err := buildServices(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			snap, rendered, err := services.engine.Schema(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), rendered)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON instead of the rendered text")
	return cmd
}

func envBool(key string) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return value == "1" || value == "true" || value == "yes"
}
