// Command metastore serves the graph metadata store over HTTP and runs
// one-off maintenance against its backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agenthands/metastore/internal/config"
	"github.com/agenthands/metastore/internal/connector"
	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/store"
	"github.com/agenthands/metastore/internal/core/traversal"
	"github.com/agenthands/metastore/internal/core/typeregistry"
	"github.com/agenthands/metastore/internal/logger"
	"github.com/agenthands/metastore/internal/metrics"
	"github.com/agenthands/metastore/internal/server"
)

const Version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is everything a command needs once configuration is resolved.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	types   *typeregistry.Registry
	metrics *metrics.Metrics
	conn    *connector.Connector
}

func rootCmd() *cobra.Command {
	var configPath string
	a := &app{}

	cmd := &cobra.Command{
		Use:           "metastore",
		Short:         "Graph metadata store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (TOML)")

	cmd.AddCommand(serveCmd(a), ensureIndexesCmd(a), subGraphCmd(a), pathsCmd(a))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "metastore version %s\n", Version)
		},
	})
	return cmd
}

func (a *app) init(configPath string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Output: os.Stderr})

	types, err := typeregistry.LoadFile(cfg.Registry.TypedefsPath)
	if err != nil {
		return err
	}
	a.types = types
	a.metrics = metrics.New()
	a.conn = connector.New(cfg, types,
		connector.WithLogger(a.log),
		connector.WithMetrics(a.metrics))
	return nil
}

// start brings the connector up and returns the store plus a stop func.
func (a *app) start(ctx context.Context) (*store.GraphStore, func(), error) {
	if err := a.conn.Start(ctx); err != nil {
		return nil, nil, err
	}
	st, err := a.conn.Store()
	if err != nil {
		a.conn.Stop()
		return nil, nil, err
	}
	return st, func() {
		if err := a.conn.Stop(); err != nil {
			a.log.Warn().Err(err).Msg("connector stop failed")
		}
	}, nil
}

func serveCmd(a *app) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, stop, err := a.start(ctx)
			if err != nil {
				return err
			}
			defer stop()

			if port == "" {
				port = a.cfg.Server.Port
			}
			srv := server.NewServer(st, a.types, server.Options{
				Log:             a.log,
				Metrics:         a.metrics,
				MaxPathsDefault: a.cfg.Traversal.MaxPathsDefault,
				MaxDepthDefault: a.cfg.Traversal.MaxDepthDefault,
			})
			httpSrv := &http.Server{Addr: ":" + port, Handler: srv.SetupRouter()}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info().Str("port", port).Msg("starting server")
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides server.port)")
	return cmd
}

func ensureIndexesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-indexes [type...]",
		Short: "Create backend indexes for the named types, or every registered type",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, stop, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			names := args
			if len(names) == 0 {
				for _, c := range []model.TypeDefCategory{model.CategoryEntity, model.CategoryRelationship, model.CategoryClassification} {
					names = append(names, a.types.TypesOf(c)...)
				}
			}
			for _, name := range names {
				def, err := a.types.TypeDef(name)
				if err != nil {
					return err
				}
				switch def.Category {
				case model.CategoryEntity:
					err = st.CreateEntityIndexes(cmd.Context(), def)
				case model.CategoryRelationship:
					err = st.CreateRelationshipIndexes(cmd.Context(), def)
				default:
					err = st.CreateClassificationIndexes(cmd.Context(), def)
				}
				if err != nil {
					return fmt.Errorf("ensure indexes for %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", def.Category, def.Name)
			}
			return nil
		},
	}
}

func subGraphCmd(a *app) *cobra.Command {
	var req traversal.SubGraphRequest
	cmd := &cobra.Command{
		Use:   "subgraph <guid>",
		Short: "Print the neighbourhood of an entity as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, stop, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			req.EntityGUID = args[0]
			g, err := st.GetSubGraph(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, g)
		},
	}
	cmd.Flags().IntVar(&req.MaxLevel, "max-level", 1, "Hops to expand; negative for unbounded")
	cmd.Flags().StringSliceVar(&req.EntityTypes, "entity-types", nil, "Admit only these entity types")
	cmd.Flags().StringSliceVar(&req.RelationshipTypes, "relationship-types", nil, "Follow only these relationship types")
	cmd.Flags().StringSliceVar(&req.Classifications, "classifications", nil, "Admit only entities with one of these classifications")
	return cmd
}

func pathsCmd(a *app) *cobra.Command {
	var maxPaths, maxDepth int
	cmd := &cobra.Command{
		Use:   "paths <from> <to>",
		Short: "Print the shortest paths between two entities as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, stop, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			req := traversal.PathsRequest{
				From:     args[0],
				To:       args[1],
				MaxPaths: a.cfg.Traversal.MaxPathsDefault,
				MaxDepth: a.cfg.Traversal.MaxDepthDefault,
			}
			if cmd.Flags().Changed("max-paths") {
				req.MaxPaths = maxPaths
			}
			if cmd.Flags().Changed("max-depth") {
				req.MaxDepth = maxDepth
			}
			paths, err := st.GetPaths(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, paths)
		},
	}
	cmd.Flags().IntVar(&maxPaths, "max-paths", 0, "Paths to return (default traversal.max_paths_default)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Hop bound (default traversal.max_depth_default)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
