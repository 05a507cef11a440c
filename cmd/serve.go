package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/relgraph/internal/graph"
	"github.com/sells-group/relgraph/internal/intro"
	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve introduction lookups over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		g, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer g.Close() //nolint:errcheck

		cache, err := initCache(ctx)
		if err != nil {
			return err
		}
		defer cache.Close() //nolint:errcheck

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildMux(intro.NewFinder(g, identity()), g, cache, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runServer blocks until ctx is done, then shuts srv down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

// introFinder is the lookup the intro endpoint serves.
type introFinder interface {
	Find(ctx context.Context, raw string, k int) (*intro.Result, error)
}

// graphStatus is the body of GET /v1/status.
type graphStatus struct {
	Graph model.GraphCounts `json:"graph"`
	Runs  []model.BudgetRun `json:"runs"`
}

// buildMux wires the HTTP routes. cache may be nil, in which case the status
// endpoint omits run history.
func buildMux(finder introFinder, g graph.Store, cache store.Store, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/intros", func(w http.ResponseWriter, req *http.Request) {
			target := req.URL.Query().Get("target")
			k := 0
			if raw := req.URL.Query().Get("k"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					writeError(w, http.StatusBadRequest, "k must be a non-negative integer")
					return
				}
				k = n
			}

			res, err := finder.Find(req.Context(), target, k)
			if eris.Is(err, intro.ErrTargetRequired) {
				writeError(w, http.StatusBadRequest, "target is required")
				return
			}
			if err != nil {
				zap.L().Error("intro lookup failed", zap.String("target", target), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "lookup failed")
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			var out graphStatus
			eg, ctx := errgroup.WithContext(req.Context())
			eg.Go(func() error {
				var err error
				out.Graph, err = g.Counts(ctx)
				return err
			})
			if cache != nil {
				eg.Go(func() error {
					var err error
					out.Runs, err = cache.ListBudgetRuns(ctx, 5)
					return err
				})
			}
			if err := eg.Wait(); err != nil {
				zap.L().Error("status lookup failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "status failed")
				return
			}
			if out.Runs == nil {
				out.Runs = []model.BudgetRun{}
			}
			writeJSON(w, http.StatusOK, out)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
