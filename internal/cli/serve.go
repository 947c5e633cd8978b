package cli

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matzehuels/wheelhouse/pkg/artifactcache"
	"github.com/matzehuels/wheelhouse/pkg/buildinfo"
	"github.com/matzehuels/wheelhouse/pkg/cache"
	wherrors "github.com/matzehuels/wheelhouse/pkg/errors"
	"github.com/matzehuels/wheelhouse/pkg/manifest"
	"github.com/matzehuels/wheelhouse/pkg/metadata"
	"github.com/matzehuels/wheelhouse/pkg/pypi"
	"github.com/matzehuels/wheelhouse/pkg/report"
	"github.com/matzehuels/wheelhouse/pkg/resolver"
)

// serveOpts holds the command-line flags for the serve command.
type serveOpts struct {
	addr       string
	configPath string
	cacheDir   string
}

// newServeCmd creates the serve command exposing the resolver over
// HTTP.
func newServeCmd() *cobra.Command {
	opts := serveOpts{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolver as an HTTP API",
		Long: `Serve a small HTTP API around the resolver:

  POST /api/resolve  resolve requirements, returns the JSON document
  GET  /api/health   liveness probe

Example request:

  curl -s localhost:8080/api/resolve -d '{
    "requirements": ["flask==2.1.2"],
    "python_version": "3.10",
    "operating_system": "linux"
  }'`,
		RunE: func(c *cobra.Command, args []string) error {
			return runServe(c.Context(), &opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file (default: ./wheelhouse.toml if present)")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "artifact cache directory (default: per-user cache)")

	return cmd
}

// apiServer carries the long-lived pieces shared between requests: the
// response-cache backend and the artifact store. Repositories and
// providers are rebuilt per request because they are bound to a target
// environment.
type apiServer struct {
	cfg     Config
	backend cache.Cache
	store   *artifactcache.Cache
}

func runServe(ctx context.Context, opts *serveOpts) error {
	logger := loggerFromContext(ctx)

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return wherrors.Wrap(wherrors.ErrCodeInvalidInput, err, "load config")
	}
	if opts.cacheDir != "" {
		cfg.Cache.Dir = opts.cacheDir
	}
	backend, err := newCacheBackend(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer backend.Close()
	store, err := artifactcache.New(cfg.Cache.Dir)
	if err != nil {
		return wherrors.Wrap(wherrors.ErrCodeInvalidPath, err, "artifact cache")
	}

	api := &apiServer{cfg: cfg, backend: backend, store: store}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Get("/api/health", api.handleHealth)
	r.Post("/api/resolve", api.handleResolve)

	srv := &http.Server{Addr: opts.addr, Handler: r, BaseContext: func(net.Listener) context.Context { return ctx }}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Serving on %s", opts.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// requestID tags every request with a UUID, echoed in the response and
// available downstream for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), middleware.RequestIDKey, id)))
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

// resolveRequest is the POST /api/resolve body.
type resolveRequest struct {
	Requirements     []string `json:"requirements"`
	PythonVersion    string   `json:"python_version"`
	OperatingSystem  string   `json:"operating_system"`
	PreferSource     bool     `json:"prefer_source"`
	AllowPrereleases bool     `json:"allow_prereleases"`
	IgnoreErrors     bool     `json:"ignore_errors"`
	MaxRounds        int      `json:"max_rounds"`
	Tree             bool     `json:"tree"`
}

func (s *apiServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, wherrors.Wrap(wherrors.ErrCodeInvalidInput, err, "decode request body"))
		return
	}
	if req.PythonVersion == "" {
		req.PythonVersion = "3.10"
	}
	if req.OperatingSystem == "" {
		req.OperatingSystem = "linux"
	}
	if len(req.Requirements) == 0 {
		writeError(w, wherrors.New(wherrors.ErrCodeInvalidInput, "requirements must not be empty"))
		return
	}

	roots, err := manifest.Specifiers(req.Requirements)
	if err != nil {
		writeError(w, wherrors.Wrap(wherrors.ErrCodeInvalidRequirement, err, "invalid requirement"))
		return
	}
	env, err := wherrors.ValidateEnvironment(req.PythonVersion, req.OperatingSystem)
	if err != nil {
		writeError(w, err)
		return
	}

	repos := make([]pypi.Repository, 0, len(s.cfg.Index.URLs))
	for _, url := range s.cfg.Index.URLs {
		if s.cfg.Index.UseJSONAPI {
			if url == pypi.PyPISimpleURL {
				url = pypi.PyPIWarehouseURL
			}
			repos = append(repos, pypi.NewWarehouseRepository(url, s.backend, s.cfg.Cache.TTL()))
		} else {
			repos = append(repos, pypi.NewSimpleRepository(url, s.backend, s.cfg.Cache.TTL()))
		}
	}
	provider := metadata.NewProvider(pypi.NewIndex(repos...), env, s.store, metadata.Options{
		PreferSource: req.PreferSource,
		Concurrency:  s.cfg.Network.Concurrency,
	})
	res := resolver.New(provider, env, resolver.Options{
		AllowPrereleases: req.AllowPrereleases,
		IgnoreErrors:     req.IgnoreErrors,
		MaxRounds:        req.MaxRounds,
	})

	result, err := res.Resolve(r.Context(), roots)
	if err != nil {
		writeError(w, wherrors.FromResolver(err))
		return
	}

	options := []string{
		"--python-version " + req.PythonVersion,
		"--operating-system " + req.OperatingSystem,
	}
	writeJSON(w, http.StatusOK, report.New(result, options, req.Tree))
}

// apiError is the JSON error envelope.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := wherrors.GetCode(err)
	if code == "" {
		code = wherrors.ErrCodeInternal
	}
	var body apiError
	body.Error.Code = string(code)
	body.Error.Message = wherrors.UserMessage(err)
	writeJSON(w, wherrors.HTTPStatus(code), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
