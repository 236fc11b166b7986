package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	hostlimit "learn.hostlimit/api"
	"learn.hostlimit/config"
	"learn.hostlimit/core"
	"learn.hostlimit/metrics"
	"learn.hostlimit/middleware"
)

const (
	apiLimiterKey   = "api_rate_limit"
	loginLimiterKey = "user_login_rate_limit"
)

// ConfigPath is the path of the limiter configuration file.
type ConfigPath string

// application is what InitializeApplication wires together.
type application struct {
	Router http.Handler
}

// limiterSet holds the engines and configs of all configured limiters.
type limiterSet struct {
	engines map[string]*core.Engine
	configs map[string]config.LimiterConfig
}

// middlewares maps limiter keys to their HTTP middleware.
type middlewares map[string]*middleware.RateLimitMiddleware

func provideLimiterSet(path ConfigPath) (*limiterSet, func(), error) {
	engines, configs, closer, err := hostlimit.NewLimitersFromConfigPath(string(path))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { closeQuietly(closer) }
	return &limiterSet{engines: engines, configs: configs}, cleanup, nil
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		log.Error().Err(err).Msg("Closing backend clients failed")
	}
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// provideMiddlewares creates one middleware per limiter. CORS is installed by
// provideRouter in front of every limited route.
func provideMiddlewares(set *limiterSet, reg *prometheus.Registry) (middlewares, error) {
	mws := make(middlewares, len(set.engines))
	for key, engine := range set.engines {
		mw, err := middleware.NewRateLimitMiddleware(engine, metrics.NewRateLimitMetrics(reg, key), key, middleware.WithCORSInstalled())
		if err != nil {
			return nil, fmt.Errorf("limiter '%s': %w", key, err)
		}
		mws[key] = mw
		log.Info().Str("limiter_key", key).Str("backend", string(set.configs[key].Backend)).Msg("Rate limit middleware created")
	}
	return mws, nil
}

func provideRouter(mws middlewares, reg *prometheus.Registry) (http.Handler, error) {
	apiLimit, ok := mws[apiLimiterKey]
	if !ok {
		return nil, fmt.Errorf("rate limiter key '%s' not found in config", apiLimiterKey)
	}
	loginLimit, ok := mws[loginLimiterKey]
	if !ok {
		return nil, fmt.Errorf("rate limiter key '%s' not found in config", loginLimiterKey)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/unlimited", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Unlimited! Let's Go!")
	})
	r.With(apiLimit.Handler).Get("/limited", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Limited, don't over use me!")
	})
	r.With(loginLimit.Handler).Post("/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Login attempt processed!")
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r, nil
}
