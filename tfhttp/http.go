package tfhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/config"
	"github.com/cloudkucooland/cowaybridge/coway"
	"github.com/cloudkucooland/cowaybridge/platform"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Platform is the primary handle
type Platform struct {
	Running bool
}

var srv http.Server
var shutdownTimeout = 15 * time.Second

// Router builds the control channel routes
func Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", homeHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", statusHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(coway.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if zerolog.GlobalLevel() <= zerolog.TraceLevel {
		r.Use(debugMW)
	}
	return r
}

// Startup is called by the platform management to get things running
func (h Platform) Startup(c *config.Config) platform.Control {
	if d := c.ShutdownTimeout.Duration(); d > 0 {
		shutdownTimeout = d
	}

	srv = http.Server{
		Addr:         c.HTTP.Address,
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      Router(),
	}

	go func() {
		log.Info().Str("address", c.HTTP.Address).Msg("starting up HTTP control channel")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP control channel")
		}
	}()

	h.Running = true
	return h
}

// Shutdown is called by the platform management to shut things down
func (h Platform) Shutdown() platform.Control {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP control channel shutdown")
	}
	h.Running = false
	return h
}

func homeHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug().Msg("HomeHandler requested")
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	fmt.Fprint(w, "{ \"status\": \"OK\" }")
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(coway.Status()); err != nil {
		log.Warn().Err(err).Msg("status encoding")
	}
}

func debugMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		dump, _ := httputil.DumpRequest(req, false)
		log.Trace().Str("request", string(dump)).Msg("HTTP")
		next.ServeHTTP(res, req)
	})
}

// AddAccessory - do not use, just satisfies the Platform interface
func (h Platform) AddAccessory(a *accessory.Accessory) {}

// GetAccessory - do not use, just satisfies the Platform interface
func (h Platform) GetAccessory(name string) (*accessory.Accessory, bool) {
	return nil, false
}

// Background - just satisfies the Platform interface
func (h Platform) Background() {}
