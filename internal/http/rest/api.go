package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwise1/civic_patrol/config"
	deps "github.com/bwise1/civic_patrol/internal/debs"
	"github.com/bwise1/civic_patrol/util/values"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultIdleTimeout    = time.Minute
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultShutdownPeriod = 30 * time.Second
)

type Handler func(w http.ResponseWriter, r *http.Request) *ServerResponse

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h(w, r)
	respByte, err := json.Marshal(resp)
	if err != nil {
		writeErrorResponse(w, err, values.Error, "unable to marshal server response")
		return
	}
	writeJSONResponse(w, respByte, resp.StatusCode)
}

type API struct {
	Server *http.Server
	Config *config.Config
	Deps   *deps.Dependencies
	Store  Store
	Events Publisher
}

// New wires the API to the Postgres store and the event broker held in d.
func New(cfg *config.Config, d *deps.Dependencies) *API {
	return &API{
		Config: cfg,
		Deps:   d,
		Store:  NewRepo(d.DB),
		Events: d.Broker,
	}
}

func (api *API) Serve() error {
	api.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", api.Config.Port),
		IdleTimeout:  defaultIdleTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		Handler:      api.setUpServerHandler(),
	}
	return api.Server.ListenAndServe()
}

func (api *API) setUpServerHandler() http.Handler {
	mux := chi.NewRouter()

	mux.Get("/",
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("civic patrol ok"))
		},
	)
	mux.Handle("/metrics", promhttp.HandlerFor(api.Deps.Registry, promhttp.HandlerOpts{}))

	mux.Group(func(r chi.Router) {
		r.Use(RequestTracing)
		r.With(api.RequireLogin).Get("/ws", api.Deps.WebSocket.HandleConnections)
		r.Mount("/v1", api.CollectionRoutes())
	})

	return mux
}

func (api *API) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownPeriod)
	defer cancel()

	return api.Server.Shutdown(ctx)
}
