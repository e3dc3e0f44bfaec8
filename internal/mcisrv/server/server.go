// Package server assembles the registry HTTP server: router,
// middleware, and the wiring between the ingestion engine, the query
// service, and the API handlers.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/mcistack/mci/internal/common/httpx"
	"github.com/mcistack/mci/internal/common/logtrace"
	"github.com/mcistack/mci/internal/common/middleware"
	"github.com/mcistack/mci/internal/mcisrv/apis"
	"github.com/mcistack/mci/internal/mcisrv/blob"
	"github.com/mcistack/mci/internal/mcisrv/config"
	"github.com/mcistack/mci/internal/mcisrv/db"
	"github.com/mcistack/mci/internal/mcisrv/ingest"
	"github.com/mcistack/mci/internal/mcisrv/query"
)

const (
	serverVersion = "MCI Registry Server: 0.1.0"
	apiVersion    = "v1alpha1"
)

type RegistryServer struct {
	Router *chi.Mux

	handler *apis.Handler
}

// CreateNewServer wires the API handlers over the given stores.
func CreateNewServer(md db.MetadataManager, store blob.Store, engine *ingest.Engine) (*RegistryServer, error) {
	s := &RegistryServer{
		Router:  chi.NewRouter(),
		handler: apis.New(engine, query.New(md, store, config.Config().SecretsAPI), md),
	}
	return s, nil
}

func (s *RegistryServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	if config.Config().HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.mountResourceHandlers(s.Router)
	if logtrace.IsTraceEnabled() {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

func (s *RegistryServer) mountResourceHandlers(r chi.Router) {
	s.handler.Router(r)
	r.Get("/version", s.getVersion)
	r.Get("/ready", s.getReadiness)
}

type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *RegistryServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: serverVersion,
		ApiVersion:    apiVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *RegistryServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("Readiness check")
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func (s *RegistryServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding"},
		ExposedHeaders:   []string{"Link", "Location", "X-MCI-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
