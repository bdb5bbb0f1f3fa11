package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/trackpoint/internal/position"
	"nuha.dev/trackpoint/internal/server"
	"nuha.dev/trackpoint/internal/store"
	"nuha.dev/trackpoint/internal/util"
)

// Collector is the query side of server.Collector.
type Collector interface {
	Devices() []server.DeviceInfo
	Device(name string) (server.DeviceInfo, bool)
	Lookup(name string, id uint32) (position.Point, bool)
	Trajectory(name string, from, to uint32, limit int) ([]position.Point, bool)
	Current(name string) (position.Point, bool)
}

type ApiConfig struct {
	ListenAddr  string   `mapstructure:"listen_addr"`
	CorsOrigins []string `mapstructure:"cors_origins"`
}

type ApiParam struct {
	Collector Collector
	Reader    store.Reader
	Metrics   http.Handler
	Stream    http.Handler
}

type Api struct {
	r        chi.Router
	s        *http.Server
	config   *ApiConfig
	log      zerolog.Logger
	coll     Collector
	reader   store.Reader
	validate *validator.Validate
}

type trajectoryQuery struct {
	From  uint32 `validate:"-"`
	To    uint32 `validate:"gtefield=From"`
	Limit int    `validate:"gte=1,lte=10000"`
}

type latestQuery struct {
	Device string `validate:"required"`
	Limit  int    `validate:"gte=1,lte=10000"`
}

func NewApi(p *ApiParam, config *ApiConfig) *Api {
	api := &Api{config: config, coll: p.Collector, reader: p.Reader}
	api.log = log.With().Str("module", "api").Logger()
	api.validate = validator.New()
	origins := config.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/devices", api.listDevices)
	r.Route("/devices/{id}", func(r chi.Router) {
		r.Get("/", api.getDevice)
		r.Get("/current", api.current)
		r.Get("/trajectory", api.trajectory)
		r.Get("/points/{seq}", api.point)
	})
	r.Get("/records/latest", api.latest)
	if p.Metrics != nil {
		r.Handle("/metrics", p.Metrics)
	}
	if p.Stream != nil {
		r.Handle("/stream", p.Stream)
	}

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Run serves until ctx is done, then shuts down gracefully.
func (api *Api) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		api.log.Info().Str("addr", api.config.ListenAddr).Msg("api listening")
		errc <- api.s.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.s.Shutdown(sctx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (api *Api) listDevices(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, api.coll.Devices())
}

func (api *Api) getDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := api.coll.Device(chi.URLParam(r, "id"))
	if !ok {
		util.JsonError(w, http.StatusNotFound, "unknown device")
		return
	}
	util.JsonWrite(w, d)
}

func (api *Api) current(w http.ResponseWriter, r *http.Request) {
	p, ok := api.coll.Current(chi.URLParam(r, "id"))
	if !ok {
		util.JsonError(w, http.StatusNotFound, "unknown device")
		return
	}
	util.JsonWrite(w, p)
}

func (api *Api) point(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 32)
	if err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid seq")
		return
	}
	p, ok := api.coll.Lookup(chi.URLParam(r, "id"), uint32(seq))
	if !ok {
		util.JsonError(w, http.StatusNotFound, "no point")
		return
	}
	util.JsonWrite(w, p)
}

func (api *Api) trajectory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "id")
	d, ok := api.coll.Device(name)
	if !ok {
		util.JsonError(w, http.StatusNotFound, "unknown device")
		return
	}
	q := trajectoryQuery{From: d.State.MinSeq, To: d.State.MaxSeq, Limit: 1000}
	v := r.URL.Query()
	var err error
	if q.From, err = uintParam(v.Get("from"), q.From); err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid from")
		return
	}
	if q.To, err = uintParam(v.Get("to"), q.To); err != nil {
		util.JsonError(w, http.StatusBadRequest, "invalid to")
		return
	}
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil {
			util.JsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if err := api.validate.Struct(q); err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	pts, _ := api.coll.Trajectory(name, q.From, q.To, q.Limit)
	util.JsonWrite(w, pts)
}

func (api *Api) latest(w http.ResponseWriter, r *http.Request) {
	if api.reader == nil {
		util.JsonError(w, http.StatusNotImplemented, "store is write only")
		return
	}
	v := r.URL.Query()
	q := latestQuery{Device: v.Get("device"), Limit: 100}
	if s := v.Get("limit"); s != "" {
		var err error
		if q.Limit, err = strconv.Atoi(s); err != nil {
			util.JsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if err := api.validate.Struct(q); err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	pts, err := api.reader.Latest(r.Context(), q.Device, q.Limit)
	if err != nil {
		api.log.Err(err).Str("device", q.Device).Msg("latest query failed")
		util.JsonError(w, http.StatusInternalServerError, "query failed")
		return
	}
	util.JsonWrite(w, pts)
}

func uintParam(s string, def uint32) (uint32, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}
