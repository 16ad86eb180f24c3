package dashboard

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ApartmentFinder/src/processor"
	"ApartmentFinder/src/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options 看板服务的可调参数
type Options struct {
	MaxCompareCities int
	DefaultFrom      string // YYYY-MM
	DefaultTo        string
}

// Server 把投影层以JSON形式提供给前端
type Server struct {
	store       *Store
	logger      *storage.Logger
	maxCompare  int
	defaultFrom string
	defaultTo   string
	registry    *prometheus.Registry
	metrics     *metrics
}

func NewServer(store *Store, logger *storage.Logger, opts Options) (*Server, error) {
	if opts.MaxCompareCities <= 0 {
		opts.MaxCompareCities = processor.DefaultMaxSelection
	}
	if _, err := processor.ParseDateRange(opts.DefaultFrom, opts.DefaultTo); err != nil {
		return nil, fmt.Errorf("默认日期区间无效: %w", err)
	}

	reg := prometheus.NewRegistry()
	s := &Server{
		store:       store,
		logger:      logger,
		maxCompare:  opts.MaxCompareCities,
		defaultFrom: opts.DefaultFrom,
		defaultTo:   opts.DefaultTo,
		registry:    reg,
		metrics:     newMetrics(reg),
	}
	if t, err := store.Table(); err == nil {
		s.metrics.tableRows.Set(float64(t.Nrow()))
	}
	return s, nil
}

// Reload 重新读取清洗结果，失败时保留旧表
func (s *Server) Reload() error {
	if err := s.store.Load(); err != nil {
		s.metrics.reloadErrors.Inc()
		return err
	}
	t, _ := s.store.Table()
	s.metrics.reloads.Inc()
	s.metrics.tableRows.Set(float64(t.Nrow()))
	s.logger.Info(fmt.Sprintf("已加载清洗数据 %s: %d 行", s.store.Path(), t.Nrow()))
	return nil
}

// Routes 看板的全部路由
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/states", s.GetStates)
		r.Get("/states/{state}/cities", s.GetCities)
		r.Get("/series", s.GetSeries)
		r.Get("/choropleth", s.GetChoropleth)
		r.Get("/compare", s.GetCompare)
		r.Get("/data", s.GetData)
	})

	r.Get("/logs", s.StreamLogs)
	r.Get("/healthz", s.GetHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

// table 取当前表，未加载时直接返回503
func (s *Server) table(w http.ResponseWriter, r *http.Request) (*processor.Table, bool) {
	t, err := s.store.Table()
	if err != nil {
		s.renderError(w, r, http.StatusServiceUnavailable, err)
		return nil, false
	}
	return t, true
}

// dateRange 读取from/to，缺省使用配置的默认区间
func (s *Server) dateRange(r *http.Request) (processor.DateRange, string, string, error) {
	from := r.URL.Query().Get("from")
	if from == "" {
		from = s.defaultFrom
	}
	to := r.URL.Query().Get("to")
	if to == "" {
		to = s.defaultTo
	}
	rng, err := processor.ParseDateRange(from, to)
	return rng, from, to, err
}

type statesResponse struct {
	Choices   []StateChoice `json:"choices"`
	Available []string      `json:"available"`
}

// GetStates GET /api/states
func (s *Server) GetStates(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, statesResponse{Choices: USStates, Available: processor.States(t)})
}

type citiesResponse struct {
	State  string   `json:"state"`
	Cities []string `json:"cities"`
}

// GetCities GET /api/states/{state}/cities
func (s *Server) GetCities(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	state := chi.URLParam(r, "state")
	render.JSON(w, r, citiesResponse{State: state, Cities: processor.CitiesForState(t, state)})
}

type seriesResponse struct {
	From   string                 `json:"from"`
	To     string                 `json:"to"`
	Points []processor.StatePoint `json:"points"`
}

// GetSeries GET /api/series?state=&from=&to=
// 只有可识别的州代码才会缩小到单个州
func (s *Server) GetSeries(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	rng, from, to, err := s.dateRange(r)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	points := processor.SeriesByState(t, rng)
	if state := r.URL.Query().Get("state"); IsUSState(state) {
		filtered := make([]processor.StatePoint, 0)
		for _, p := range points {
			if p.State == state {
				filtered = append(filtered, p)
			}
		}
		points = filtered
	}
	render.JSON(w, r, seriesResponse{From: from, To: to, Points: points})
}

type choroplethResponse struct {
	From   string                   `json:"from"`
	To     string                   `json:"to"`
	States []processor.StateSummary `json:"states"`
}

// GetChoropleth GET /api/choropleth?from=&to=
func (s *Server) GetChoropleth(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	rng, from, to, err := s.dateRange(r)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}
	render.JSON(w, r, choroplethResponse{From: from, To: to, States: processor.ChoroplethSummary(t, rng)})
}

type compareResponse struct {
	From    string                `json:"from"`
	To      string                `json:"to"`
	Cities  []string              `json:"cities"`
	Points  []processor.CityPoint `json:"points"`
	Warning string                `json:"warning,omitempty"`
}

// GetCompare GET /api/compare?city=&compare=&compare=&from=&to=
func (s *Server) GetCompare(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	rng, from, to, err := s.dateRange(r)
	if err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}

	// 空的compare参数不算选择
	selected := make([]string, 0)
	for _, c := range r.URL.Query()["compare"] {
		if c = strings.TrimSpace(c); c != "" {
			selected = append(selected, c)
		}
	}
	fallback := strings.TrimSpace(r.URL.Query().Get("city"))
	cities, truncated := processor.SelectCities(selected, fallback, s.maxCompare)

	resp := compareResponse{
		From:   from,
		To:     to,
		Cities: cities,
		Points: processor.CitySeries(t, rng, selected, fallback, s.maxCompare),
	}
	if truncated {
		resp.Warning = fmt.Sprintf("Maximum %d cities can be compared. Showing first %d selections.",
			s.maxCompare, s.maxCompare)
	}
	render.JSON(w, r, resp)
}

type dataResponse struct {
	State   string     `json:"state,omitempty"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// GetData GET /api/data?state= 可识别的州只返回该州的行，否则返回全部
func (s *Server) GetData(w http.ResponseWriter, r *http.Request) {
	t, ok := s.table(w, r)
	if !ok {
		return
	}
	state := r.URL.Query().Get("state")
	if IsUSState(state) {
		t = processor.RowsForState(t, state)
	} else {
		state = ""
	}

	records := t.Records()
	render.JSON(w, r, dataResponse{State: state, Columns: records[0], Rows: records[1:]})
}

// GetHealth GET /healthz
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	t, err := s.store.Table()
	switch {
	case errors.Is(err, ErrNotLoaded):
		resp["status"] = "loading"
	case err == nil:
		resp["rows"] = t.Nrow()
		resp["loaded_at"] = s.store.LoadedAt().Format(time.RFC3339)
	}
	render.JSON(w, r, resp)
}

// StreamLogs GET /logs 以chunked方式持续推送日志
func (s *Server) StreamLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	logChan := s.logger.Subscribe()
	defer s.logger.Unsubscribe(logChan)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				return
			}
			// 客户端断开时写入失败
			if _, err := fmt.Fprint(w, msg); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}
