// Package dashboard serves a read-only web view over the enriched table:
// a data preview, chart datasets for client-side plotting, an XLSX export
// and a websocket that announces table refreshes.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/observability"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
)

// Row limits accepted by the query interface.
const (
	DefaultLimit = 100
	MinLimit     = 1
	MaxLimit     = 1000
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"cell": displayCell,
}).ParseFS(templateFS, "templates/index.html"))

// errBadRequest marks query parameter errors.
var errBadRequest = errors.New("bad request")

// Options configures a Server.
type Options struct {
	Title        string
	Tables       []string
	QueryTimeout time.Duration
	Connector    *Connector
	Hub          *Hub
	Logger       *zap.Logger
}

// Server is the dashboard HTTP surface.
type Server struct {
	title        string
	tables       []string
	allow        *storage.AllowList
	queryTimeout time.Duration
	connector    *Connector
	hub          *Hub
	logger       *zap.Logger
}

// view is a validated request for table contents.
type view struct {
	Table   string
	Limit   int
	Columns []string
}

// NewServer creates a Server. The first table is the default selection.
func NewServer(opts Options) (*Server, error) {
	if opts.Connector == nil {
		return nil, errors.New("connector is required")
	}
	if len(opts.Tables) == 0 {
		return nil, errors.New("at least one table is required")
	}
	allow, err := storage.NewAllowList(opts.Tables...)
	if err != nil {
		return nil, fmt.Errorf("allow-list: %w", err)
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		title:        opts.Title,
		tables:       append([]string(nil), opts.Tables...),
		allow:        allow,
		queryTimeout: opts.QueryTimeout,
		connector:    opts.Connector,
		hub:          opts.Hub,
		logger:       opts.Logger.With(zap.String("component", "dashboard")),
	}, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestMetrics)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", observability.Handler())
	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/export.xlsx", s.handleExport)
		r.Group(func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Get("/status", s.handleStatus)
			r.Get("/rows", s.handleRows)
			r.Get("/charts", s.handleCharts)
		})
	})
	return r
}

func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordDashboardRequest(route, strconv.Itoa(status))
	})
}

// parseView validates table, limit and columns query parameters.
func (s *Server) parseView(r *http.Request) (view, error) {
	q := r.URL.Query()
	v := view{Table: q.Get("table"), Limit: DefaultLimit}
	if v.Table == "" {
		v.Table = s.tables[0]
	}
	if err := s.allow.Check(v.Table); err != nil {
		return v, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return v, fmt.Errorf("%w: limit must be an integer", errBadRequest)
		}
		v.Limit = clampLimit(n)
	}

	for _, c := range q["columns"] {
		for _, name := range strings.Split(c, ",") {
			if name = strings.TrimSpace(name); name != "" {
				v.Columns = append(v.Columns, name)
			}
		}
	}
	return v, nil
}

func clampLimit(n int) int {
	if n < MinLimit {
		return MinLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// fetch acquires a connection, queries and projects. No query is issued
// unless the connection is confirmed.
func (s *Server) fetch(ctx context.Context, v view) (*storage.ResultSet, error) {
	reader, release, err := s.connector.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rs, err := reader.Query(qctx, v.Table, v.Limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", v.Table, err)
	}
	if len(v.Columns) == 0 {
		return rs, nil
	}
	projected, err := rs.Project(v.Columns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return projected, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, release, err := s.connector.Acquire(r.Context())
	if err != nil {
		render.JSON(w, r, statusResponse{Connected: false, Error: err.Error()})
		return
	}
	release()
	render.JSON(w, r, statusResponse{Connected: true})
}

type rowsResponse struct {
	Table   string   `json:"table"`
	Limit   int      `json:"limit"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	v, err := s.parseView(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	rs, err := s.fetch(r.Context(), v)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	rows := make([][]any, len(rs.Rows))
	for i, row := range rs.Rows {
		out := make([]any, len(row))
		for j, c := range row {
			out[j] = Cell(c)
		}
		rows[i] = out
	}
	render.JSON(w, r, rowsResponse{Table: v.Table, Limit: v.Limit, Columns: rs.Columns, Rows: rows})
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	v, err := s.parseView(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	rs, err := s.fetch(r.Context(), v)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	charts := BuildCharts(rs)
	if charts == nil {
		charts = []Chart{}
	}
	render.JSON(w, r, charts)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	v, err := s.parseView(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	rs, err := s.fetch(r.Context(), v)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, v.Table))
	if err := WriteXLSX(w, v.Table, rs); err != nil {
		s.logger.Error("xlsx export failed", zap.String("table", v.Table), zap.Error(err))
	}
}

// indexPage is the template model.
type indexPage struct {
	Title     string
	Tables    []string
	Columns   []string
	View      view
	Selected  map[string]bool
	Connected bool
	Error     string
	Preview   *storage.ResultSet
	Charts    []Chart
	MinLimit  int
	MaxLimit  int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := indexPage{
		Title:    s.title,
		Tables:   s.tables,
		Columns:  schema.MVR("").ColumnNames(),
		Selected: make(map[string]bool),
		MinLimit: MinLimit,
		MaxLimit: MaxLimit,
	}

	v, err := s.parseView(r)
	page.View = v
	for _, c := range v.Columns {
		page.Selected[c] = true
	}

	status := http.StatusOK
	switch {
	case err != nil:
		status = http.StatusBadRequest
		page.Error = err.Error()
	default:
		rs, ferr := s.fetch(r.Context(), v)
		switch {
		case errors.Is(ferr, ErrNotConnected):
			s.logger.Warn("dashboard degraded: no database connection", zap.Error(ferr))
			page.Error = ferr.Error()
		case ferr != nil:
			status = statusFor(ferr)
			page.Connected = true
			page.Error = ferr.Error()
		default:
			page.Connected = true
			page.Preview = rs
			page.Charts = BuildCharts(rs)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, page); err != nil {
		s.logger.Error("render index", zap.Error(err))
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]any{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// displayCell formats a preview value. Day_of_Week ordinals also show the weekday name.
func displayCell(column string, v any) string {
	c := Cell(v)
	if c == nil {
		return ""
	}
	if f, ok := c.(float64); ok {
		if column == schema.ColDayOfWeek {
			return fmt.Sprintf("%d (%s)", int(f), domain.DayOfWeekName(int(f)))
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(c)
}
