package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/estensen/wallet-valuation/internal/aggregator"
	"github.com/estensen/wallet-valuation/internal/metrics"
	"github.com/estensen/wallet-valuation/internal/models"
	"github.com/estensen/wallet-valuation/internal/parser"
	"github.com/estensen/wallet-valuation/internal/pipeline"
	"github.com/estensen/wallet-valuation/internal/price"
	"github.com/estensen/wallet-valuation/internal/report"
)

const maxUploadSize = 32 << 20

// Form fields of POST /reports.
const (
	fieldTransactions = "transactions"
	fieldPrices       = "prices"
	fieldOutputs      = "outputs"
	fieldPolicy       = "missing_price_policy"
	pricePrefix       = "price["
)

// Config holds the per-server settings of the report endpoint.
type Config struct {
	Options aggregator.Options
	// Fallback prices requests that carry neither a prices file nor
	// price fields. Without it such requests get zero prices.
	Fallback          pipeline.PriceSource
	RequestsPerSecond float64
	Burst             int
}

// Server serves valuation reports for uploaded tables. Nothing is stored.
type Server struct {
	cfg     Config
	metrics *metrics.Metrics
	limiter *rateLimiter
	logger  *log.Logger
}

func NewServer(cfg Config, m *metrics.Metrics, logger *log.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
	if cfg.RequestsPerSecond > 0 {
		s.limiter = newRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	return s
}

type reportResponse struct {
	Summary       report.Summary                    `json:"summary"`
	Denominations []string                          `json:"denominations"`
	Prices        []price.Entry                     `json:"prices"`
	Views         map[string][]models.UserBreakdown `json:"views"`
	Conflicts     []models.WalletConflict           `json:"wallet_conflicts,omitempty"`
	Warnings      []string                          `json:"warnings"`
}

type errorResponse struct {
	Error          string   `json:"error"`
	MissingColumns []string `json:"missing_columns,omitempty"`
}

// Routes registers the endpoints on a new mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /reports", s.rateLimit(s.instrument(http.HandlerFunc(s.CreateReportHandler))))
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// CreateReportHandler handles POST /reports. The response is JSON unless
// format=csv is given, in which case the single table of the requested
// view (or view=assets for the asset breakdown) is streamed.
func (s *Server) CreateReportHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}

	views, err := parseViews(r.MultipartForm.Value[fieldOutputs])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	opts := s.cfg.Options
	if policy := r.FormValue(fieldPolicy); policy != "" {
		opts.MissingPricePolicy = aggregator.MissingPricePolicy(policy)
	}

	csvView, wantCSV, err := csvRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	file, _, err := r.FormFile(fieldTransactions)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("missing %q file: %w", fieldTransactions, err))
		return
	}
	defer file.Close()

	p := pipeline.New(aggregator.NewAggregator(s.logger, opts), pipeline.Config{Views: views}, s.logger)

	transactions, err := p.ParseTransactions(file)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	source, err := s.priceSource(r)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	out, err := p.Run(r.Context(), transactions, source)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	summary := out.Report.Summary()
	s.metrics.RecordReport(summary.TotalUsers, summary.TotalUSD)

	if wantCSV {
		s.writeCSV(w, csvTable(out.Report, csvView))
		return
	}

	resp := reportResponse{
		Summary:       summary,
		Denominations: out.Report.Denominations(),
		Prices:        out.Prices.Entries(),
		Views:         make(map[string][]models.UserBreakdown),
		Conflicts:     out.Result.WalletConflicts,
		Warnings:      out.Warnings,
	}
	for _, v := range views {
		switch v {
		case report.ViewMidTier:
			resp.Views[string(v)] = out.Report.MidTier()
		case report.ViewHighTier:
			resp.Views[string(v)] = out.Report.HighTier()
		case report.ViewAll:
			resp.Views[string(v)] = out.Report.All()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("error encoding response", "err", err)
	}
}

func (s *Server) writeCSV(w http.ResponseWriter, table report.Table) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table.FileName))
	if err := table.WriteCSV(w); err != nil {
		s.logger.Error("error writing CSV response", "table", table.FileName, "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("report request failed", "err", err)
	} else {
		s.logger.Warn("report request rejected", "status", status, "err", err)
	}

	resp := errorResponse{Error: err.Error()}
	var colErr *parser.MissingColumnsError
	if errors.As(err, &colErr) {
		resp.MissingColumns = colErr.Missing
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// statusFor maps input problems to 400, an unpriced denomination under the
// fail policy to 422 and everything else to 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrMissingPrice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, parser.ErrNoHeader),
		errors.Is(err, parser.ErrMissingColumns),
		errors.Is(err, parser.ErrInvalidUnits),
		errors.Is(err, parser.ErrEmptyDenomination),
		errors.Is(err, parser.ErrEmptyUserID),
		errors.Is(err, parser.ErrInvalidPrice),
		errors.Is(err, price.ErrNoPrices),
		errors.Is(err, price.ErrNegativePrice),
		errors.Is(err, price.ErrEmptyDenomination),
		errors.Is(err, price.ErrInvalidEntry),
		errors.Is(err, aggregator.ErrUnknownPolicy):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseViews(raw []string) ([]report.View, error) {
	var views []report.View
	for _, item := range raw {
		for _, name := range strings.Split(item, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			v, err := report.ParseView(name)
			if err != nil {
				return nil, err
			}
			views = append(views, v)
		}
	}
	if len(views) == 0 {
		return report.DefaultViews, nil
	}
	return views, nil
}

// viewAssets selects asset_breakdown.csv, which no report view renders
// on its own.
const viewAssets = "assets"

func csvRequest(r *http.Request) (string, bool, error) {
	query := r.URL.Query()
	format := query.Get("format")
	switch format {
	case "", "json":
		return "", false, nil
	case "csv":
	default:
		return "", false, fmt.Errorf("unsupported format %q", format)
	}

	name := query.Get("view")
	switch name {
	case "":
		return string(report.ViewSummary), true, nil
	case viewAssets:
		return name, true, nil
	}
	if _, err := report.ParseView(name); err != nil {
		return "", false, err
	}
	return name, true, nil
}

func csvTable(rep *report.Report, name string) report.Table {
	if name == viewAssets {
		return rep.AssetTable()
	}
	return rep.Tables([]report.View{report.View(name)})[0]
}

// priceSource prefers an uploaded prices file, then price[<DENOM>] form
// fields, then the configured fallback.
func (s *Server) priceSource(r *http.Request) (pipeline.PriceSource, error) {
	file, _, err := r.FormFile(fieldPrices)
	switch {
	case err == nil:
		defer file.Close()
		prices, err := price.FromCSV(file)
		if err != nil {
			return nil, err
		}
		return pipeline.StaticPrices{Table: prices}, nil
	case !errors.Is(err, http.ErrMissingFile):
		return nil, fmt.Errorf("%w: %q file: %v", price.ErrInvalidEntry, fieldPrices, err)
	}

	var raw []string
	for key, values := range r.MultipartForm.Value {
		if !strings.HasPrefix(key, pricePrefix) || !strings.HasSuffix(key, "]") || len(values) == 0 {
			continue
		}
		denom := strings.TrimSuffix(strings.TrimPrefix(key, pricePrefix), "]")
		raw = append(raw, denom+"="+values[0])
	}

	if len(raw) == 0 && s.cfg.Fallback != nil {
		return s.cfg.Fallback, nil
	}

	entries, err := price.ParseEntries(raw)
	if err != nil {
		return nil, err
	}
	return pipeline.ManualPrices{Entries: entries}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordRequest(rec.status, time.Since(start))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			s.metrics.RecordRateLimited()
			s.writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, addr string, server *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("API server is running", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start API server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
