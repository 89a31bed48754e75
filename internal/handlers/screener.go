package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jwaldner/atmscreen/internal/dto"
	"github.com/jwaldner/atmscreen/internal/expiry"
	"github.com/jwaldner/atmscreen/internal/logger"
	"github.com/jwaldner/atmscreen/internal/models"
	"github.com/jwaldner/atmscreen/internal/screener"
	"github.com/jwaldner/atmscreen/internal/services"
)

// Screener is the part of the screener the HTTP layer drives.
type Screener interface {
	ScreenATM(ctx context.Context, ticker string, ref time.Time) (*models.ScreenResult, error)
	ScreenMany(ctx context.Context, tickers []string, ref time.Time) map[string]screener.TickerResult
	Straddles(ctx context.Context, ticker string, ref time.Time, params screener.StraddleParams) (*screener.StraddleReport, error)
}

// ScreenerHandler handles screener requests - DUMB HTTP layer only
type ScreenerHandler struct {
	screener Screener
	requests *services.RequestService
	tickers  *services.TickerService
	provider string
	now      func() time.Time
}

// NewScreenerHandler creates a new screener handler. provider names the
// market data source reported by /health.
func NewScreenerHandler(s Screener, tickers *services.TickerService, provider string) *ScreenerHandler {
	return &ScreenerHandler{
		screener: s,
		requests: services.NewRequestService(),
		tickers:  tickers,
		provider: provider,
		now:      time.Now,
	}
}

// Register mounts the screener routes on r.
func (h *ScreenerHandler) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthHandler).Methods("GET")
	r.HandleFunc("/api/screener/{ticker}", h.ScreenHandler).Methods("GET")
	r.HandleFunc("/api/screener", h.ScreenManyHandler).Methods("POST")
	r.HandleFunc("/api/straddles/{ticker}", h.StraddlesHandler).Methods("GET")
	r.HandleFunc("/api/expirations/next", h.NextExpirationHandler).Methods("GET")
}

// ScreenHandler returns the ATM pairs of one ticker
func (h *ScreenerHandler) ScreenHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := h.screenOne(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StraddlesHandler returns one ticker's pairs sized as long straddles, the
// current ATM implied vol and the break-even buckets
func (h *ScreenerHandler) StraddlesHandler(w http.ResponseWriter, r *http.Request) {
	ticker, ref, ok := h.tickerAndDate(w, r)
	if !ok {
		return
	}
	params, err := h.requests.ParseStraddleParams(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.screener.Straddles(r.Context(), ticker, ref, params)
	if err != nil {
		logger.Error.Printf("❌ Straddles failed for %s: %v", ticker, err)
		http.Error(w, "Screener failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ScreenerHandler) screenOne(w http.ResponseWriter, r *http.Request) (*models.ScreenResult, bool) {
	ticker, ref, ok := h.tickerAndDate(w, r)
	if !ok {
		return nil, false
	}

	result, err := h.screener.ScreenATM(r.Context(), ticker, ref)
	if err != nil {
		logger.Error.Printf("❌ Screener failed for %s: %v", ticker, err)
		http.Error(w, "Screener failed", http.StatusInternalServerError)
		return nil, false
	}
	return result, true
}

func (h *ScreenerHandler) tickerAndDate(w http.ResponseWriter, r *http.Request) (string, time.Time, bool) {
	ticker, err := h.requests.ParseTicker(mux.Vars(r)["ticker"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", time.Time{}, false
	}
	ref, err := h.requests.ReferenceDate(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", time.Time{}, false
	}
	return ticker, ref, true
}

// ScreenManyHandler screens several tickers; per-ticker failures are reported
// inline and do not fail the request.
func (h *ScreenerHandler) ScreenManyHandler(w http.ResponseWriter, r *http.Request) {
	req, ref, err := h.requests.ParseScreenRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tickers, err := h.tickers.Tickers(req.Tickers)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	results := h.screener.ScreenMany(r.Context(), tickers, ref)

	response := dto.ScreenManyResponse{
		Date:         ref.Format(models.DateLayout),
		TickerSource: h.tickers.Source(req.Tickers),
		Results:      make(map[string]dto.TickerResponse, len(results)),
	}
	failed := 0
	for ticker, res := range results {
		entry := dto.TickerResponse{Pairs: res.Result.Pairs, Expiries: res.Result.Expiries}
		if res.Err != nil {
			entry.Error = res.Err.Error()
			failed++
		}
		response.Results[ticker] = entry
	}
	logger.Info.Printf("📊 Screened %d tickers (%d failed) in %v", len(results), failed, time.Since(start).Round(time.Millisecond))

	writeJSON(w, http.StatusOK, response)
}

// NextExpirationHandler reports the next standard (third Friday) expiration
func (h *ScreenerHandler) NextExpirationHandler(w http.ResponseWriter, r *http.Request) {
	next := expiry.NextStandardExpiration(h.now())
	writeJSON(w, http.StatusOK, dto.ExpirationResponse{Date: next.Format(models.DateLayout)})
}

func (h *ScreenerHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.HealthResponse{
		Status:    "ok",
		Timestamp: h.now().Unix(),
		Provider:  h.provider,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("❌ JSON encoding failed: %v", err)
	}
}
