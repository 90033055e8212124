package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/domain/model"
	"github.com/Phathdt/pmm-sub001/internal/payout"
	"github.com/Phathdt/pmm-sub001/internal/store"
	"github.com/Phathdt/pmm-sub001/internal/store/redis"
	"github.com/go-chi/chi/v5"
)

const maxRequestBodyBytes = 1 << 20

// activeStatuses is the default listing filter.
var activeStatuses = []model.RebalancingStatus{
	model.RebalancingStatusPending,
	model.RebalancingStatusMempoolVerified,
	model.RebalancingStatusQuoteRequested,
	model.RebalancingStatusQuoteAccepted,
	model.RebalancingStatusDepositSubmitted,
	model.RebalancingStatusSwapProcessing,
	model.RebalancingStatusFailed,
}

// RebalancingStore is the part of the repository the admin API needs.
type RebalancingStore interface {
	FindByTradeHash(ctx context.Context, tradeHash string) (*model.Rebalancing, error)
	FindByStatus(ctx context.Context, statuses ...model.RebalancingStatus) ([]model.Rebalancing, error)
	Requeue(ctx context.Context, id int64) (int, error)
}

// PayoutSubmitter enqueues settlement payouts. *payout.Service implements it.
type PayoutSubmitter interface {
	Submit(ctx context.Context, job payout.Job) error
}

// Server is the operator API: rebalancing inspection, manual retry and
// payout submission.
type Server struct {
	store   RebalancingStore
	payouts PayoutSubmitter
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewServer(store RebalancingStore, payouts PayoutSubmitter, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		payouts: payouts,
		limiter: NewRateLimiter(logger),
		logger:  logger.With("component", "admin"),
	}
}

// Register mounts the admin routes under /admin/v1.
func (s *Server) Register(r chi.Router) {
	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware, Audit(s.logger))
		r.Get("/rebalancings", s.handleListRebalancings)
		r.Get("/rebalancings/{tradeHash}", s.handleGetRebalancing)
		r.Post("/rebalancings/{tradeHash}/retry", s.handleRetryRebalancing)
		r.Post("/payouts", s.handleSubmitPayout)
	})
}

type rebalancingResponse struct {
	RebalancingID    string    `json:"rebalancingId"`
	TradeHash        string    `json:"tradeHash"`
	TradeID          *string   `json:"tradeId,omitempty"`
	Status           string    `json:"status"`
	Amount           string    `json:"amount"`
	RealAmount       *string   `json:"realAmount,omitempty"`
	OraclePrice      *string   `json:"oraclePrice,omitempty"`
	QuotePrice       *string   `json:"quotePrice,omitempty"`
	SlippageBps      *int64    `json:"slippageBps,omitempty"`
	ExpectedUsdc     *string   `json:"expectedUsdc,omitempty"`
	ActualUsdc       *string   `json:"actualUsdc,omitempty"`
	TxID             *string   `json:"txId,omitempty"`
	DepositAddress   *string   `json:"depositAddress,omitempty"`
	NearVaultTxID    *string   `json:"nearVaultTxId,omitempty"`
	QuoteID          *string   `json:"quoteId,omitempty"`
	RetryCount       int       `json:"retryCount"`
	Error            *string   `json:"error,omitempty"`
	TradeCompletedAt time.Time `json:"tradeCompletedAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toResponse(r *model.Rebalancing) rebalancingResponse {
	return rebalancingResponse{
		RebalancingID:    r.RebalancingID,
		TradeHash:        r.TradeHash,
		TradeID:          r.TradeID,
		Status:           r.Status.String(),
		Amount:           r.Amount,
		RealAmount:       r.RealAmount,
		OraclePrice:      r.OraclePrice,
		QuotePrice:       r.QuotePrice,
		SlippageBps:      r.SlippageBps,
		ExpectedUsdc:     r.ExpectedUsdc,
		ActualUsdc:       r.ActualUsdc,
		TxID:             r.TxID,
		DepositAddress:   r.DepositAddress,
		NearVaultTxID:    r.NearVaultTxID,
		QuoteID:          r.QuoteID,
		RetryCount:       r.RetryCount,
		Error:            r.Error,
		TradeCompletedAt: r.TradeCompletedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (s *Server) handleListRebalancings(w http.ResponseWriter, r *http.Request) {
	statuses := activeStatuses
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = nil
		for _, part := range strings.Split(raw, ",") {
			st := model.RebalancingStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "invalid status "+part)
				return
			}
			statuses = append(statuses, st)
		}
	}

	records, err := s.store.FindByStatus(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("list rebalancings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]rebalancingResponse, 0, len(records))
	for i := range records {
		out = append(out, toResponse(&records[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleGetRebalancing(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

// handleRetryRebalancing returns a FAILED record to PENDING immediately
// instead of waiting for the retry scheduler.
func (s *Server) handleRetryRebalancing(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if rec.Status != model.RebalancingStatusFailed {
		writeError(w, http.StatusConflict, "only FAILED rebalancings can be retried, status is "+rec.Status.String())
		return
	}
	count, err := s.store.Requeue(r.Context(), rec.ID)
	switch {
	case errors.Is(err, store.ErrStatusConflict):
		writeError(w, http.StatusConflict, "rebalancing is no longer FAILED")
		return
	case err != nil:
		s.logger.Error("requeue rebalancing", "rebalancing_id", rec.RebalancingID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	rec.RetryCount = count
	rec.Status = model.RebalancingStatusPending
	s.logger.Info("rebalancing manually retried", "rebalancing_id", rec.RebalancingID, "retry_count", count)
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (s *Server) handleSubmitPayout(w http.ResponseWriter, r *http.Request) {
	var job payout.Job
	if !decodeJSONBody(w, r, &job) {
		return
	}
	err := s.payouts.Submit(r.Context(), job)
	switch {
	case errors.Is(err, payout.ErrInvalidJob):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, redis.ErrDuplicateJob):
		writeError(w, http.StatusConflict, "payout already submitted for trade "+job.TradeID)
	case err != nil:
		s.logger.Error("submit payout", "trade_id", job.TradeID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"tradeId": job.TradeID, "status": "queued"})
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*model.Rebalancing, bool) {
	hash := chi.URLParam(r, "tradeHash")
	rec, err := s.store.FindByTradeHash(r.Context(), hash)
	if err != nil {
		s.logger.Error("find rebalancing", "trade_hash", hash, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "rebalancing not found")
		return nil, false
	}
	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
