package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vouchlend/config"
	"vouchlend/native/collateral"
	nativecommon "vouchlend/native/common"
	"vouchlend/native/lending"
	"vouchlend/observability"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server exposes the lending engine and collateral registry over HTTP. Caller
// identity is explicit in every request body; there is no ambient
// authentication at this layer.
type Server struct {
	log      *slog.Logger
	registry *collateral.Registry
	engine   *lending.Engine
}

// NewServer constructs the HTTP surface around the supplied engine and
// registry.
func NewServer(log *slog.Logger, registry *collateral.Registry, engine *lending.Engine) *Server {
	return &Server{log: log, registry: registry, engine: engine}
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Put("/collateral/{asset}", s.handleSetCollateralType)
		v1.Get("/collateral/{asset}", s.handleGetCollateralType)
		v1.Post("/loans", s.handleCreateLoan)
		v1.Get("/loans/{id}", s.handleGetLoan)
		v1.Post("/loans/{id}/repay", s.handleRepayLoan)
		v1.Post("/loans/{id}/liquidate", s.handleLiquidateLoan)
		v1.Post("/loans/{id}/claim", s.handleClaimRewards)
	})

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		observability.APIMetrics().Observe(route, r.Method, rec.status, time.Since(start))
	})
}

type setCollateralTypeRequest struct {
	Caller    string `json:"caller"`
	Supported bool   `json:"supported"`
	UnitPrice string `json:"unitPrice"`
	Decimals  uint8  `json:"decimals"`
	Kind      string `json:"kind"`
}

type collateralTypeResponse struct {
	Asset     string `json:"asset"`
	Supported bool   `json:"supported"`
	UnitPrice string `json:"unitPrice"`
	Decimals  uint8  `json:"decimals"`
	Kind      string `json:"kind"`
}

func newCollateralTypeResponse(entry *collateral.Type) collateralTypeResponse {
	return collateralTypeResponse{
		Asset:     entry.Asset,
		Supported: entry.Supported,
		UnitPrice: entry.UnitPrice.String(),
		Decimals:  entry.Decimals,
		Kind:      entry.Kind.String(),
	}
}

func (s *Server) handleSetCollateralType(w http.ResponseWriter, r *http.Request) {
	var req setCollateralTypeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseAmount(req.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unitPrice: %v", err))
		return
	}
	kind, err := collateral.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry := &collateral.Type{
		Asset:     chi.URLParam(r, "asset"),
		Supported: req.Supported,
		UnitPrice: price,
		Decimals:  req.Decimals,
		Kind:      kind,
	}
	stored, err := s.registry.SetCollateralType(caller, entry)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollateralTypeResponse(stored))
}

func (s *Server) handleGetCollateralType(w http.ResponseWriter, r *http.Request) {
	entry, found, err := s.registry.Get(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "collateral type not found")
		return
	}
	writeJSON(w, http.StatusOK, newCollateralTypeResponse(entry))
}

type createLoanRequest struct {
	Borrower           string   `json:"borrower"`
	CollateralAsset    string   `json:"collateralAsset"`
	CollateralQuantity string   `json:"collateralQuantity"`
	Principal          string   `json:"principal"`
	Stakers            []string `json:"stakers,omitempty"`
	VouchAmounts       []string `json:"vouchAmounts,omitempty"`
}

type loanResponse struct {
	ID                 uint64            `json:"id"`
	Borrower           string            `json:"borrower"`
	CollateralAsset    string            `json:"collateralAsset"`
	CollateralQuantity string            `json:"collateralQuantity"`
	Kind               string            `json:"kind"`
	Principal          string            `json:"principal"`
	StartTime          int64             `json:"startTime"`
	Status             string            `json:"status"`
	TotalVouched       string            `json:"totalVouched"`
	Vouches            map[string]string `json:"vouches,omitempty"`
	Stakers            []string          `json:"stakers,omitempty"`
}

func newLoanResponse(loan *lending.Loan) loanResponse {
	resp := loanResponse{
		ID:                 loan.ID,
		Borrower:           formatAddress(loan.Borrower),
		CollateralAsset:    loan.CollateralAsset,
		CollateralQuantity: loan.CollateralQuantity.String(),
		Kind:               loan.Kind.String(),
		Principal:          loan.Principal.String(),
		StartTime:          loan.StartTime,
		Status:             loan.Status.String(),
		TotalVouched:       loan.TotalVouched.String(),
	}
	if len(loan.Vouches) > 0 {
		resp.Vouches = make(map[string]string, len(loan.Vouches))
		for staker, amount := range loan.Vouches {
			resp.Vouches["0x"+staker] = amount.String()
		}
	}
	for _, staker := range loan.Stakers {
		resp.Stakers = append(resp.Stakers, formatAddress(staker))
	}
	return resp
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	borrower, err := config.ParseAddress(req.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quantity, err := parseAmount(req.CollateralQuantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("collateralQuantity: %v", err))
		return
	}
	principal, err := parseAmount(req.Principal)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("principal: %v", err))
		return
	}
	stakers := make([][20]byte, 0, len(req.Stakers))
	for _, raw := range req.Stakers {
		staker, err := config.ParseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		stakers = append(stakers, staker)
	}
	amounts := make([]*big.Int, 0, len(req.VouchAmounts))
	for _, raw := range req.VouchAmounts {
		amount, err := parseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("vouchAmounts: %v", err))
			return
		}
		amounts = append(amounts, amount)
	}

	loan, err := s.engine.CreateLoan(borrower, req.CollateralAsset, quantity, principal, stakers, amounts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.Info("loan created", "loanId", loan.ID, "borrower", formatAddress(loan.Borrower), "principal", loan.Principal.String())
	writeJSON(w, http.StatusCreated, newLoanResponse(loan))
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	loan, err := s.engine.GetLoan(loanID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type repayResponse struct {
	Loan     loanResponse `json:"loan"`
	Interest string       `json:"interest"`
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, r *http.Request) {
	loanID, caller, ok := s.decodeLoanAction(w, r)
	if !ok {
		return
	}
	loan, interest, err := s.engine.RepayLoan(caller, loanID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.Info("loan repaid", "loanId", loan.ID, "interest", interest.String())
	writeJSON(w, http.StatusOK, repayResponse{Loan: newLoanResponse(loan), Interest: interest.String()})
}

func (s *Server) handleLiquidateLoan(w http.ResponseWriter, r *http.Request) {
	loanID, caller, ok := s.decodeLoanAction(w, r)
	if !ok {
		return
	}
	loan, err := s.engine.LiquidateLoan(caller, loanID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.Info("loan liquidated", "loanId", loan.ID, "liquidator", formatAddress(caller))
	writeJSON(w, http.StatusOK, newLoanResponse(loan))
}

type claimResponse struct {
	LoanID        uint64 `json:"loanId"`
	Staker        string `json:"staker"`
	StakeReturned string `json:"stakeReturned"`
	Bonus         string `json:"bonus"`
	InterestShare string `json:"interestShare"`
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	loanID, caller, ok := s.decodeLoanAction(w, r)
	if !ok {
		return
	}
	claim, err := s.engine.ClaimStakerRewards(caller, loanID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.log.Info("rewards claimed", "loanId", claim.LoanID, "staker", formatAddress(claim.Staker))
	writeJSON(w, http.StatusOK, claimResponse{
		LoanID:        claim.LoanID,
		Staker:        formatAddress(claim.Staker),
		StakeReturned: claim.StakeReturned.String(),
		Bonus:         claim.Bonus.String(),
		InterestShare: claim.InterestShare.String(),
	})
}

func (s *Server) decodeLoanAction(w http.ResponseWriter, r *http.Request) (uint64, [20]byte, bool) {
	loanID, err := parseLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, [20]byte{}, false
	}
	var req callerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, [20]byte{}, false
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, [20]byte{}, false
	}
	return loanID, caller, true
}

// writeDomainError translates engine and registry sentinels onto HTTP status
// codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lending.ErrUnauthorized), errors.Is(err, collateral.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, lending.ErrLoanNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lending.ErrNotActive), errors.Is(err, lending.ErrNotSettled), errors.Is(err, lending.ErrNotEligible):
		status = http.StatusConflict
	case errors.Is(err, lending.ErrInvalidAmount), errors.Is(err, lending.ErrUnsupportedCollateral), errors.Is(err, collateral.ErrUnsupportedAsset):
		status = http.StatusBadRequest
	case errors.Is(err, lending.ErrInsufficientBalance), errors.Is(err, lending.ErrInsufficientCollateral), errors.Is(err, lending.ErrInsufficientLiquidity):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeRequest(r *http.Request, out any) error {
	body := http.MaxBytesReader(nil, r.Body, requestBodyLimit)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func parseLoanID(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid loan id %q", raw)
	}
	return id, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", raw)
	}
	return amount, nil
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    fmt.Sprintf("VLN-%d", status),
			"message": message,
		},
	})
}
