// Package httpapi exposes the wager service over HTTP for session-authenticated users.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// Ledger is the slice of wager.Service the HTTP facade needs.
type Ledger interface {
	OpenAccount(ctx context.Context, userID wager.UserID) (wager.Account, error)
	ResolveWager(ctx context.Context, request wager.Wager) (wager.Resolution, error)
	Balance(ctx context.Context, userID wager.UserID) (wager.Amount, error)
	Policy(ctx context.Context) (wager.Policy, error)
	UpdatePolicy(ctx context.Context, update wager.PolicyUpdate) (wager.Policy, error)
	AggregateStats(ctx context.Context) (wager.Stats, error)
}

// Run serves the HTTP facade until ctx is cancelled.
func Run(ctx context.Context, cfg Config, ledger Ledger, logger *zap.Logger, gatherer prometheus.Gatherer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	handler, err := NewHandler(cfg, ledger, logger, gatherer)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewHandler builds the router. cfg must already be validated.
func NewHandler(cfg Config, ledger Ledger, logger *zap.Logger, gatherer prometheus.Gatherer) (http.Handler, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", wager.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	handler := &httpHandler{logger: logger, ledger: ledger, cfg: cfg}
	return setupRouter(cfg, handler, sessionValidator, gatherer), nil
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.POST("/accounts", handler.handleOpenAccount)
	api.GET("/balance", handler.handleBalance)
	api.POST("/wagers", handler.handleWager)
	api.GET("/settings", handler.handleGetSettings)
	api.POST("/settings", handler.handleUpdateSettings)
	api.GET("/stats", handler.handleStats)

	return router
}

type httpHandler struct {
	logger *zap.Logger
	ledger Ledger
	cfg    Config
}

func (handler *httpHandler) handleOpenAccount(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	account, err := handler.ledger.OpenAccount(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"success": true, "account": newAccountPayload(account)})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	balance, err := handler.ledger.Balance(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "balance": balance.Int64()})
}

func (handler *httpHandler) handleWager(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var request wagerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, failureResponse(wager.ErrorKindValidation, "invalid_payload", "expected JSON body with integer stake"))
		return
	}
	parsed, err := wager.NewWager(userID.String(), request.Stake)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	resolution, err := handler.ledger.ResolveWager(requestCtx, parsed)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, wagerResponse{
		Success:      true,
		ResolutionID: resolution.ResolutionID,
		NewBalance:   resolution.NewBalance.Int64(),
		Outcome: outcomePayload{
			Win:    resolution.Outcome.Win,
			Amount: resolution.Outcome.Amount.Int64(),
		},
	})
}

func (handler *httpHandler) handleGetSettings(ctx *gin.Context) {
	if _, ok := requireUser(ctx); !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	policy, err := handler.ledger.Policy(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newPolicyPayload(policy))
}

func (handler *httpHandler) handleUpdateSettings(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	if !hasRole(claims, handler.cfg.AdminRole) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "settings require the "+handler.cfg.AdminRole+" role"))
		return
	}
	var update wager.PolicyUpdate
	if err := ctx.ShouldBindJSON(&update); err != nil {
		ctx.JSON(http.StatusBadRequest, failureResponse(wager.ErrorKindValidation, "invalid_payload", "expected JSON policy update"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	policy, err := handler.ledger.UpdatePolicy(requestCtx, update)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newPolicyPayload(policy))
}

func (handler *httpHandler) handleStats(ctx *gin.Context) {
	if _, ok := requireUser(ctx); !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	stats, err := handler.ledger.AggregateStats(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, statsPayload{
		TotalWon:       stats.TotalWon.Int64(),
		TotalLost:      stats.TotalLost.Int64(),
		SpinCount:      stats.SpinCount,
		WinRatePercent: stats.WinRatePercent.InexactFloat64(),
		TargetReached:  stats.TargetReached,
	})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	kind := wager.KindOf(err)
	if kind == wager.ErrorKindPersistence {
		handler.logger.Error("wager request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(statusForKind(kind), failureResponse(kind, wager.CodeOf(err), err.Error()))
}

func statusForKind(kind wager.ErrorKind) int {
	switch kind {
	case wager.ErrorKindValidation:
		return http.StatusBadRequest
	case wager.ErrorKindNotFound:
		return http.StatusNotFound
	case wager.ErrorKindConflict:
		return http.StatusConflict
	case wager.ErrorKindConcurrency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requireUser(ctx *gin.Context) (wager.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return wager.UserID{}, false
	}
	userID, err := wager.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session carries no user id"))
		return wager.UserID{}, false
	}
	return userID, true
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func hasRole(claims *sessionvalidator.Claims, role string) bool {
	for _, candidate := range claims.GetUserRoles() {
		if candidate == role {
			return true
		}
	}
	return false
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func failureResponse(kind wager.ErrorKind, code string, message string) gin.H {
	response := errorResponse(code, message)
	response["errorKind"] = kind.String()
	response["retryable"] = kind.Retryable()
	return response
}

type wagerRequest struct {
	Stake int64 `json:"stake"`
}

type outcomePayload struct {
	Win    bool  `json:"win"`
	Amount int64 `json:"amount"`
}

type wagerResponse struct {
	Success      bool           `json:"success"`
	ResolutionID string         `json:"resolutionId"`
	NewBalance   int64          `json:"newBalance"`
	Outcome      outcomePayload `json:"outcome"`
}

type accountPayload struct {
	UserID     string    `json:"userId"`
	Balance    int64     `json:"balance"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUpdate time.Time `json:"lastUpdate"`
}

func newAccountPayload(account wager.Account) accountPayload {
	return accountPayload{
		UserID:     account.UserID.String(),
		Balance:    account.Balance.Int64(),
		CreatedAt:  account.CreatedAt,
		LastUpdate: account.LastUpdate,
	}
}

type policyPayload struct {
	AutoMode       bool  `json:"autoMode"`
	WinRatePercent int64 `json:"winRatePercent"`
	MinPayout      int64 `json:"minPayout"`
	MaxPayout      int64 `json:"maxPayout"`
	MinStake       int64 `json:"minStake"`
	MaxStake       int64 `json:"maxStake"`
	DefaultBalance int64 `json:"defaultBalance"`
}

func newPolicyPayload(policy wager.Policy) policyPayload {
	return policyPayload{
		AutoMode:       policy.AutoMode,
		WinRatePercent: policy.WinRatePercent,
		MinPayout:      policy.MinPayout.Int64(),
		MaxPayout:      policy.MaxPayout.Int64(),
		MinStake:       policy.MinStake.Int64(),
		MaxStake:       policy.MaxStake.Int64(),
		DefaultBalance: policy.DefaultBalance.Int64(),
	}
}

type statsPayload struct {
	TotalWon       int64   `json:"totalWon"`
	TotalLost      int64   `json:"totalLost"`
	SpinCount      int64   `json:"spinCount"`
	WinRatePercent float64 `json:"winRatePercent"`
	TargetReached  bool    `json:"targetReached"`
}
