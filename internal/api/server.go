package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smmpanel/internal/apperr"
	"smmpanel/internal/broadcast"
	"smmpanel/internal/logger"
	"smmpanel/internal/menu"
	"smmpanel/internal/metrics"
	"smmpanel/internal/middleware"
	"smmpanel/internal/models"
	"smmpanel/internal/settings"
	"smmpanel/internal/utils"
)

const shutdownTimeout = 10 * time.Second

type Store interface {
	settings.Source
	SetSetting(ctx context.Context, key, value string) error

	GetUser(ctx context.Context, id int64) (models.User, error)
	SetBanned(ctx context.Context, id int64, banned bool) error

	CreateService(ctx context.Context, svc models.Service) (models.Service, error)
	UpdateService(ctx context.Context, svc models.Service) (models.Service, error)
	GetService(ctx context.Context, id int64) (models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)

	ListDeposits(ctx context.Context, status models.DepositStatus) ([]models.Deposit, error)
	ListOrders(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) (models.Order, error)

	Statistics(ctx context.Context, since time.Time) (models.Statistics, error)
}

type Ledger interface {
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error)
	Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (models.User, error)
}

type Moderation interface {
	IsOperator(id int64) bool
	Approve(ctx context.Context, snap settings.Snapshot, depositID, operatorID int64) (models.Deposit, error)
	Reject(ctx context.Context, snap settings.Snapshot, depositID, operatorID int64) (models.Deposit, error)
}

type Broadcaster interface {
	Send(ctx context.Context, adminID int64, text string) (broadcast.Result, error)
}

// Auth holds the operator login secrets.
type Auth struct {
	JWTSecret    []byte
	PasswordHash string
}

type Server struct {
	store       Store
	ledger      Ledger
	queue       Moderation
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	auth        Auth
	router      *chi.Mux
	logger      *zap.Logger
}

// SettingRequest is the body of PUT /api/settings/{key}.
type SettingRequest struct {
	Value string `json:"value"`
}

func NewServer(store Store, ledger Ledger, queue Moderation, b Broadcaster, m *metrics.Metrics, auth Auth, log *zap.Logger) *Server {
	s := &Server{
		store:       store,
		ledger:      ledger,
		queue:       queue,
		broadcaster: b,
		metrics:     m,
		auth:        auth,
		logger:      logger.OrNop(log).Named("api"),
	}
	s.router = s.RegisterRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("admin api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// fail maps the error taxonomy onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, apperr.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrInsufficientFunds):
		http.Error(w, "Insufficient balance", http.StatusConflict)
	case errors.Is(err, apperr.ErrAlreadyDecided):
		http.Error(w, "Already decided", http.StatusConflict)
	case errors.Is(err, apperr.ErrDenied):
		http.Error(w, "Access denied", http.StatusForbidden)
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func operatorID(r *http.Request) int64 {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return 0
	}
	return claims.OperatorID
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(s.auth.JWTSecret) == 0 || !s.queue.IsOperator(req.OperatorID) || !utils.CheckPasswordHash(req.Password, s.auth.PasswordHash) {
		s.logger.Warn("login refused", zap.Int64("operator_id", req.OperatorID))
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := middleware.GenerateToken(s.auth.JWTSecret, req.OperatorID, middleware.RoleAdmin)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, OperatorID: req.OperatorID})
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := settings.Load(r.Context(), s.store)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.All())
}

func (s *Server) updateSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req SettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := settings.Validate(key, req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.SetSetting(r.Context(), key, req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("setting updated", zap.String("key", key), zap.Int64("operator_id", operatorID(r)))
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": req.Value})
}

func validateService(svc models.Service) error {
	switch {
	case strings.TrimSpace(svc.Name) == "" || strings.TrimSpace(svc.Category) == "":
		return fmt.Errorf("name and category are required: %w", apperr.ErrValidation)
	case !svc.Price.IsPositive():
		return fmt.Errorf("price must be positive: %w", apperr.ErrValidation)
	case svc.MinQuantity < 1 || svc.MaxQuantity < svc.MinQuantity:
		return fmt.Errorf("quantity bounds must satisfy 1 <= min <= max: %w", apperr.ErrValidation)
	}
	return nil
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	services, err := s.store.ListServices(r.Context(), activeOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIDFromPath(r, "id")
	if err != nil {
		http.Error(w, "Invalid service ID", http.StatusBadRequest)
		return
	}
	svc, err := s.store.GetService(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) createService(w http.ResponseWriter, r *http.Request) {
	var svc models.Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateService(svc); err != nil {
		s.fail(w, r, err)
		return
	}
	created, err := s.store.CreateService(r.Context(), svc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updateService(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIDFromPath(r, "id")
	if err != nil {
		http.Error(w, "Invalid service ID", http.StatusBadRequest)
		return
	}
	var svc models.Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	svc.ID = id
	if err := validateService(svc); err != nil {
		s.fail(w, r, err)
		return
	}
	updated, err := s.store.UpdateService(r.Context(), svc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIDFromPath(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	u, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) setBanned(banned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.GetIDFromPath(r, "id")
		if err != nil {
			http.Error(w, "Invalid user ID", http.StatusBadRequest)
			return
		}
		if err := s.store.SetBanned(r.Context(), id, banned); err != nil {
			s.fail(w, r, err)
			return
		}
		s.logger.Info("user ban changed",
			zap.Int64("user_id", id),
			zap.Bool("banned", banned),
			zap.Int64("operator_id", operatorID(r)))
		writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "banned": banned})
	}
}

// adjustBalance credits a positive amount and withdraws a negative one.
func (s *Server) adjustBalance(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIDFromPath(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	var req models.AdjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var u models.User
	switch {
	case req.Amount.IsPositive():
		u, err = s.ledger.Credit(r.Context(), id, req.Amount)
	case req.Amount.IsNegative():
		u, err = s.ledger.Withdraw(r.Context(), id, req.Amount.Neg())
	default:
		http.Error(w, "Amount must be non-zero", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("balance adjusted",
		zap.Int64("user_id", id),
		zap.String("amount", req.Amount.String()),
		zap.Int64("operator_id", operatorID(r)))
	writeJSON(w, http.StatusOK, models.UserBalance{UserID: u.ID, Name: u.DisplayName(), Balance: u.Balance})
}

func (s *Server) listDeposits(w http.ResponseWriter, r *http.Request) {
	status := models.DepositStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.DepositPending, models.DepositApproved, models.DepositRejected:
	default:
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}
	deposits, err := s.store.ListDeposits(r.Context(), status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}

func (s *Server) decideDeposit(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := utils.GetIDFromPath(r, "id")
		if err != nil {
			http.Error(w, "Invalid deposit ID", http.StatusBadRequest)
			return
		}
		snap, err := settings.Load(r.Context(), s.store)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		var d models.Deposit
		if approve {
			d, err = s.queue.Approve(r.Context(), snap, id, operatorID(r))
		} else {
			d, err = s.queue.Reject(r.Context(), snap, id, operatorID(r))
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid user ID", http.StatusBadRequest)
			return
		}
		userID = id
	}
	orders, err := s.store.ListOrders(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIDFromPath(r, "id")
	if err != nil {
		http.Error(w, "Invalid order ID", http.StatusBadRequest)
		return
	}
	var req models.UpdateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !models.ValidOrderStatus(req.Status) {
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}
	o, err := s.store.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) sendBroadcast(w http.ResponseWriter, r *http.Request) {
	var req models.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := s.broadcaster.Send(r.Context(), operatorID(r), req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context(), menu.StartOfDay(time.Now()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
