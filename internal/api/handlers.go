package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fanstake/fanstake/internal/apperr"
	"github.com/fanstake/fanstake/internal/models"
	"gorm.io/gorm"
)

// PoolView is the external shape of a pool row. TotalStaked is the cached
// snapshot; dashboard figures are recomputed from the ledger.
type PoolView struct {
	ID          uint      `json:"id"`
	ChainID     uint64    `json:"chainId"`
	PoolAddress *string   `json:"poolAddress,omitempty"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	ImageRef    string    `json:"imageRef,omitempty"`
	TotalStaked string    `json:"totalStaked"`
	CreatedAt   time.Time `json:"createdAt"`
}

type createPoolRequest struct {
	ChainID     uint64 `json:"chainId"`
	Description string `json:"description"`
}

type confirmPoolRequest struct {
	ChainID uint64 `json:"chainId"`
}

type updateDescriptionRequest struct {
	ChainID     uint64 `json:"chainId"`
	Description string `json:"description"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func poolView(p *models.Pool) PoolView {
	status := "pending"
	if p.Confirmed() {
		status = "confirmed"
	}
	return PoolView{
		ID:          p.ID,
		ChainID:     p.ChainID,
		PoolAddress: p.PoolAddress,
		Status:      status,
		Description: p.Description,
		ImageRef:    p.ImageRef,
		TotalStaked: p.TotalStaked,
		CreatedAt:   p.CreatedAt,
	}
}

// callerWallet resolves the authenticated user to their wallet. A caller
// with no wallet has nothing to reconcile against.
func (s *Server) callerWallet(r *http.Request) (*models.Wallet, error) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return nil, apperr.Wrap(apperr.ErrForbidden, "missing authenticated user")
	}

	var wallet models.Wallet
	err := s.db.WithContext(r.Context()).Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrPreconditionFailed, "user %s has no wallet", userID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "wallet lookup failed: %v", err)
	}
	return &wallet, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Chain and store
// failures are surfaced, never swallowed into default values.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrPreconditionFailed):
		status = http.StatusPreconditionFailed
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrVerificationUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrNoOnChainPool):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
		s.writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.callerWallet(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req createPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChainID == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "chainId is required"})
		return
	}

	p, err := s.pools.Create(r.Context(), wallet, req.ChainID, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, poolView(p))
}

func (s *Server) handleConfirmPool(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.callerWallet(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req confirmPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChainID == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "chainId is required"})
		return
	}

	p, err := s.pools.Confirm(r.Context(), wallet, req.ChainID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint{"id": p.ID})
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.callerWallet(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	chainID, err := chainIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	id, err := s.pools.DeleteOnError(r.Context(), wallet, chainID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.callerWallet(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	chainID, err := chainIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	p, err := s.pools.Get(r.Context(), wallet, chainID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p == nil {
		s.writeJSON(w, http.StatusOK, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, poolView(p))
}

func (s *Server) handleUpdateDescription(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.callerWallet(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req updateDescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChainID == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "chainId is required"})
		return
	}

	p, err := s.pools.UpdateDescription(r.Context(), wallet, req.ChainID, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, poolView(p))
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.callerWallet(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.requirePool(r, wallet)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.ledger.Recompute(r.Context(), p.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint{"id": p.ID})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.callerWallet(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.requirePool(r, wallet)
	if err != nil {
		s.writeError(w, err)
		return
	}

	view, err := s.aggregator.GetDashboard(r.Context(), wallet, p, time.Now().UTC())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFans(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.callerWallet(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.requirePool(r, wallet)
	if err != nil {
		s.writeError(w, err)
		return
	}

	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "pageSize", 10)
	orderBy := r.URL.Query().Get("orderBy")
	direction := r.URL.Query().Get("direction")

	fans, total, err := s.aggregator.GetFans(r.Context(), wallet, p, page, pageSize, orderBy, direction)
	if err != nil {
		if errors.Is(err, apperr.ErrForbidden) {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"fans":      fans,
		"totalFans": total,
		"page":      page,
		"pageSize":  pageSize,
	})
}

func (s *Server) requirePool(r *http.Request, wallet *models.Wallet) (*models.Pool, error) {
	chainID, err := chainIDParam(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrNotFound, "%v", err)
	}

	p, err := s.pools.Get(r.Context(), wallet, chainID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.Wrap(apperr.ErrNotFound, "no pool for chain %d", chainID)
	}
	return p, nil
}

func chainIDParam(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("chainId")
	if raw == "" {
		return 0, errors.New("chainId query parameter is required")
	}
	chainID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || chainID == 0 {
		return 0, errors.New("chainId must be a positive integer")
	}
	return chainID, nil
}

func intQuery(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return defaultValue
	}
	return value
}
