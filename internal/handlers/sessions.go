package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/hanko-field/pos/internal/checkout"
	"github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/format"
	"github.com/hanko-field/pos/internal/lookup"
	"github.com/hanko-field/pos/internal/platform/httpx"
	"github.com/hanko-field/pos/internal/platform/observability"
	"github.com/hanko-field/pos/internal/platform/requestctx"
	"github.com/hanko-field/pos/internal/session"
)

const maxSessionRequestBody = 8 * 1024

var (
	errEmptyBody    = errors.New("empty body")
	errBodyTooLarge = errors.New("body too large")
)

// SessionStore is the subset of the registry used by the handlers.
type SessionStore interface {
	Open(station domain.Station) *session.Session
	Get(id string) (*session.Session, bool)
	Close(id string) bool
	Len() int
}

// SessionHandlers exposes the register operations over HTTP.
type SessionHandlers struct {
	store  SessionStore
	policy *bluemonday.Policy
}

// NewSessionHandlers constructs handlers backed by the given store.
func NewSessionHandlers(store SessionStore) *SessionHandlers {
	return &SessionHandlers{
		store:  store,
		policy: bluemonday.StrictPolicy(),
	}
}

// Routes registers the session endpoints against the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.openSession)
	r.Route("/{sessionId}", func(sr chi.Router) {
		sr.Get("/", h.getSession)
		sr.Delete("/", h.closeSession)
		sr.Post("/lookup", h.lookupProduct)
		sr.Put("/staged", h.stageProduct)
		sr.Post("/lines", h.commitStaged)
		sr.Post("/checkout", h.checkout)
	})
}

type openSessionRequest struct {
	EmployeeCode string `json:"employee_code"`
	StoreCode    string `json:"store_code"`
	RegisterNo   string `json:"register_no"`
}

type lookupRequest struct {
	Code string `json:"code"`
}

type stageRequest struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

type stagedPayload struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
}

type linePayload struct {
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	Amount    int64  `json:"amount"`
}

type resultPayload struct {
	Success     bool  `json:"success"`
	TotalAmount int64 `json:"total_amount"`
}

type sessionResponse struct {
	ID            string         `json:"id"`
	EmployeeCode  string         `json:"employee_code"`
	StoreCode     string         `json:"store_code"`
	RegisterNo    string         `json:"register_no"`
	Staged        stagedPayload  `json:"staged"`
	StagedReady   bool           `json:"staged_ready"`
	Lines         []linePayload  `json:"lines"`
	Subtotal      int64          `json:"subtotal"`
	SubtotalLabel string         `json:"subtotal_label"`
	LastResult    *resultPayload `json:"last_result,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

type lookupResponse struct {
	sessionResponse
	Lookup string `json:"lookup"`
}

type commitResponse struct {
	sessionResponse
	Added bool `json:"added"`
}

type checkoutResponse struct {
	Success     bool            `json:"success"`
	TotalAmount int64           `json:"total_amount"`
	TotalLabel  string          `json:"total_label"`
	Subtotal    int64           `json:"subtotal"`
	Session     sessionResponse `json:"session"`
}

func (h *SessionHandlers) openSession(w http.ResponseWriter, r *http.Request) {
	var payload openSessionRequest
	body, err := readLimitedBody(r, maxSessionRequestBody)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		writeBodyError(r.Context(), w, err)
		return
	default:
		if err := json.Unmarshal(body, &payload); err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	s := h.store.Open(domain.Station{
		EmployeeCode: payload.EmployeeCode,
		StoreCode:    payload.StoreCode,
		RegisterNo:   payload.RegisterNo,
	})
	requestctx.Logger(r.Context()).Info("session opened",
		zap.String("session_id", s.ID()),
		zap.Int("open_sessions", h.store.Len()),
	)
	httpx.WriteJSON(w, http.StatusCreated, buildSessionResponse(s.Snapshot()))
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolveSession(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionResponse(s.Snapshot()))
}

func (h *SessionHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if !h.store.Close(id) {
		writeSessionNotFound(r.Context(), w, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandlers) lookupProduct(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolveSession(w, r)
	if !ok {
		return
	}
	var payload lookupRequest
	if !decodeBody(w, r, &payload) {
		return
	}

	ctx := requestctx.WithSessionID(r.Context(), s.ID())
	ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(
		zap.String("session_id", s.ID()),
		zap.String("code", observability.SanitizeCode(payload.Code)),
	))
	outcome, err := s.Lookup(ctx, payload.Code)
	if err != nil {
		writeLookupError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, lookupResponse{
		sessionResponse: buildSessionResponse(s.Snapshot()),
		Lookup:          string(outcome.Status),
	})
}

func (h *SessionHandlers) stageProduct(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolveSession(w, r)
	if !ok {
		return
	}
	var payload stageRequest
	if !decodeBody(w, r, &payload) {
		return
	}

	s.Stage(payload.Code, h.plainText(payload.Name), payload.Price)
	httpx.WriteJSON(w, http.StatusOK, buildSessionResponse(s.Snapshot()))
}

func (h *SessionHandlers) commitStaged(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolveSession(w, r)
	if !ok {
		return
	}
	added, err := s.Commit()
	if err != nil {
		writeSessionError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, commitResponse{
		sessionResponse: buildSessionResponse(s.Snapshot()),
		Added:           added,
	})
}

func (h *SessionHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	s, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	ctx := requestctx.WithSessionID(r.Context(), s.ID())
	receipt, err := s.Checkout(ctx)
	if err != nil {
		writeCheckoutError(ctx, w, err, buildSessionResponse(s.Snapshot()))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutResponse{
		Success:     receipt.Success,
		TotalAmount: receipt.TotalAmount,
		TotalLabel:  format.Yen(receipt.TotalAmount),
		Subtotal:    receipt.Subtotal,
		Session:     buildSessionResponse(s.Snapshot()),
	})
}

// plainText strips markup from operator input. The strict policy escapes what it keeps, so
// entities are decoded again before the name reaches the cart.
func (h *SessionHandlers) plainText(value string) string {
	return html.UnescapeString(h.policy.Sanitize(value))
}

func (h *SessionHandlers) resolveSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionId")
	s, ok := h.store.Get(id)
	if !ok {
		writeSessionNotFound(r.Context(), w, id)
		return nil, false
	}
	return s, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxSessionRequestBody)
	if err != nil {
		writeBodyError(r.Context(), w, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errEmptyBody
	}
	return body, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
	}
}

func writeSessionNotFound(ctx context.Context, w http.ResponseWriter, id string) {
	httpx.WriteError(ctx, w, httpx.NewError("session_not_found", fmt.Sprintf("session %q not found", id), http.StatusNotFound))
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrCheckoutInProgress) {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "a checkout for this session is still pending", http.StatusConflict))
		return
	}
	requestctx.Logger(ctx).Error("session operation failed", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
}

func writeLookupError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, lookup.ErrInvalidCode) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_code", "product code is required", http.StatusBadRequest))
		return
	}
	var lookupErr *lookup.Error
	if errors.As(err, &lookupErr) {
		requestctx.Logger(ctx).Warn("product lookup failed", zap.Int("upstream_status", lookupErr.Status), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("lookup_failed", "product lookup failed", http.StatusBadGateway).
			WithDetails(map[string]any{"upstream_status": lookupErr.Status}))
		return
	}
	writeSessionError(ctx, w, err)
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error, snapshot sessionResponse) {
	if errors.Is(err, checkout.ErrPurchaseRejected) {
		httpx.WriteError(ctx, w, httpx.NewError("purchase_rejected", "the purchase was rejected", http.StatusConflict).
			WithDetails(map[string]any{"session": snapshot}))
		return
	}
	var purchaseErr *checkout.PurchaseError
	if errors.As(err, &purchaseErr) {
		requestctx.Logger(ctx).Warn("purchase failed", zap.Int("upstream_status", purchaseErr.Status), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("purchase_failed", "purchase submission failed", http.StatusBadGateway).
			WithDetails(map[string]any{"upstream_status": purchaseErr.Status, "session": snapshot}))
		return
	}
	writeSessionError(ctx, w, err)
}

func buildSessionResponse(snap session.Snapshot) sessionResponse {
	lines := make([]linePayload, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		lines = append(lines, linePayload{
			ProductID: line.ProductID,
			Code:      line.Code,
			Name:      line.Name,
			Price:     line.Price,
			Qty:       line.Qty,
			Amount:    line.Amount(),
		})
	}
	resp := sessionResponse{
		ID:           snap.ID,
		EmployeeCode: snap.Station.EmployeeCode,
		StoreCode:    snap.Station.StoreCode,
		RegisterNo:   snap.Station.RegisterNo,
		Staged: stagedPayload{
			ProductID: snap.Staged.ProductID,
			Code:      snap.Staged.Code,
			Name:      snap.Staged.Name,
			Price:     snap.Staged.Price,
		},
		StagedReady:   snap.StagedReady,
		Lines:         lines,
		Subtotal:      snap.Subtotal,
		SubtotalLabel: format.Yen(snap.Subtotal),
		CreatedAt:     snap.CreatedAt.Format(time.RFC3339),
	}
	if snap.LastResult != nil {
		resp.LastResult = &resultPayload{
			Success:     snap.LastResult.Success,
			TotalAmount: snap.LastResult.TotalAmount,
		}
	}
	return resp
}
