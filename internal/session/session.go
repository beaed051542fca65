package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/pos/internal/cart"
	"github.com/hanko-field/pos/internal/checkout"
	"github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/lookup"
	"github.com/hanko-field/pos/internal/platform/requestctx"
)

// ErrCheckoutInProgress is returned when the cart is modified or submitted again while a
// checkout for the same session has not returned yet.
var ErrCheckoutInProgress = errors.New("session: checkout in progress")

// ProductLookup resolves scanned codes.
type ProductLookup interface {
	Lookup(ctx context.Context, code string) (domain.Product, error)
}

// Checkouter submits cart lines as a purchase.
type Checkouter interface {
	Checkout(ctx context.Context, lines []domain.CartLine, station domain.Station) (domain.PurchaseResult, error)
}

// LookupStatus describes how a lookup was applied to the staged product.
type LookupStatus string

const (
	LookupFound    LookupStatus = "found"
	LookupNotFound LookupStatus = "not_found"
	// LookupStale marks a response that arrived after the operator staged something else.
	LookupStale LookupStatus = "stale"
)

// LookupOutcome is the result of Session.Lookup.
type LookupOutcome struct {
	Status  LookupStatus
	Product domain.Product
}

// Receipt is the outcome of Session.Checkout. Subtotal and Lines describe exactly what was
// submitted, which may differ from the cart by the time the caller reads it.
type Receipt struct {
	domain.PurchaseResult
	Subtotal int64
	Lines    []domain.CartLine
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	ID          string
	Station     domain.Station
	Staged      domain.StagedProduct
	StagedReady bool
	Lines       []domain.CartLine
	Subtotal    int64
	LastResult  *domain.PurchaseResult
	CreatedAt   time.Time
}

// Session is one operator's checkout session: a cart, the staged product and the station
// context. Sessions are independent; nothing is shared between them.
type Session struct {
	id        string
	station   domain.Station
	lookup    ProductLookup
	checkout  Checkouter
	newKey    func() string
	now       func() time.Time
	createdAt time.Time

	mu          sync.Mutex
	lastActive  time.Time
	cart        *cart.Cart
	staged      domain.StagedProduct
	priceOK     bool
	generation  uint64
	inFlight    bool
	checkoutKey string
	lastResult  *domain.PurchaseResult
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Station returns the station context attached at creation.
func (s *Session) Station() domain.Station { return s.station }

// Lookup resolves code and stages the result. The session lock is not held while the request is
// outstanding; if the operator stages, commits or looks up something else in the meantime the
// response is discarded and LookupStale is returned. A not-found result clears the staged product.
// Lookup failures leave the staged product and cart untouched.
func (s *Session) Lookup(ctx context.Context, code string) (LookupOutcome, error) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.touch()
	s.mu.Unlock()

	product, err := s.lookup.Lookup(ctx, code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		requestctx.Logger(ctx).Debug("discarding stale lookup response", zap.Uint64("generation", gen))
		return LookupOutcome{Status: LookupStale}, nil
	}

	switch {
	case errors.Is(err, lookup.ErrNotFound):
		s.clearStaged()
		return LookupOutcome{Status: LookupNotFound}, nil
	case err != nil:
		return LookupOutcome{}, err
	}

	s.staged = domain.StagedFromProduct(product)
	s.priceOK = true
	return LookupOutcome{Status: LookupFound, Product: product}, nil
}

// Stage replaces the staged product with operator-typed fields. It reports whether the entry is
// complete enough to be committed. Pending lookups are invalidated.
func (s *Session) Stage(code, name, rawPrice string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.touch()
	price, ok := cart.ParsePrice(rawPrice)
	s.staged = domain.StagedProduct{
		Code:  strings.TrimSpace(code),
		Name:  strings.TrimSpace(name),
		Price: price,
	}
	s.priceOK = ok
	return s.stagedReady()
}

// Commit adds the staged product to the cart. Incomplete entries are ignored and reported by
// returning false. On success the staged product is cleared.
func (s *Session) Commit() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return false, ErrCheckoutInProgress
	}
	s.touch()
	if !s.priceOK {
		return false, nil
	}
	if !s.cart.AddProduct(s.staged) {
		return false, nil
	}
	s.generation++
	s.clearStaged()
	s.checkoutKey = ""
	return true, nil
}

// Checkout submits the cart. The cart is cleared only when the backend confirms the purchase; on
// rejection or failure it is left intact so the operator can retry. Retries after a transport
// failure reuse the idempotency key of the failed attempt while the cart is unchanged.
func (s *Session) Checkout(ctx context.Context) (Receipt, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return Receipt{}, ErrCheckoutInProgress
	}
	s.inFlight = true
	s.touch()
	lines := s.cart.Lines()
	receipt := Receipt{Subtotal: cart.Subtotal(lines), Lines: lines}
	if s.checkoutKey == "" {
		s.checkoutKey = s.newKey()
	}
	key := s.checkoutKey
	s.mu.Unlock()

	result, err := s.checkout.Checkout(checkout.WithIdempotencyKey(ctx, key), lines, s.station)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.touch()
	receipt.PurchaseResult = result

	if err != nil {
		if errors.Is(err, checkout.ErrPurchaseRejected) {
			s.checkoutKey = ""
			rejected := result
			s.lastResult = &rejected
		}
		return receipt, err
	}

	s.cart.Clear()
	s.checkoutKey = ""
	confirmed := result
	s.lastResult = &confirmed
	return receipt, nil
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          s.id,
		Station:     s.station,
		Staged:      s.staged,
		StagedReady: s.stagedReady(),
		Lines:       s.cart.Lines(),
		Subtotal:    s.cart.Subtotal(),
		CreatedAt:   s.createdAt,
	}
	if s.lastResult != nil {
		last := *s.lastResult
		snap.LastResult = &last
	}
	return snap
}

// idleSince reports when the session was last used. ok is false while a checkout is pending.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, !s.inFlight
}

func (s *Session) touch() {
	s.lastActive = s.now()
}

func (s *Session) stagedReady() bool {
	return s.priceOK && s.staged.Name != "" && s.staged.Price >= 0
}

func (s *Session) clearStaged() {
	s.staged = domain.StagedProduct{}
	s.priceOK = false
}
