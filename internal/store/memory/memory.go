package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/xid"
)

// Store keeps stalls and sales in process memory. Transactions are optimistic:
// bodies run without holding the lock and commit only if every stall they read
// still carries the version they saw.
type Store struct {
	mu          sync.RWMutex
	stalls      map[string]domain.Stall
	versions    map[string]int64
	created     map[string]uint64
	nextSeq     uint64
	sales       []domain.Sale
	users       map[string]domain.UserAccount
	maxAttempts int
	clock       func() time.Time
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		stalls:      make(map[string]domain.Stall),
		versions:    make(map[string]int64),
		created:     make(map[string]uint64),
		users:       make(map[string]domain.UserAccount),
		maxAttempts: store.DefaultMaxAttempts,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeeded returns a store holding one demo stall for dev mode.
func NewSeeded(opts ...Option) *Store {
	s := New(opts...)

	pin := envOr("SEED_SELLER_PIN", "1357")
	if os.Getenv("SEED_SELLER_PIN") == "" {
		log.Println("[memory-store] WARNING: demo stall uses default seller PIN. Set SEED_SELLER_PIN to override.")
	}
	stock := 24
	demo := domain.Stall{
		ID:        xid.New("stall"),
		Name:      "Cake Stall",
		SellerPIN: &pin,
		Products: []domain.Product{
			{ID: xid.New("prd"), Name: "Brownie", Price: decimal.RequireFromString("2.00"), StockCount: &stock},
			{ID: xid.New("prd"), Name: "Tea", Price: decimal.RequireFromString("1.50")},
		},
	}
	s.stalls[demo.ID] = demo
	s.versions[demo.ID] = 1
	s.nextSeq++
	s.created[demo.ID] = s.nextSeq
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) RunInTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.RetryConflicts(ctx, s.maxAttempts, func(ctx context.Context, _ int) error {
		tx := &memTx{
			s:      s,
			now:    s.clock().UTC(),
			reads:  make(map[string]int64),
			writes: make(map[string]*domain.Stall),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.commit(tx)
	})
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seen := range tx.reads {
		if s.versions[id] != seen {
			return fmt.Errorf("%w: stall %s changed during transaction", store.ErrWriteConflict, id)
		}
	}
	for _, id := range tx.order {
		if _, exists := s.stalls[id]; !exists {
			return store.StallNotFound(id)
		}
	}

	touched := make(map[string]struct{}, len(tx.order)+len(tx.sales))
	for _, id := range tx.order {
		next := tx.writes[id]
		if next == nil {
			delete(s.stalls, id)
			delete(s.created, id)
		} else {
			s.stalls[id] = next.Clone()
		}
		touched[id] = struct{}{}
	}
	for _, sale := range tx.sales {
		s.sales = append(s.sales, sale)
		touched[sale.StallID] = struct{}{}
	}
	for id := range touched {
		s.versions[id]++
		if st, ok := s.stalls[id]; ok {
			st.Version = s.versions[id]
			s.stalls[id] = st
		}
	}
	return nil
}

type memTx struct {
	s      *Store
	now    time.Time
	reads  map[string]int64
	writes map[string]*domain.Stall
	order  []string
	sales  []domain.Sale
}

func (t *memTx) Now() time.Time {
	return t.now
}

func (t *memTx) GetStall(_ context.Context, id string) (domain.Stall, error) {
	if staged, ok := t.writes[id]; ok {
		if staged == nil {
			return domain.Stall{}, store.StallNotFound(id)
		}
		return staged.Clone(), nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	t.observe(id)
	stall, ok := t.s.stalls[id]
	if !ok {
		return domain.Stall{}, store.StallNotFound(id)
	}
	return stall.Clone(), nil
}

// observe records the version of id the first time the transaction depends on it.
// Callers hold at least the read lock.
func (t *memTx) observe(id string) {
	if _, seen := t.reads[id]; !seen {
		t.reads[id] = t.s.versions[id]
	}
}

func (t *memTx) PutStall(_ context.Context, stall domain.Stall) error {
	if _, seen := t.reads[stall.ID]; !seen {
		return fmt.Errorf("stall %s must be read before it is written", stall.ID)
	}
	if staged, ok := t.writes[stall.ID]; ok && staged == nil {
		return store.StallNotFound(stall.ID)
	}
	next := stall.Clone()
	t.stage(stall.ID, &next)
	return nil
}

func (t *memTx) DeleteStall(_ context.Context, id string) error {
	if _, seen := t.reads[id]; !seen {
		return fmt.Errorf("stall %s must be read before it is deleted", id)
	}
	t.stage(id, nil)
	return nil
}

func (t *memTx) stage(id string, stall *domain.Stall) {
	if _, ok := t.writes[id]; !ok {
		t.order = append(t.order, id)
	}
	t.writes[id] = stall
}

func (t *memTx) CountSales(_ context.Context, filter store.SaleFilter) (int, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if filter.StallID != "" {
		t.observe(filter.StallID)
	}
	count := 0
	for _, sale := range t.s.sales {
		if filter.Matches(sale) {
			count++
		}
	}
	for _, sale := range t.sales {
		if filter.Matches(sale) {
			count++
		}
	}
	return count, nil
}

func (t *memTx) InsertSales(_ context.Context, sales []domain.Sale) ([]domain.Sale, error) {
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if sale.StallID == "" || sale.ProductID == "" || sale.Quantity < 1 {
			return nil, &store.ValidationError{Field: "sale", Reason: "stall, product and positive quantity required"}
		}
		sale.ID = xid.New("sale")
		out = append(out, sale)
	}
	t.sales = append(t.sales, out...)
	return slices.Clone(out), nil
}

func (s *Store) CreateStall(_ context.Context, stall domain.Stall) (*domain.Stall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(stall.Name) == "" {
		return nil, &store.ValidationError{Field: "name", Reason: "required"}
	}
	stall.ID = xid.New("stall")
	if stall.Products == nil {
		stall.Products = []domain.Product{}
	}
	s.versions[stall.ID]++
	stall.Version = s.versions[stall.ID]
	s.nextSeq++
	s.created[stall.ID] = s.nextSeq
	s.stalls[stall.ID] = stall.Clone()

	created := stall.Clone()
	return &created, nil
}

func (s *Store) GetStall(_ context.Context, id string) (*domain.Stall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stall, ok := s.stalls[id]
	if !ok {
		return nil, store.StallNotFound(id)
	}
	out := stall.Clone()
	return &out, nil
}

func (s *Store) ListStalls(_ context.Context) ([]domain.Stall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stalls := make([]domain.Stall, 0, len(s.stalls))
	for _, stall := range s.stalls {
		stalls = append(stalls, stall.Clone())
	}
	slices.SortFunc(stalls, func(a, b domain.Stall) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return stalls, nil
}

// FindStallByPIN returns the earliest-created stall carrying pin.
func (s *Store) FindStallByPIN(_ context.Context, pin string) (*domain.Stall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Stall
	var foundSeq uint64
	for id, stall := range s.stalls {
		if stall.SellerPIN == nil || *stall.SellerPIN != pin {
			continue
		}
		if seq := s.created[id]; found == nil || seq < foundSeq {
			out := stall.Clone()
			found, foundSeq = &out, seq
		}
	}
	if found == nil {
		return nil, &store.NotFoundError{Entity: "stall for pin", ID: "****"}
	}
	return found, nil
}

func (s *Store) AppendProduct(_ context.Context, stallID string, product domain.Product) error {
	return s.mutate(stallID, func(stall *domain.Stall) {
		stall.Products = append(stall.Products, product)
	})
}

func (s *Store) SetStallName(_ context.Context, stallID string, name string) error {
	return s.mutate(stallID, func(stall *domain.Stall) {
		stall.Name = name
	})
}

func (s *Store) SetSellerPIN(_ context.Context, stallID string, pin string) error {
	return s.mutate(stallID, func(stall *domain.Stall) {
		if pin == "" {
			stall.SellerPIN = nil
			return
		}
		stall.SellerPIN = &pin
	})
}

// mutate applies an unconditional write under the lock and bumps the version
// so in-flight transactions that read the stall will retry.
func (s *Store) mutate(stallID string, apply func(*domain.Stall)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stall, ok := s.stalls[stallID]
	if !ok {
		return store.StallNotFound(stallID)
	}
	stall = stall.Clone()
	apply(&stall)
	s.versions[stallID]++
	stall.Version = s.versions[stallID]
	s.stalls[stallID] = stall
	return nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.Matches(sale) {
			sales = append(sales, sale)
		}
	}
	return sales, nil
}

func (s *Store) CountSales(_ context.Context, filter store.SaleFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sale := range s.sales {
		if filter.Matches(sale) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || user.Password == "" {
		return &store.ValidationError{Field: "user", Reason: "email and password required"}
	}
	if _, exists := s.users[email]; exists {
		return fmt.Errorf("%w: %s", store.ErrUserExists, email)
	}
	user.Email = email
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[email] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	user, ok := s.users[email]
	if !ok {
		return &store.NotFoundError{Entity: "user", ID: email}
	}
	user.Password = password
	s.users[email] = user
	return nil
}

// SeedAdmin stores a bcrypt-hashed admin account, used by tests and dev mode.
func (s *Store) SeedAdmin(email string, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	return s.CreateUser(context.Background(), domain.UserAccount{
		Email:    email,
		Password: string(hash),
		Role:     domain.RoleAdmin,
		Active:   true,
	})
}
