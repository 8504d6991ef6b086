package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/xid"
)

const schema = `
CREATE TABLE IF NOT EXISTS stalls (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL CHECK (name <> ''),
	seller_pin  TEXT NULL,
	products    JSONB NOT NULL DEFAULT '[]'::jsonb,
	version     BIGINT NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS stalls_seller_pin_idx ON stalls (seller_pin) WHERE seller_pin IS NOT NULL;

CREATE TABLE IF NOT EXISTS sales (
	id              TEXT PRIMARY KEY,
	stall_id        TEXT NOT NULL,
	product_id      TEXT NOT NULL,
	transaction_id  TEXT NOT NULL,
	quantity        INTEGER NOT NULL CHECK (quantity > 0),
	price_per_item  NUMERIC(12,2) NOT NULL,
	total_price     NUMERIC(14,2) NOT NULL,
	payment_method  TEXT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sales_stall_product_idx ON sales (stall_id, product_id);
CREATE INDEX IF NOT EXISTS sales_transaction_idx ON sales (transaction_id);

CREATE TABLE IF NOT EXISTS admin_users (
	email       TEXT PRIMARY KEY,
	password    TEXT NOT NULL,
	role        TEXT NOT NULL,
	active      BOOLEAN NOT NULL DEFAULT true,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	db          *sql.DB
	maxAttempts int
}

func New(ctx context.Context, databaseURL string, maxAttempts int) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if maxAttempts < 1 {
		maxAttempts = store.DefaultMaxAttempts
	}
	return &Store{db: db, maxAttempts: maxAttempts}, nil
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RunInTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.RetryConflicts(ctx, s.maxAttempts, func(ctx context.Context, _ int) error {
		return classify(s.runOnce(ctx, fn))
	})
}

func (s *Store) runOnce(ctx context.Context, fn store.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	tx := &pgTx{tx: sqlTx, versions: make(map[string]int64)}
	if err := sqlTx.QueryRowContext(ctx, `SELECT now()`).Scan(&tx.now); err != nil {
		return err
	}
	tx.now = tx.now.UTC()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// classify marks serialization failures and deadlocks as write conflicts so
// the attempt is retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", store.ErrWriteConflict, pgErr.Message)
	}
	return err
}

type pgTx struct {
	tx       *sql.Tx
	now      time.Time
	versions map[string]int64
}

func (t *pgTx) Now() time.Time {
	return t.now
}

func (t *pgTx) GetStall(ctx context.Context, id string) (domain.Stall, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, name, seller_pin, products, version
		FROM stalls
		WHERE id = $1
		FOR UPDATE
	`, id)
	stall, err := scanStall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stall{}, store.StallNotFound(id)
		}
		return domain.Stall{}, err
	}
	t.versions[id] = stall.Version
	return *stall, nil
}

func (t *pgTx) PutStall(ctx context.Context, stall domain.Stall) error {
	seen, ok := t.versions[stall.ID]
	if !ok {
		return fmt.Errorf("stall %s must be read before it is written", stall.ID)
	}
	products, err := encodeProducts(stall.Products)
	if err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE stalls
		SET name = $2, seller_pin = $3, products = $4::jsonb, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $5
	`, stall.ID, stall.Name, nullPIN(stall.SellerPIN), products, seen)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, stall.ID); err != nil {
		return err
	}
	t.versions[stall.ID] = seen + 1
	return nil
}

func (t *pgTx) DeleteStall(ctx context.Context, id string) error {
	seen, ok := t.versions[id]
	if !ok {
		return fmt.Errorf("stall %s must be read before it is deleted", id)
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM stalls WHERE id = $1 AND version = $2`, id, seen)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}
	delete(t.versions, id)
	return nil
}

func (t *pgTx) CountSales(ctx context.Context, filter store.SaleFilter) (int, error) {
	return countSales(ctx, t.tx, filter)
}

func (t *pgTx) InsertSales(ctx context.Context, sales []domain.Sale) ([]domain.Sale, error) {
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		sale.ID = xid.New("sale")
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, stall_id, product_id, transaction_id, quantity,
				price_per_item, total_price, payment_method, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			sale.ID, sale.StallID, sale.ProductID, sale.TransactionID, sale.Quantity,
			sale.PricePerItem.StringFixed(2), sale.TotalPrice.StringFixed(2), nullIfEmpty(sale.PaymentMethod), sale.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, nil
}

func (s *Store) CreateStall(ctx context.Context, stall domain.Stall) (*domain.Stall, error) {
	if strings.TrimSpace(stall.Name) == "" {
		return nil, &store.ValidationError{Field: "name", Reason: "required"}
	}
	if stall.Products == nil {
		stall.Products = []domain.Product{}
	}
	products, err := encodeProducts(stall.Products)
	if err != nil {
		return nil, err
	}
	stall.ID = xid.New("stall")

	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO stalls (id, name, seller_pin, products)
		VALUES ($1,$2,$3,$4::jsonb)
		RETURNING version
	`, stall.ID, stall.Name, nullPIN(stall.SellerPIN), products).Scan(&stall.Version); err != nil {
		return nil, err
	}
	return &stall, nil
}

func (s *Store) GetStall(ctx context.Context, id string) (*domain.Stall, error) {
	stall, err := scanStall(s.db.QueryRowContext(ctx, `
		SELECT id, name, seller_pin, products, version
		FROM stalls
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.StallNotFound(id)
	}
	return stall, err
}

func (s *Store) ListStalls(ctx context.Context) ([]domain.Stall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, seller_pin, products, version
		FROM stalls
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stalls := make([]domain.Stall, 0, 16)
	for rows.Next() {
		stall, err := scanStall(rows)
		if err != nil {
			return nil, err
		}
		stalls = append(stalls, *stall)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stalls, nil
}

func (s *Store) FindStallByPIN(ctx context.Context, pin string) (*domain.Stall, error) {
	stall, err := scanStall(s.db.QueryRowContext(ctx, `
		SELECT id, name, seller_pin, products, version
		FROM stalls
		WHERE seller_pin = $1
		ORDER BY created_at, id
		LIMIT 1
	`, pin))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &store.NotFoundError{Entity: "stall for pin", ID: "****"}
	}
	return stall, err
}

func (s *Store) AppendProduct(ctx context.Context, stallID string, product domain.Product) error {
	raw, err := json.Marshal(product)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE stalls
		SET products = products || jsonb_build_array($2::jsonb), version = version + 1, updated_at = now()
		WHERE id = $1
	`, stallID, string(raw))
	if err != nil {
		return err
	}
	return expectFound(res, stallID)
}

func (s *Store) SetStallName(ctx context.Context, stallID string, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stalls SET name = $2, version = version + 1, updated_at = now() WHERE id = $1
	`, stallID, name)
	if err != nil {
		return err
	}
	return expectFound(res, stallID)
}

func (s *Store) SetSellerPIN(ctx context.Context, stallID string, pin string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stalls SET seller_pin = $2, version = version + 1, updated_at = now() WHERE id = $1
	`, stallID, nullIfEmpty(pin))
	if err != nil {
		return err
	}
	return expectFound(res, stallID)
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	where, args := saleWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stall_id, product_id, transaction_id, quantity,
			price_per_item, total_price, COALESCE(payment_method, ''), created_at
		FROM sales`+where+`
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		var pricePerItem, totalPrice string
		if err := rows.Scan(
			&sale.ID, &sale.StallID, &sale.ProductID, &sale.TransactionID, &sale.Quantity,
			&pricePerItem, &totalPrice, &sale.PaymentMethod, &sale.Timestamp,
		); err != nil {
			return nil, err
		}
		if sale.PricePerItem, err = decimal.NewFromString(pricePerItem); err != nil {
			return nil, fmt.Errorf("sale %s price_per_item: %w", sale.ID, err)
		}
		if sale.TotalPrice, err = decimal.NewFromString(totalPrice); err != nil {
			return nil, fmt.Errorf("sale %s total_price: %w", sale.ID, err)
		}
		sale.Timestamp = sale.Timestamp.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CountSales(ctx context.Context, filter store.SaleFilter) (int, error) {
	return countSales(ctx, s.db, filter)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countSales(ctx context.Context, q queryer, filter store.SaleFilter) (int, error) {
	where, args := saleWhere(filter)
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func saleWhere(filter store.SaleFilter) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.StallID != "" {
		args = append(args, filter.StallID)
		clauses = append(clauses, fmt.Sprintf("stall_id = $%d", len(args)))
	}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		clauses = append(clauses, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || strings.TrimSpace(user.Password) == "" {
		return &store.ValidationError{Field: "user", Reason: "email and password required"}
	}
	if user.Role == "" {
		user.Role = domain.RoleAdmin
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_users (email, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Email, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrUserExists, user.Email)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, password, role, active, created_at
		FROM admin_users
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 4)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Email, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return &store.ValidationError{Field: "user", Reason: "email and password required"}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE admin_users
		SET password = $2, updated_at = now()
		WHERE email = $1
	`, email, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &store.NotFoundError{Entity: "user", ID: email}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStall(row rowScanner) (*domain.Stall, error) {
	var stall domain.Stall
	var pin sql.NullString
	var products []byte
	if err := row.Scan(&stall.ID, &stall.Name, &pin, &products, &stall.Version); err != nil {
		return nil, err
	}
	if pin.Valid {
		stall.SellerPIN = &pin.String
	}
	if err := json.Unmarshal(products, &stall.Products); err != nil {
		return nil, fmt.Errorf("stall %s products: %w", stall.ID, err)
	}
	if stall.Products == nil {
		stall.Products = []domain.Product{}
	}
	return &stall, nil
}

func encodeProducts(products []domain.Product) (string, error) {
	if products == nil {
		products = []domain.Product{}
	}
	raw, err := json.Marshal(products)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// expectOneRow treats a versioned write that matched nothing as a conflict:
// the row was changed or removed after it was read.
func expectOneRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: stall %s", store.ErrWriteConflict, id)
	}
	return nil
}

func expectFound(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.StallNotFound(id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullPIN(pin *string) any {
	if pin == nil {
		return nil
	}
	return nullIfEmpty(*pin)
}
