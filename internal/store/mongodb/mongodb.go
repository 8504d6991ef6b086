// Package mongodb stores stalls as documents with their products embedded, and
// sales in a separate collection. Transactions need a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"stallmanager/backend/internal/domain"
	"stallmanager/backend/internal/store"
	"stallmanager/backend/internal/xid"
)

const (
	stallsCollection = "stalls"
	salesCollection  = "sales"
	usersCollection  = "admin_users"
)

type Store struct {
	client      *mongo.Client
	db          *mongo.Database
	maxAttempts int
}

type stallDocument struct {
	ID        string            `bson:"_id"`
	Name      string            `bson:"name"`
	SellerPIN *string           `bson:"sellerPin"`
	Products  []productDocument `bson:"products"`
	Version   int64             `bson:"version"`
	CreatedAt time.Time         `bson:"createdAt"`
	UpdatedAt time.Time         `bson:"updatedAt"`
}

type productDocument struct {
	ID         string               `bson:"id"`
	Name       string               `bson:"name"`
	Price      primitive.Decimal128 `bson:"price"`
	StockCount *int                 `bson:"stockCount"`
}

type saleDocument struct {
	ID            string               `bson:"_id"`
	StallID       string               `bson:"stallId"`
	ProductID     string               `bson:"productId"`
	TransactionID string               `bson:"transactionId"`
	Quantity      int                  `bson:"quantity"`
	PricePerItem  primitive.Decimal128 `bson:"pricePerItem"`
	TotalPrice    primitive.Decimal128 `bson:"totalPrice"`
	PaymentMethod string               `bson:"paymentMethod,omitempty"`
	Timestamp     time.Time            `bson:"timestamp"`
}

type userDocument struct {
	Email     string    `bson:"_id"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

func New(ctx context.Context, uri string, database string, maxAttempts int) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	if maxAttempts < 1 {
		maxAttempts = store.DefaultMaxAttempts
	}
	return &Store{client: client, db: client.Database(database), maxAttempts: maxAttempts}, nil
}

// Migrate creates the indexes queries rely on.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Collection(salesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "stallId", Value: 1}, {Key: "productId", Value: 1}}},
		{Keys: bson.D{{Key: "transactionId", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("sales indexes: %w", err)
	}
	if _, err := s.db.Collection(stallsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sellerPin", Value: 1}},
	}); err != nil {
		return fmt.Errorf("stalls indexes: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) stalls() *mongo.Collection { return s.db.Collection(stallsCollection) }
func (s *Store) sales() *mongo.Collection  { return s.db.Collection(salesCollection) }
func (s *Store) users() *mongo.Collection  { return s.db.Collection(usersCollection) }

func (s *Store) RunInTransaction(ctx context.Context, fn store.TxFunc) error {
	return store.RetryConflicts(ctx, s.maxAttempts, func(ctx context.Context, _ int) error {
		return classify(s.runOnce(ctx, fn))
	})
}

func (s *Store) runOnce(ctx context.Context, fn store.TxFunc) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(context.Background())

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(txOpts); err != nil {
		return err
	}

	tx := &mongoTx{
		s:        s,
		sess:     sess,
		now:      time.Now().UTC().Truncate(time.Millisecond),
		versions: make(map[string]int64),
	}
	if err := fn(mongo.NewSessionContext(ctx, sess), tx); err != nil {
		_ = sess.AbortTransaction(context.Background())
		return err
	}

	for {
		err := sess.CommitTransaction(mongo.NewSessionContext(ctx, sess))
		if err == nil {
			return nil
		}
		if hasLabel(err, "UnknownTransactionCommitResult") && ctx.Err() == nil {
			continue
		}
		_ = sess.AbortTransaction(context.Background())
		return err
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if hasLabel(err, "TransientTransactionError") {
		return fmt.Errorf("%w: %v", store.ErrWriteConflict, err)
	}
	return err
}

func hasLabel(err error, label string) bool {
	var labeled interface{ HasErrorLabel(string) bool }
	return errors.As(err, &labeled) && labeled.HasErrorLabel(label)
}

type mongoTx struct {
	s        *Store
	sess     mongo.Session
	now      time.Time
	versions map[string]int64
}

// Now is taken from the client clock at attempt start, truncated to the
// millisecond precision BSON dates keep.
func (t *mongoTx) Now() time.Time {
	return t.now
}

func (t *mongoTx) ctx(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.sess)
}

func (t *mongoTx) GetStall(ctx context.Context, id string) (domain.Stall, error) {
	var doc stallDocument
	if err := t.s.stalls().FindOne(t.ctx(ctx), bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Stall{}, store.StallNotFound(id)
		}
		return domain.Stall{}, err
	}
	stall, err := doc.toDomain()
	if err != nil {
		return domain.Stall{}, err
	}
	t.versions[id] = stall.Version
	return stall, nil
}

func (t *mongoTx) PutStall(ctx context.Context, stall domain.Stall) error {
	seen, ok := t.versions[stall.ID]
	if !ok {
		return fmt.Errorf("stall %s must be read before it is written", stall.ID)
	}
	products, err := productDocuments(stall.Products)
	if err != nil {
		return err
	}

	res, err := t.s.stalls().UpdateOne(t.ctx(ctx),
		bson.M{"_id": stall.ID, "version": seen},
		bson.M{
			"$set": bson.M{
				"name":      stall.Name,
				"sellerPin": normalizePIN(stall.SellerPIN),
				"products":  products,
				"updatedAt": t.now,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: stall %s", store.ErrWriteConflict, stall.ID)
	}
	t.versions[stall.ID] = seen + 1
	return nil
}

func (t *mongoTx) DeleteStall(ctx context.Context, id string) error {
	seen, ok := t.versions[id]
	if !ok {
		return fmt.Errorf("stall %s must be read before it is deleted", id)
	}
	res, err := t.s.stalls().DeleteOne(t.ctx(ctx), bson.M{"_id": id, "version": seen})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: stall %s", store.ErrWriteConflict, id)
	}
	delete(t.versions, id)
	return nil
}

func (t *mongoTx) CountSales(ctx context.Context, filter store.SaleFilter) (int, error) {
	count, err := t.s.sales().CountDocuments(t.ctx(ctx), saleFilter(filter))
	return int(count), err
}

func (t *mongoTx) InsertSales(ctx context.Context, sales []domain.Sale) ([]domain.Sale, error) {
	if len(sales) == 0 {
		return []domain.Sale{}, nil
	}
	out := make([]domain.Sale, 0, len(sales))
	docs := make([]any, 0, len(sales))
	for _, sale := range sales {
		sale.ID = xid.New("sale")
		doc, err := newSaleDocument(sale)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		out = append(out, sale)
	}
	if _, err := t.s.sales().InsertMany(t.ctx(ctx), docs); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateStall(ctx context.Context, stall domain.Stall) (*domain.Stall, error) {
	if strings.TrimSpace(stall.Name) == "" {
		return nil, &store.ValidationError{Field: "name", Reason: "required"}
	}
	products, err := productDocuments(stall.Products)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	doc := stallDocument{
		ID:        xid.New("stall"),
		Name:      stall.Name,
		SellerPIN: normalizePIN(stall.SellerPIN),
		Products:  products,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.stalls().InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	created, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetStall(ctx context.Context, id string) (*domain.Stall, error) {
	return s.findStall(ctx, bson.M{"_id": id}, store.StallNotFound(id))
}

func (s *Store) FindStallByPIN(ctx context.Context, pin string) (*domain.Stall, error) {
	return s.findStall(ctx, bson.M{"sellerPin": pin}, &store.NotFoundError{Entity: "stall for pin", ID: "****"})
}

func (s *Store) findStall(ctx context.Context, filter bson.M, notFound error) (*domain.Stall, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	var doc stallDocument
	if err := s.stalls().FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound
		}
		return nil, err
	}
	stall, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &stall, nil
}

func (s *Store) ListStalls(ctx context.Context) ([]domain.Stall, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.stalls().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []stallDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	stalls := make([]domain.Stall, 0, len(docs))
	for _, doc := range docs {
		stall, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		stalls = append(stalls, stall)
	}
	return stalls, nil
}

func (s *Store) AppendProduct(ctx context.Context, stallID string, product domain.Product) error {
	doc, err := newProductDocument(product)
	if err != nil {
		return err
	}
	return s.updateStall(ctx, stallID, bson.M{
		"$push": bson.M{"products": doc},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
		"$inc":  bson.M{"version": 1},
	})
}

func (s *Store) SetStallName(ctx context.Context, stallID string, name string) error {
	return s.updateStall(ctx, stallID, bson.M{
		"$set": bson.M{"name": name, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	})
}

func (s *Store) SetSellerPIN(ctx context.Context, stallID string, pin string) error {
	var value *string
	if pin != "" {
		value = &pin
	}
	return s.updateStall(ctx, stallID, bson.M{
		"$set": bson.M{"sellerPin": value, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	})
}

func (s *Store) updateStall(ctx context.Context, stallID string, update bson.M) error {
	res, err := s.stalls().UpdateOne(ctx, bson.M{"_id": stallID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.StallNotFound(stallID)
	}
	return nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.sales().Find(ctx, saleFilter(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []saleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(docs))
	for _, doc := range docs {
		sale, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (s *Store) CountSales(ctx context.Context, filter store.SaleFilter) (int, error) {
	count, err := s.sales().CountDocuments(ctx, saleFilter(filter))
	return int(count), err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if email == "" || strings.TrimSpace(user.Password) == "" {
		return &store.ValidationError{Field: "user", Reason: "email and password required"}
	}
	if user.Role == "" {
		user.Role = domain.RoleAdmin
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.users().InsertOne(ctx, userDocument{
		Email:     email,
		Password:  user.Password,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", store.ErrUserExists, email)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	cursor, err := s.users().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(docs))
	for _, doc := range docs {
		users = append(users, domain.UserAccount{
			Email:     doc.Email,
			Password:  doc.Password,
			Role:      doc.Role,
			Active:    doc.Active,
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := s.users().UpdateOne(ctx, bson.M{"_id": email}, bson.M{"$set": bson.M{"password": password}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return &store.NotFoundError{Entity: "user", ID: email}
	}
	return nil
}

func saleFilter(filter store.SaleFilter) bson.M {
	query := bson.M{}
	if filter.StallID != "" {
		query["stallId"] = filter.StallID
	}
	if filter.ProductID != "" {
		query["productId"] = filter.ProductID
	}
	return query
}

func normalizePIN(pin *string) *string {
	if pin == nil || *pin == "" {
		return nil
	}
	value := *pin
	return &value
}

func (d stallDocument) toDomain() (domain.Stall, error) {
	stall := domain.Stall{
		ID:        d.ID,
		Name:      d.Name,
		SellerPIN: d.SellerPIN,
		Products:  make([]domain.Product, 0, len(d.Products)),
		Version:   d.Version,
	}
	for _, p := range d.Products {
		price, err := fromDecimal128(p.Price)
		if err != nil {
			return domain.Stall{}, fmt.Errorf("stall %s product %s price: %w", d.ID, p.ID, err)
		}
		stall.Products = append(stall.Products, domain.Product{
			ID:         p.ID,
			Name:       p.Name,
			Price:      price,
			StockCount: p.StockCount,
		})
	}
	return stall, nil
}

func productDocuments(products []domain.Product) ([]productDocument, error) {
	docs := make([]productDocument, 0, len(products))
	for _, p := range products {
		doc, err := newProductDocument(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func newProductDocument(p domain.Product) (productDocument, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDocument{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	return productDocument{ID: p.ID, Name: p.Name, Price: price, StockCount: p.StockCount}, nil
}

func newSaleDocument(sale domain.Sale) (saleDocument, error) {
	pricePerItem, err := toDecimal128(sale.PricePerItem)
	if err != nil {
		return saleDocument{}, err
	}
	totalPrice, err := toDecimal128(sale.TotalPrice)
	if err != nil {
		return saleDocument{}, err
	}
	return saleDocument{
		ID:            sale.ID,
		StallID:       sale.StallID,
		ProductID:     sale.ProductID,
		TransactionID: sale.TransactionID,
		Quantity:      sale.Quantity,
		PricePerItem:  pricePerItem,
		TotalPrice:    totalPrice,
		PaymentMethod: sale.PaymentMethod,
		Timestamp:     sale.Timestamp,
	}, nil
}

func (d saleDocument) toDomain() (domain.Sale, error) {
	pricePerItem, err := fromDecimal128(d.PricePerItem)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", d.ID, err)
	}
	totalPrice, err := fromDecimal128(d.TotalPrice)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("sale %s: %w", d.ID, err)
	}
	return domain.Sale{
		ID:            d.ID,
		StallID:       d.StallID,
		ProductID:     d.ProductID,
		TransactionID: d.TransactionID,
		Quantity:      d.Quantity,
		PricePerItem:  pricePerItem,
		TotalPrice:    totalPrice,
		PaymentMethod: d.PaymentMethod,
		Timestamp:     d.Timestamp.UTC(),
	}, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}
