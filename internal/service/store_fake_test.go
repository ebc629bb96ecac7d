package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/events"
	"oldruby-market/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errStoreDown = fmt.Errorf("%w: connection reset by peer", domain.ErrStoreUnavailable)

// memStore is an in-memory store honouring the per-document atomicity of the
// real driver. Faults are injected per operation name, e.g. "bookings.UpdateMany".
type memStore struct {
	mu         sync.Mutex
	users      map[string]domain.User
	products   map[uuid.UUID]domain.Product
	bookings   map[uuid.UUID]domain.Booking
	categories map[uuid.UUID]domain.Category
	faults     map[string]error
	calls      map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]domain.User),
		products:   make(map[uuid.UUID]domain.Product),
		bookings:   make(map[uuid.UUID]domain.Booking),
		categories: make(map[uuid.UUID]domain.Category),
		faults:     make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (s *memStore) fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *memStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]error)
}

// enter must be called with mu held
func (s *memStore) enter(op string) error {
	s.calls[op]++
	return s.faults[op]
}

func (s *memStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) totalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for op, c := range s.calls {
		switch {
		case strings.HasSuffix(op, ".GetOne"), strings.HasSuffix(op, ".GetMany"), strings.HasSuffix(op, ".List"), strings.HasSuffix(op, ".FindByID"):
		default:
			n += c
		}
	}
	return n
}

func (s *memStore) seedUser(email string, role domain.Role, verified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[email] = domain.User{Email: email, Name: "User " + email, Role: role, SellerVerification: verified}
}

func (s *memStore) seedProduct(seller string, status domain.ProductStatus) uuid.UUID {
	return s.seedProductWithID(uuid.New(), seller, status)
}

func (s *memStore) seedProductWithID(id uuid.UUID, seller string, status domain.ProductStatus) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = domain.Product{
		ID:          id,
		SellerEmail: seller,
		Name:        "Product " + id.String()[:8],
		ResalePrice: 120,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	return id
}

func (s *memStore) seedBooking(productID uuid.UUID, buyer string, status domain.BookingStatus) uuid.UUID {
	return s.seedBookingWithID(uuid.New(), productID, buyer, status)
}

func (s *memStore) seedBookingWithID(id, productID uuid.UUID, buyer string, status domain.BookingStatus) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[id] = domain.Booking{
		ID:         id,
		ProductID:  productID,
		BuyerEmail: buyer,
		ItemPrice:  120,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
	return id
}

func (s *memStore) product(id uuid.UUID) (domain.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *memStore) booking(id uuid.UUID) (domain.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	return b, ok
}

func (s *memStore) user(email string) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	return u, ok
}

func (s *memStore) bookingsOf(productID uuid.UUID) []domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	return out
}

func (s *memStore) productCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products)
}

// snapshot returns copies of every document keyed by id, for state comparison
func (s *memStore) snapshot() (map[uuid.UUID]domain.Product, map[uuid.UUID]domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := make(map[uuid.UUID]domain.Product, len(s.products))
	for id, p := range s.products {
		products[id] = p
	}
	bookings := make(map[uuid.UUID]domain.Booking, len(s.bookings))
	for id, b := range s.bookings {
		bookings[id] = b
	}
	return products, bookings
}

func (s *memStore) Users() repository.UserRepository { return memUsers{s} }

func (s *memStore) Products() repository.ProductRepository { return memProducts{s} }

func (s *memStore) Bookings() repository.BookingRepository { return memBookings{s} }

func (s *memStore) Categories() repository.CategoryRepository { return memCategories{s} }

// users

type memUsers struct{ s *memStore }

func matchUser(u domain.User, f repository.UserFilter) bool {
	return (f.Email == nil || u.Email == *f.Email) &&
		(f.Role == nil || u.Role == *f.Role) &&
		(f.SellerVerification == nil || u.SellerVerification == *f.SellerVerification)
}

func userFilterEmpty(f repository.UserFilter) bool {
	return f.Email == nil && f.Role == nil && f.SellerVerification == nil
}

func (m memUsers) sorted(f repository.UserFilter) []domain.User {
	var out []domain.User
	for _, u := range m.s.users {
		if matchUser(u, f) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (m memUsers) Upsert(_ context.Context, up repository.UserUpsert) (repository.UpsertResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("users.Upsert"); err != nil {
		return repository.UpsertResult{}, err
	}
	if up.Email == "" {
		return repository.UpsertResult{}, repository.ErrKeyRequired
	}

	u, exists := m.s.users[up.Email]
	if !exists {
		role := up.Profile.Role
		if role == "" {
			role = up.DefaultRole
		}
		if role == "" {
			role = domain.RoleBuyer
		}
		u = domain.User{Email: up.Email, Role: role, CreatedAt: time.Now().UTC()}
	} else if up.Profile.Role != "" && (u.Role != domain.RoleAdmin || up.Profile.Role == domain.RoleAdmin) {
		u.Role = up.Profile.Role
	}
	if up.Profile.Name != "" {
		u.Name = up.Profile.Name
	}
	if up.Profile.PhotoURL != "" {
		u.PhotoURL = up.Profile.PhotoURL
	}
	if up.SellerVerification != nil {
		u.SellerVerification = *up.SellerVerification
	}
	u.UpdatedAt = time.Now().UTC()
	m.s.users[up.Email] = u

	return repository.UpsertResult{Matched: exists, Created: !exists}, nil
}

func (m memUsers) GetOne(_ context.Context, f repository.UserFilter) (*domain.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("users.GetOne"); err != nil {
		return nil, err
	}
	found := m.sorted(f)
	if len(found) == 0 {
		return nil, repository.ErrUserNotFound
	}
	u := found[0]
	return &u, nil
}

func (m memUsers) GetMany(_ context.Context, f repository.UserFilter) ([]*domain.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("users.GetMany"); err != nil {
		return nil, err
	}
	out := []*domain.User{}
	for _, u := range m.sorted(f) {
		u := u
		out = append(out, &u)
	}
	return out, nil
}

func (m memUsers) UpdateOneStrict(ctx context.Context, f repository.UserFilter, p repository.UserPatch) (repository.UpdateResult, error) {
	if f.Email == nil {
		return repository.UpdateResult{}, repository.ErrKeyRequired
	}
	return m.update("users.UpdateOneStrict", f, p)
}

func (m memUsers) UpdateMany(ctx context.Context, f repository.UserFilter, p repository.UserPatch) (repository.UpdateResult, error) {
	if userFilterEmpty(f) {
		return repository.UpdateResult{}, repository.ErrEmptyFilter
	}
	return m.update("users.UpdateMany", f, p)
}

func (m memUsers) update(op string, f repository.UserFilter, p repository.UserPatch) (repository.UpdateResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter(op); err != nil {
		return repository.UpdateResult{}, err
	}
	var n int64
	for email, u := range m.s.users {
		if !matchUser(u, f) {
			continue
		}
		if p.Role != nil {
			u.Role = *p.Role
		}
		if p.SellerVerification != nil {
			u.SellerVerification = *p.SellerVerification
		}
		m.s.users[email] = u
		n++
	}
	return repository.UpdateResult{Matched: n}, nil
}

func (m memUsers) DeleteOne(ctx context.Context, f repository.UserFilter) (repository.DeleteResult, error) {
	if f.Email == nil {
		return repository.DeleteResult{}, repository.ErrKeyRequired
	}
	return m.delete("users.DeleteOne", f)
}

func (m memUsers) DeleteMany(ctx context.Context, f repository.UserFilter) (repository.DeleteResult, error) {
	if userFilterEmpty(f) {
		return repository.DeleteResult{}, repository.ErrEmptyFilter
	}
	return m.delete("users.DeleteMany", f)
}

func (m memUsers) delete(op string, f repository.UserFilter) (repository.DeleteResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter(op); err != nil {
		return repository.DeleteResult{}, err
	}
	var n int64
	for email, u := range m.s.users {
		if matchUser(u, f) {
			delete(m.s.users, email)
			n++
		}
	}
	return repository.DeleteResult{Deleted: n}, nil
}

// products

type memProducts struct{ s *memStore }

func matchProduct(p domain.Product, f repository.ProductFilter) bool {
	return (f.ID == nil || p.ID == *f.ID) &&
		(f.SellerEmail == nil || p.SellerEmail == *f.SellerEmail) &&
		(f.CategoryID == nil || p.CategoryID == *f.CategoryID) &&
		(f.Status == nil || p.Status == *f.Status) &&
		(f.Advertised == nil || p.Advertised == *f.Advertised) &&
		(f.Reported == nil || p.Reported == *f.Reported) &&
		(f.SellerVerification == nil || p.SellerVerification == *f.SellerVerification)
}

func productFilterEmpty(f repository.ProductFilter) bool {
	return f == repository.ProductFilter{}
}

func (m memProducts) sorted(f repository.ProductFilter) []domain.Product {
	var out []domain.Product
	for _, p := range m.s.products {
		if matchProduct(p, f) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (m memProducts) Create(_ context.Context, p *domain.Product) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("products.Create"); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	m.s.products[p.ID] = *p
	return nil
}

func (m memProducts) GetOne(_ context.Context, f repository.ProductFilter) (*domain.Product, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("products.GetOne"); err != nil {
		return nil, err
	}
	found := m.sorted(f)
	if len(found) == 0 {
		return nil, repository.ErrProductNotFound
	}
	p := found[0]
	return &p, nil
}

func (m memProducts) GetMany(_ context.Context, f repository.ProductFilter) ([]*domain.Product, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("products.GetMany"); err != nil {
		return nil, err
	}
	out := []*domain.Product{}
	for _, p := range m.sorted(f) {
		p := p
		out = append(out, &p)
	}
	return out, nil
}

func (m memProducts) UpdateOneStrict(ctx context.Context, f repository.ProductFilter, p repository.ProductPatch) (repository.UpdateResult, error) {
	if f.ID == nil {
		return repository.UpdateResult{}, repository.ErrKeyRequired
	}
	return m.update("products.UpdateOneStrict", f, p)
}

func (m memProducts) UpdateMany(ctx context.Context, f repository.ProductFilter, p repository.ProductPatch) (repository.UpdateResult, error) {
	if productFilterEmpty(f) {
		return repository.UpdateResult{}, repository.ErrEmptyFilter
	}
	return m.update("products.UpdateMany", f, p)
}

func (m memProducts) update(op string, f repository.ProductFilter, patch repository.ProductPatch) (repository.UpdateResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter(op); err != nil {
		return repository.UpdateResult{}, err
	}
	var n int64
	for id, p := range m.s.products {
		if !matchProduct(p, f) {
			continue
		}
		if patch.Status != nil {
			p.Status = *patch.Status
		}
		if patch.Advertised != nil {
			p.Advertised = *patch.Advertised
		}
		if patch.Reported != nil {
			p.Reported = *patch.Reported
		}
		if patch.SellerVerification != nil {
			p.SellerVerification = *patch.SellerVerification
		}
		if patch.BuyerEmail != nil {
			buyer := *patch.BuyerEmail
			p.BuyerEmail = &buyer
		}
		m.s.products[id] = p
		n++
	}
	return repository.UpdateResult{Matched: n}, nil
}

func (m memProducts) DeleteOne(ctx context.Context, f repository.ProductFilter) (repository.DeleteResult, error) {
	if f.ID == nil {
		return repository.DeleteResult{}, repository.ErrKeyRequired
	}
	return m.delete("products.DeleteOne", f)
}

func (m memProducts) DeleteMany(ctx context.Context, f repository.ProductFilter) (repository.DeleteResult, error) {
	if productFilterEmpty(f) {
		return repository.DeleteResult{}, repository.ErrEmptyFilter
	}
	return m.delete("products.DeleteMany", f)
}

func (m memProducts) delete(op string, f repository.ProductFilter) (repository.DeleteResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter(op); err != nil {
		return repository.DeleteResult{}, err
	}
	var n int64
	for id, p := range m.s.products {
		if matchProduct(p, f) {
			delete(m.s.products, id)
			n++
		}
	}
	return repository.DeleteResult{Deleted: n}, nil
}

// bookings

type memBookings struct{ s *memStore }

func matchBooking(b domain.Booking, f repository.BookingFilter) bool {
	return (f.ID == nil || b.ID == *f.ID) &&
		(f.ProductID == nil || b.ProductID == *f.ProductID) &&
		(f.BuyerEmail == nil || b.BuyerEmail == *f.BuyerEmail) &&
		(f.Status == nil || b.Status == *f.Status) &&
		(f.Payment == nil || b.Payment == *f.Payment)
}

func bookingFilterEmpty(f repository.BookingFilter) bool {
	return f == repository.BookingFilter{}
}

func (m memBookings) sorted(f repository.BookingFilter) []domain.Booking {
	var out []domain.Booking
	for _, b := range m.s.bookings {
		if matchBooking(b, f) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func (m memBookings) Create(_ context.Context, b *domain.Booking) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("bookings.Create"); err != nil {
		return err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	m.s.bookings[b.ID] = *b
	return nil
}

func (m memBookings) GetOne(_ context.Context, f repository.BookingFilter) (*domain.Booking, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("bookings.GetOne"); err != nil {
		return nil, err
	}
	found := m.sorted(f)
	if len(found) == 0 {
		return nil, repository.ErrBookingNotFound
	}
	b := found[0]
	return &b, nil
}

func (m memBookings) GetMany(_ context.Context, f repository.BookingFilter) ([]*domain.Booking, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("bookings.GetMany"); err != nil {
		return nil, err
	}
	out := []*domain.Booking{}
	for _, b := range m.sorted(f) {
		b := b
		out = append(out, &b)
	}
	return out, nil
}

func (m memBookings) UpdateOneStrict(ctx context.Context, f repository.BookingFilter, p repository.BookingPatch) (repository.UpdateResult, error) {
	if f.ID == nil {
		return repository.UpdateResult{}, repository.ErrKeyRequired
	}
	return m.update("bookings.UpdateOneStrict", f, p)
}

func (m memBookings) UpdateMany(ctx context.Context, f repository.BookingFilter, p repository.BookingPatch) (repository.UpdateResult, error) {
	if bookingFilterEmpty(f) {
		return repository.UpdateResult{}, repository.ErrEmptyFilter
	}
	return m.update("bookings.UpdateMany", f, p)
}

func (m memBookings) update(op string, f repository.BookingFilter, patch repository.BookingPatch) (repository.UpdateResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter(op); err != nil {
		return repository.UpdateResult{}, err
	}
	var n int64
	for id, b := range m.s.bookings {
		if !matchBooking(b, f) {
			continue
		}
		if patch.Status != nil {
			b.Status = *patch.Status
		}
		if patch.Payment != nil {
			b.Payment = *patch.Payment
		}
		if patch.TransactionID != nil {
			tx := *patch.TransactionID
			b.TransactionID = &tx
		}
		m.s.bookings[id] = b
		n++
	}
	return repository.UpdateResult{Matched: n}, nil
}

func (m memBookings) DeleteOne(ctx context.Context, f repository.BookingFilter) (repository.DeleteResult, error) {
	if f.ID == nil {
		return repository.DeleteResult{}, repository.ErrKeyRequired
	}
	return m.delete("bookings.DeleteOne", f)
}

func (m memBookings) DeleteMany(ctx context.Context, f repository.BookingFilter) (repository.DeleteResult, error) {
	if bookingFilterEmpty(f) {
		return repository.DeleteResult{}, repository.ErrEmptyFilter
	}
	return m.delete("bookings.DeleteMany", f)
}

func (m memBookings) delete(op string, f repository.BookingFilter) (repository.DeleteResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter(op); err != nil {
		return repository.DeleteResult{}, err
	}
	var n int64
	for id, b := range m.s.bookings {
		if matchBooking(b, f) {
			delete(m.s.bookings, id)
			n++
		}
	}
	return repository.DeleteResult{Deleted: n}, nil
}

// categories

type memCategories struct{ s *memStore }

func (m memCategories) Create(_ context.Context, c *domain.Category) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("categories.Create"); err != nil {
		return err
	}
	for _, existing := range m.s.categories {
		if existing.Name == c.Name {
			return repository.ErrCategoryAlreadyExists
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.s.categories[c.ID] = *c
	return nil
}

func (m memCategories) List(_ context.Context) ([]*domain.Category, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("categories.List"); err != nil {
		return nil, err
	}
	out := []*domain.Category{}
	for _, c := range m.s.categories {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memCategories) FindByID(_ context.Context, id uuid.UUID) (*domain.Category, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.enter("categories.FindByID"); err != nil {
		return nil, err
	}
	c, ok := m.s.categories[id]
	if !ok {
		return nil, repository.ErrCategoryNotFound
	}
	return &c, nil
}

func (s *memStore) seedCategory(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.categories[id] = domain.Category{ID: id, Name: name}
	return id
}

// message fakes

type recordingQueue struct {
	mu   sync.Mutex
	reqs []events.RepairRequest
	err  error
}

func (q *recordingQueue) EnqueueRepair(_ context.Context, req events.RepairRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.reqs = append(q.reqs, req)
	return nil
}

func (q *recordingQueue) requests() []events.RepairRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]events.RepairRequest(nil), q.reqs...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentCompletedEvent
	err    error
}

func (p *recordingPublisher) PublishPaymentCompleted(_ context.Context, event events.PaymentCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []events.PaymentCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PaymentCompletedEvent(nil), p.events...)
}

type harness struct {
	store     *memStore
	coord     Coordinator
	queries   QueryService
	repairs   *recordingQueue
	publisher *recordingPublisher
}

func newHarness() *harness {
	store := newMemStore()
	repairs := &recordingQueue{}
	publisher := &recordingPublisher{}
	return &harness{
		store:     store,
		coord:     NewCoordinator(store.Users(), store.Products(), store.Bookings(), store.Categories(), repairs, publisher, zap.NewNop()),
		queries:   NewQueryService(store.Users(), store.Products(), store.Bookings(), store.Categories()),
		repairs:   repairs,
		publisher: publisher,
	}
}
