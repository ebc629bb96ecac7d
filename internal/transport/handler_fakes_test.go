package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/middleware"
	"oldruby-market/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// fakeCoordinator records the writes it receives. Methods not overridden
// panic through the nil embedded interface.
type fakeCoordinator struct {
	service.Coordinator

	mu    sync.Mutex
	calls []string
	err   error

	upsertCreated bool
	// upsertRole stands in for a role already stored for the user
	upsertRole domain.Role
}

func (f *fakeCoordinator) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCoordinator) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func outcome(op string, steps ...string) *service.Outcome {
	o := &service.Outcome{Operation: op}
	for _, s := range steps {
		o.Steps = append(o.Steps, service.StepResult{Name: s, Status: service.StepCompleted, Affected: 1})
	}
	return o
}

func (f *fakeCoordinator) UpsertUser(ctx context.Context, email string, profile domain.UserProfile) (*service.UserResult, error) {
	f.record("UpsertUser:" + email)
	if f.err != nil {
		return nil, f.err
	}
	role := profile.Role
	if role == "" {
		role = domain.RoleBuyer
	}
	if f.upsertRole != "" {
		role = f.upsertRole
	}
	return &service.UserResult{
		User:    &domain.User{Email: strings.ToLower(email), Name: profile.Name, Role: role},
		Created: f.upsertCreated,
		Outcome: outcome("upsert_user", service.StepUpsertUser),
	}, nil
}

func (f *fakeCoordinator) SetVerification(ctx context.Context, email string) (*service.Outcome, error) {
	f.record("SetVerification:" + email)
	return outcome("set_verification", service.StepUpsertUser, service.StepFlagProducts), f.err
}

func (f *fakeCoordinator) CreateCategory(ctx context.Context, input service.CategoryInput) (*domain.Category, error) {
	f.record("CreateCategory:" + input.Name)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Category{ID: uuid.New(), Name: input.Name}, nil
}

func (f *fakeCoordinator) CreateProduct(ctx context.Context, input service.ProductInput) (*service.ProductResult, error) {
	f.record("CreateProduct:" + input.SellerEmail)
	if f.err != nil {
		return nil, f.err
	}
	return &service.ProductResult{
		Product: &domain.Product{ID: uuid.New(), SellerEmail: input.SellerEmail, Name: input.Name, Status: domain.ProductAvailable},
		Outcome: outcome("create_product", service.StepCreateProduct),
	}, nil
}

func (f *fakeCoordinator) MarkSold(ctx context.Context, id string) (*service.Outcome, error) {
	f.record("MarkSold:" + id)
	return outcome("mark_sold", service.StepMarkProductSold, service.StepCascadeBookingsSold), f.err
}

func (f *fakeCoordinator) DeleteProduct(ctx context.Context, id string) (*service.Outcome, error) {
	f.record("DeleteProduct:" + id)
	return outcome("delete_product", service.StepDeleteProduct, service.StepDeleteBookings), f.err
}

func (f *fakeCoordinator) SetAdvertised(ctx context.Context, id string) (*service.Outcome, error) {
	f.record("SetAdvertised:" + id)
	return outcome("set_advertised", service.StepSetAdvertised), f.err
}

func (f *fakeCoordinator) SetReported(ctx context.Context, id string) (*service.Outcome, error) {
	f.record("SetReported:" + id)
	return outcome("set_reported", service.StepSetReported), f.err
}

func (f *fakeCoordinator) CreateBooking(ctx context.Context, input service.BookingInput) (*service.BookingResult, error) {
	f.record("CreateBooking:" + input.BuyerEmail)
	if f.err != nil {
		return nil, f.err
	}
	return &service.BookingResult{
		Booking: &domain.Booking{ID: uuid.New(), ProductID: uuid.MustParse(input.ProductID), BuyerEmail: input.BuyerEmail, Status: domain.BookingPending},
		Outcome: outcome("create_booking", service.StepCreateBooking),
	}, nil
}

func (f *fakeCoordinator) DeleteBooking(ctx context.Context, id string) (*service.Outcome, error) {
	f.record("DeleteBooking:" + id)
	return outcome("delete_booking", service.StepDeleteBooking), f.err
}

func (f *fakeCoordinator) CompletePayment(ctx context.Context, input service.PaymentInput) (*service.Outcome, error) {
	f.record("CompletePayment:" + input.BookingID)
	if f.err != nil {
		return nil, f.err
	}
	return outcome("complete_payment", service.StepRecordPayment, service.StepMarkProductSold, service.StepCascadeBookingsSold), nil
}

// fakeQueries serves fixed documents keyed by id or email
type fakeQueries struct {
	service.QueryService

	products map[string]*domain.Product
	bookings map[string]*domain.Booking
	users    map[string]*domain.User
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{
		products: map[string]*domain.Product{},
		bookings: map[string]*domain.Booking{},
		users:    map[string]*domain.User{},
	}
}

func (q *fakeQueries) Product(ctx context.Context, id string) (*domain.Product, error) {
	if p, ok := q.products[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (q *fakeQueries) Booking(ctx context.Context, id string) (*domain.Booking, error) {
	if b, ok := q.bookings[id]; ok {
		return b, nil
	}
	return nil, domain.ErrNotFound
}

func (q *fakeQueries) User(ctx context.Context, email string) (*domain.User, error) {
	if u, ok := q.users[email]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (q *fakeQueries) SellerVerification(ctx context.Context, email string) (bool, error) {
	u, ok := q.users[strings.ToLower(email)]
	return ok && u.SellerVerification, nil
}

func (q *fakeQueries) UsersByRole(ctx context.Context, role domain.Role) ([]*domain.User, error) {
	out := []*domain.User{}
	for _, u := range q.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (q *fakeQueries) ProductsBySeller(ctx context.Context, email string) ([]*domain.Product, error) {
	out := []*domain.Product{}
	for _, p := range q.products {
		if p.SellerEmail == email {
			out = append(out, p)
		}
	}
	return out, nil
}

func (q *fakeQueries) BookingsByBuyer(ctx context.Context, email string) ([]*domain.Booking, error) {
	out := []*domain.Booking{}
	for _, b := range q.bookings {
		if b.BuyerEmail == email {
			out = append(out, b)
		}
	}
	return out, nil
}

func (q *fakeQueries) AdvertisedProducts(ctx context.Context) ([]*domain.Product, error) {
	return []*domain.Product{}, nil
}

func (q *fakeQueries) ReportedProducts(ctx context.Context) ([]*domain.Product, error) {
	return []*domain.Product{}, nil
}

func (q *fakeQueries) Categories(ctx context.Context) ([]*domain.Category, error) {
	return []*domain.Category{}, nil
}

func (q *fakeQueries) ProductsByCategory(ctx context.Context, id string) ([]*domain.Product, error) {
	if _, err := domain.ParseID("category_id", id); err != nil {
		return nil, err
	}
	return []*domain.Product{}, nil
}

type testAPI struct {
	router  http.Handler
	coord   *fakeCoordinator
	queries *fakeQueries
	tokens  service.TokenService
}

func newTestAPI() *testAPI {
	logger := zap.NewNop()
	coord := &fakeCoordinator{}
	queries := newFakeQueries()
	tokens := service.NewTokenService(testSecret, time.Hour)

	router := chi.NewRouter()
	auth := middleware.AuthMiddleware(tokens, logger)
	NewUserHandler(coord, queries, tokens, logger).RegisterRoutes(router, auth)
	NewCategoryHandler(coord, queries, logger).RegisterRoutes(router, auth)
	NewProductHandler(coord, queries, logger).RegisterRoutes(router, auth)
	NewBookingHandler(coord, queries, logger).RegisterRoutes(router, auth)

	return &testAPI{router: router, coord: coord, queries: queries, tokens: tokens}
}

// do sends a request as the given caller; an empty email sends no token
func (a *testAPI) do(method, path, body, email string, role domain.Role) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		token, err := a.tokens.Issue(&domain.User{Email: email, Role: role})
		if err != nil {
			panic(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) addProduct(seller string) string {
	id := uuid.NewString()
	a.queries.products[id] = &domain.Product{ID: uuid.MustParse(id), SellerEmail: seller, Status: domain.ProductAvailable}
	return id
}

func (a *testAPI) addBooking(buyer string) string {
	id := uuid.NewString()
	a.queries.bookings[id] = &domain.Booking{ID: uuid.MustParse(id), BuyerEmail: buyer, ProductID: uuid.New(), Status: domain.BookingPending}
	return id
}
