package saga

import (
	"context"
	"log/slog"
	"time"

	"github.com/earlyexpress/order-fulfillment/internal/client"
	"github.com/earlyexpress/order-fulfillment/internal/domain"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

// Shared test doubles for the orchestrator and coordinator tests.

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeOrderRepo serves GetByID from memory.
type fakeOrderRepo struct {
	orders map[string]*domain.Order
}

func newFakeOrderRepo(orders ...*domain.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[string]*domain.Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeOrderRepo) Create(_ context.Context, o *domain.Order) error {
	r.orders[o.ID] = o
	return nil
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	cp := *o
	return &cp, nil
}

func (r *fakeOrderRepo) Update(_ context.Context, o *domain.Order) error {
	stored, ok := r.orders[o.ID]
	if !ok || stored.Version != o.Version {
		return apperrors.VersionConflict("order", o.ID)
	}
	o.Version++
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

// fakeSagaRepo implements SagaRepository with version checks, so the
// orchestrator's duplicate-discard path is exercised for real.
type fakeSagaRepo struct {
	orders       *fakeOrderRepo
	sagas        map[string]*domain.OrderSaga
	byOrder      map[string]string
	updateErr    error
	updateCalls  int
	failNthWrite int
}

func newFakeSagaRepo(orders *fakeOrderRepo, sagas ...*domain.OrderSaga) *fakeSagaRepo {
	r := &fakeSagaRepo{
		orders:  orders,
		sagas:   make(map[string]*domain.OrderSaga),
		byOrder: make(map[string]string),
	}
	for _, s := range sagas {
		r.sagas[s.ID] = s
		r.byOrder[s.OrderID] = s.ID
	}
	return r
}

func (r *fakeSagaRepo) Create(_ context.Context, s *domain.OrderSaga) error {
	r.sagas[s.ID] = s
	r.byOrder[s.OrderID] = s.ID
	return nil
}

func (r *fakeSagaRepo) CreateOrderAndSaga(ctx context.Context, o *domain.Order, s *domain.OrderSaga) error {
	if err := r.orders.Create(ctx, o); err != nil {
		return err
	}
	return r.Create(ctx, s)
}

func (r *fakeSagaRepo) GetByID(_ context.Context, id string) (*domain.OrderSaga, error) {
	s, ok := r.sagas[id]
	if !ok {
		return nil, apperrors.NotFound("saga", id)
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSagaRepo) GetByOrderID(_ context.Context, orderID string) (*domain.OrderSaga, error) {
	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, apperrors.NotFound("saga for order", orderID)
	}
	return r.GetByID(context.Background(), id)
}

func (r *fakeSagaRepo) Update(_ context.Context, s *domain.OrderSaga) error {
	stored, ok := r.sagas[s.ID]
	if !ok || stored.Version != s.Version {
		return apperrors.VersionConflict("order saga", s.ID)
	}
	s.Version++
	cp := *s
	r.sagas[s.ID] = &cp
	return nil
}

func (r *fakeSagaRepo) UpdateOrderAndSaga(ctx context.Context, o *domain.Order, s *domain.OrderSaga) error {
	r.updateCalls++
	if r.updateErr != nil && (r.failNthWrite == 0 || r.updateCalls == r.failNthWrite) {
		return r.updateErr
	}
	storedSaga, ok := r.sagas[s.ID]
	if !ok || storedSaga.Version != s.Version {
		return apperrors.VersionConflict("order saga", s.ID)
	}
	storedOrder, ok := r.orders.orders[o.ID]
	if !ok || storedOrder.Version != o.Version {
		return apperrors.VersionConflict("order", o.ID)
	}
	o.Version++
	s.Version++
	oc, sc := *o, *s
	r.orders.orders[o.ID] = &oc
	r.sagas[s.ID] = &sc
	return nil
}

func (r *fakeSagaRepo) ListByStatusOlderThan(_ context.Context, status string, cutoff time.Time, limit int) ([]domain.OrderSaga, error) {
	var out []domain.OrderSaga
	for _, s := range r.sagas {
		if s.Status == status && s.UpdatedAt.Before(cutoff) {
			out = append(out, *s)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeSagaRepo) CountTerminalOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for _, s := range r.sagas {
		if s.IsTerminal() && s.CompletedAt != nil && s.CompletedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// fakePublisher records every event send and can fail selected sends.
type fakePublisher struct {
	paymentVerified []string
	completed       []string
	failed          []string
	refunds         []string
	notifications   []string
	tracking        []string
	trackedHubPath  []string
	notifyErr       error
	trackErr        error
	refundErr       error
}

func (p *fakePublisher) OrderPaymentVerified(_ context.Context, o *domain.Order, _ string) error {
	p.paymentVerified = append(p.paymentVerified, o.ID)
	return nil
}

func (p *fakePublisher) OrderCompleted(_ context.Context, o *domain.Order, _ string) error {
	p.completed = append(p.completed, o.ID)
	return nil
}

func (p *fakePublisher) OrderFailed(_ context.Context, o *domain.Order, _ string, _ string) error {
	p.failed = append(p.failed, o.ID)
	return nil
}

func (p *fakePublisher) RefundRequested(_ context.Context, o *domain.Order, _ string, _ string) error {
	if p.refundErr != nil {
		return p.refundErr
	}
	p.refunds = append(p.refunds, o.ID)
	return nil
}

func (p *fakePublisher) NotificationRequested(_ context.Context, o *domain.Order, _ string) error {
	if p.notifyErr != nil {
		return p.notifyErr
	}
	p.notifications = append(p.notifications, o.ID)
	return nil
}

func (p *fakePublisher) TrackingRequested(_ context.Context, o *domain.Order, hubPath []string) error {
	if p.trackErr != nil {
		return p.trackErr
	}
	p.tracking = append(p.tracking, o.ID)
	p.trackedHubPath = hubPath
	return nil
}

// Collaborator stubs. Each counts calls and returns a scripted sequence of
// errors before succeeding.

type stubInventory struct {
	reserveCalls int
	reserveErrs  []error
	partial      bool
	restoreCalls int
	restoreErrs  []error
	lastRestore  client.RestoreStockRequest
}

func (s *stubInventory) Reserve(_ context.Context, req client.ReserveStockRequest) (*client.ReserveStockResponse, error) {
	s.reserveCalls++
	if len(s.reserveErrs) > 0 {
		err := s.reserveErrs[0]
		s.reserveErrs = s.reserveErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if s.partial {
		return &client.ReserveStockResponse{
			ReservationID: "res-1",
			AllSuccess:    false,
			Reservations: []client.ReservedItem{
				{ProductID: req.Items[0].ProductID, HubID: "hub-src", Quantity: 1, Success: true},
				{ProductID: req.Items[0].ProductID, Quantity: req.Items[0].Quantity - 1, Success: false},
			},
		}, nil
	}
	return &client.ReserveStockResponse{
		ReservationID: "res-1",
		AllSuccess:    true,
		Reservations: []client.ReservedItem{
			{ProductID: req.Items[0].ProductID, HubID: "hub-src", Quantity: req.Items[0].Quantity, Success: true},
		},
	}, nil
}

func (s *stubInventory) Restore(_ context.Context, req client.RestoreStockRequest) error {
	s.restoreCalls++
	s.lastRestore = req
	if len(s.restoreErrs) > 0 {
		err := s.restoreErrs[0]
		s.restoreErrs = s.restoreErrs[1:]
		return err
	}
	return nil
}

type stubPayment struct {
	calls int
	errs  []error
}

func (s *stubPayment) Verify(_ context.Context, req client.VerifyPaymentRequest) (*client.VerifyPaymentResponse, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &client.VerifyPaymentResponse{PaymentID: req.PaymentID, PGProvider: "toss", Amount: req.Amount}, nil
}

type stubRouting struct {
	calls   int
	errs    []error
	hubPath []string
}

func (s *stubRouting) Calculate(_ context.Context, req client.CalculateRouteRequest) (*client.CalculateRouteResponse, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	path := s.hubPath
	if len(path) == 0 {
		path = []string{"hub-src", "hub-dst"}
	}
	return &client.CalculateRouteResponse{HubPath: path, DestinationHubID: path[len(path)-1]}, nil
}

type stubSchedule struct {
	calls int
	errs  []error
}

func (s *stubSchedule) Calculate(_ context.Context, req client.CalculateScheduleRequest) (*client.CalculateScheduleResponse, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &client.CalculateScheduleResponse{
		DepartureDeadline:   time.Now().UTC().Add(6 * time.Hour),
		EstimatedDeliveryAt: time.Now().UTC().Add(48 * time.Hour),
	}, nil
}

type stubHub struct {
	createCalls int
	createErrs  []error
	cancelCalls int
	cancelErrs  []error
	gotHubPath  []string
}

func (s *stubHub) Create(_ context.Context, req client.CreateHubDeliveryRequest) (*client.CreateHubDeliveryResponse, error) {
	s.createCalls++
	s.gotHubPath = req.HubPath
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &client.CreateHubDeliveryResponse{HubDeliveryID: "hd-1"}, nil
}

func (s *stubHub) Cancel(_ context.Context, hubDeliveryID, reason string) error {
	s.cancelCalls++
	if len(s.cancelErrs) > 0 {
		err := s.cancelErrs[0]
		s.cancelErrs = s.cancelErrs[1:]
		return err
	}
	return nil
}

type stubLastMile struct {
	createCalls int
	createErrs  []error
	cancelCalls int
	cancelErrs  []error
}

func (s *stubLastMile) Create(_ context.Context, req client.CreateLastMileRequest) (*client.CreateLastMileResponse, error) {
	s.createCalls++
	if len(s.createErrs) > 0 {
		err := s.createErrs[0]
		s.createErrs = s.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &client.CreateLastMileResponse{LastMileDeliveryID: "lm-1", AssignedDriverID: "drv-1"}, nil
}

func (s *stubLastMile) Cancel(_ context.Context, lastMileDeliveryID, reason string) error {
	s.cancelCalls++
	if len(s.cancelErrs) > 0 {
		err := s.cancelErrs[0]
		s.cancelErrs = s.cancelErrs[1:]
		return err
	}
	return nil
}

// fixture bundles a fully wired orchestrator over fakes.
type fixture struct {
	orders    *fakeOrderRepo
	sagas     *fakeSagaRepo
	pub       *fakePublisher
	inventory *stubInventory
	payment   *stubPayment
	routing   *stubRouting
	schedule  *stubSchedule
	hub       *stubHub
	lastMile  *stubLastMile
	coord     *Coordinator
	orch      *Orchestrator
	order     *domain.Order
	saga      *domain.OrderSaga
}

func testConfig() Config {
	return Config{
		StepTimeout:  time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}
}

func newFixture() *fixture {
	order := domain.NewOrder("ORD-20260831-000001", "sup-1", "recv-1", "prod-1", "Pallet jack", 2, 150000)
	order.ReceiverName = "Kim Dispatch"
	order.ReceiverPhone = "+821012345678"
	order.Address = domain.Address{Line: "12 Harbor Rd", City: "Busan", PostalCode: "48058", Country: "KR"}
	order.PaymentID = "pay-1"
	order.PaymentKey = "pk-1"

	s := domain.NewOrderSaga(order.ID)

	orders := newFakeOrderRepo(order)
	sagas := newFakeSagaRepo(orders, s)
	pub := &fakePublisher{}
	f := &fixture{
		orders:    orders,
		sagas:     sagas,
		pub:       pub,
		inventory: &stubInventory{},
		payment:   &stubPayment{},
		routing:   &stubRouting{},
		schedule:  &stubSchedule{},
		hub:       &stubHub{},
		lastMile:  &stubLastMile{},
		order:     order,
		saga:      s,
	}
	f.coord = NewCoordinator(sagas, f.inventory, f.hub, f.lastMile, pub, testConfig(), testLogger())
	f.orch = NewOrchestrator(orders, sagas, f.coord, pub, []StepExecutor{
		NewStockReservationStep(f.inventory),
		NewPaymentVerifyStep(f.payment),
		NewRouteCalculationStep(f.routing, f.schedule),
		NewHubDeliveryStep(f.hub),
		NewLastMileStep(f.lastMile),
		NewNotificationStep(pub),
		NewTrackingStep(pub),
	}, testConfig(), testLogger())
	return f
}

// storedOrder returns the persisted order state.
func (f *fixture) storedOrder() *domain.Order {
	return f.orders.orders[f.order.ID]
}

// storedSaga returns the persisted saga state.
func (f *fixture) storedSaga() *domain.OrderSaga {
	return f.sagas.sagas[f.saga.ID]
}
