package saga

import (
	"context"
	"time"

	"github.com/earlyexpress/order-fulfillment/internal/client"
	"github.com/earlyexpress/order-fulfillment/internal/domain"
	apperrors "github.com/earlyexpress/order-fulfillment/pkg/errors"
)

// Collaborator interfaces, satisfied by the concrete clients in the client
// package. Keeping them narrow lets step tests stub exactly one call.
type (
	// StockReserver places and releases stock holds.
	StockReserver interface {
		Reserve(ctx context.Context, req client.ReserveStockRequest) (*client.ReserveStockResponse, error)
		Restore(ctx context.Context, req client.RestoreStockRequest) error
	}

	// PaymentVerifier confirms a payment-gateway transaction.
	PaymentVerifier interface {
		Verify(ctx context.Context, req client.VerifyPaymentRequest) (*client.VerifyPaymentResponse, error)
	}

	// RouteCalculator computes the hub path to the destination.
	RouteCalculator interface {
		Calculate(ctx context.Context, req client.CalculateRouteRequest) (*client.CalculateRouteResponse, error)
	}

	// ScheduleCalculator derives deadline and ETA for a route.
	ScheduleCalculator interface {
		Calculate(ctx context.Context, req client.CalculateScheduleRequest) (*client.CalculateScheduleResponse, error)
	}

	// HubDeliveryCreator schedules an inter-hub transfer.
	HubDeliveryCreator interface {
		Create(ctx context.Context, req client.CreateHubDeliveryRequest) (*client.CreateHubDeliveryResponse, error)
	}

	// LastMileCreator requests the final-leg delivery.
	LastMileCreator interface {
		Create(ctx context.Context, req client.CreateLastMileRequest) (*client.CreateLastMileResponse, error)
	}
)

type stockReservationStep struct {
	inventory StockReserver
}

// NewStockReservationStep builds the executor for the first saga step.
func NewStockReservationStep(inventory StockReserver) StepExecutor {
	return &stockReservationStep{inventory: inventory}
}

func (s *stockReservationStep) Name() string { return domain.StepStockReservation }

func (s *stockReservationStep) Execute(ctx context.Context, run *Execution) (*StepOutput, error) {
	o := run.Order
	resp, err := s.inventory.Reserve(ctx, client.ReserveStockRequest{
		OrderID:    o.ID,
		Items:      []client.ReserveItem{{ProductID: o.ProductID, Quantity: o.Quantity}},
		SupplierID: o.SupplierCompanyID,
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.ReservationItem, len(resp.Reservations))
	for i, r := range resp.Reservations {
		items[i] = domain.ReservationItem{
			ProductID: r.ProductID,
			HubID:     r.HubID,
			Quantity:  r.Quantity,
			Success:   r.Success,
		}
	}

	if !resp.AllSuccess {
		// A partial reservation still holds stock for its successful lines.
		// Release those holds before failing, since a first-step failure
		// ends the saga without a compensation walk.
		if rerr := s.inventory.Restore(ctx, client.RestoreStockRequest{
			OrderID:       o.ID,
			ReservationID: resp.ReservationID,
			Items:         restoreItems(items),
			Reason:        "partial stock reservation released",
		}); rerr != nil {
			return nil, apperrors.InsufficientStock("inventory-service: partial reservation, release failed: " + rerr.Error())
		}
		return nil, apperrors.InsufficientStock("inventory-service: could not reserve full quantity")
	}

	return &StepOutput{
		OrderStatus: domain.OrderStatusReserved,
		Apply: func(o *domain.Order) {
			o.ReservationID = resp.ReservationID
			o.ReservationItems = items
			o.ProductHubID = firstHub(items)
		},
	}, nil
}

// restoreItems maps the successful lines of a reservation breakdown onto a
// restore request. Failed lines never held stock.
func restoreItems(items []domain.ReservationItem) []client.RestoreItem {
	out := make([]client.RestoreItem, 0, len(items))
	for _, it := range items {
		if !it.Success {
			continue
		}
		out = append(out, client.RestoreItem{
			ProductID: it.ProductID,
			HubID:     it.HubID,
			Quantity:  it.Quantity,
		})
	}
	return out
}

func firstHub(items []domain.ReservationItem) string {
	for _, it := range items {
		if it.Success {
			return it.HubID
		}
	}
	return ""
}

type paymentVerifyStep struct {
	payment PaymentVerifier
}

// NewPaymentVerifyStep builds the executor for the payment verification step.
func NewPaymentVerifyStep(payment PaymentVerifier) StepExecutor {
	return &paymentVerifyStep{payment: payment}
}

func (s *paymentVerifyStep) Name() string { return domain.StepPaymentVerify }

func (s *paymentVerifyStep) Execute(ctx context.Context, run *Execution) (*StepOutput, error) {
	o := run.Order
	resp, err := s.payment.Verify(ctx, client.VerifyPaymentRequest{
		OrderID:    o.ID,
		PaymentID:  o.PaymentID,
		PaymentKey: o.PaymentKey,
		Amount:     o.TotalAmount,
	})
	if err != nil {
		return nil, err
	}
	return &StepOutput{
		OrderStatus: domain.OrderStatusPaid,
		Apply: func(o *domain.Order) {
			o.PGProvider = resp.PGProvider
			o.PaymentID = resp.PaymentID
		},
	}, nil
}

type routeCalculationStep struct {
	routing  RouteCalculator
	schedule ScheduleCalculator
}

// NewRouteCalculationStep builds the executor that computes the hub path and
// the delivery schedule in one step.
func NewRouteCalculationStep(routing RouteCalculator, schedule ScheduleCalculator) StepExecutor {
	return &routeCalculationStep{routing: routing, schedule: schedule}
}

func (s *routeCalculationStep) Name() string { return domain.StepRouteCalculation }

func (s *routeCalculationStep) Execute(ctx context.Context, run *Execution) (*StepOutput, error) {
	o := run.Order
	route, err := s.routing.Calculate(ctx, client.CalculateRouteRequest{
		OrderID:      o.ID,
		ProductHubID: o.ProductHubID,
		Address:      o.Address,
	})
	if err != nil {
		return nil, err
	}

	sched, err := s.schedule.Calculate(ctx, client.CalculateScheduleRequest{
		OrderID:           o.ID,
		HubPath:           route.HubPath,
		RequestedDelivery: o.RequestedDelivery,
	})
	if err != nil {
		return nil, err
	}

	run.HubPath = route.HubPath
	deadline := sched.DepartureDeadline
	eta := sched.EstimatedDeliveryAt
	return &StepOutput{
		OrderStatus: domain.OrderStatusRouted,
		Apply: func(o *domain.Order) {
			o.DestinationHubID = route.DestinationHubID
			o.DepartureDeadline = &deadline
			o.EstimatedDeliveryAt = &eta
		},
		SkipNext: !route.RequiresHubDelivery(),
	}, nil
}

type hubDeliveryStep struct {
	hub HubDeliveryCreator
}

// NewHubDeliveryStep builds the executor for the inter-hub transfer step.
func NewHubDeliveryStep(hub HubDeliveryCreator) StepExecutor {
	return &hubDeliveryStep{hub: hub}
}

func (s *hubDeliveryStep) Name() string { return domain.StepHubDelivery }

func (s *hubDeliveryStep) Execute(ctx context.Context, run *Execution) (*StepOutput, error) {
	o := run.Order
	hubPath := run.HubPath
	if len(hubPath) == 0 {
		// Run resumed without the route step's in-memory path; the
		// endpoints recorded on the order are enough for the transfer.
		hubPath = []string{o.ProductHubID, o.DestinationHubID}
	}

	var deadline *time.Time
	if o.DepartureDeadline != nil {
		d := *o.DepartureDeadline
		deadline = &d
	}

	resp, err := s.hub.Create(ctx, client.CreateHubDeliveryRequest{
		OrderID:           o.ID,
		HubPath:           hubPath,
		DepartureDeadline: deadline,
	})
	if err != nil {
		return nil, err
	}
	return &StepOutput{
		OrderStatus: domain.OrderStatusHubDeliveryCreated,
		Apply: func(o *domain.Order) {
			o.HubDeliveryID = resp.HubDeliveryID
		},
	}, nil
}

type lastMileStep struct {
	lastMile LastMileCreator
}

// NewLastMileStep builds the executor for the final-leg delivery step.
func NewLastMileStep(lastMile LastMileCreator) StepExecutor {
	return &lastMileStep{lastMile: lastMile}
}

func (s *lastMileStep) Name() string { return domain.StepLastMileDelivery }

func (s *lastMileStep) Execute(ctx context.Context, run *Execution) (*StepOutput, error) {
	o := run.Order
	resp, err := s.lastMile.Create(ctx, client.CreateLastMileRequest{
		OrderID:          o.ID,
		DestinationHubID: o.DestinationHubID,
		ReceiverName:     o.ReceiverName,
		ReceiverPhone:    o.ReceiverPhone,
		Address:          o.Address,
	})
	if err != nil {
		return nil, err
	}
	return &StepOutput{
		OrderStatus: domain.OrderStatusLastMileCreated,
		Apply: func(o *domain.Order) {
			o.LastMileDeliveryID = resp.LastMileDeliveryID
			o.AssignedDriverID = resp.AssignedDriverID
		},
	}, nil
}

type notificationStep struct {
	pub Publisher
}

// NewNotificationStep builds the executor that requests the order
// confirmation notification.
func NewNotificationStep(pub Publisher) StepExecutor {
	return &notificationStep{pub: pub}
}

func (s *notificationStep) Name() string { return domain.StepNotification }

func (s *notificationStep) Execute(ctx context.Context, run *Execution) (*StepOutput, error) {
	if err := s.pub.NotificationRequested(ctx, run.Order, "order_confirmed"); err != nil {
		return nil, err
	}
	return &StepOutput{}, nil
}

type trackingStep struct {
	pub Publisher
}

// NewTrackingStep builds the executor that starts delivery tracking and
// closes out the order.
func NewTrackingStep(pub Publisher) StepExecutor {
	return &trackingStep{pub: pub}
}

func (s *trackingStep) Name() string { return domain.StepTracking }

func (s *trackingStep) Execute(ctx context.Context, run *Execution) (*StepOutput, error) {
	o := run.Order
	hubPath := run.HubPath
	if len(hubPath) == 0 {
		// Resumed run without the in-memory route: the endpoints on the
		// order still describe the journey.
		hubPath = []string{o.ProductHubID, o.DestinationHubID}
	}
	if err := s.pub.TrackingRequested(ctx, o, hubPath); err != nil {
		return nil, err
	}
	return &StepOutput{OrderStatus: domain.OrderStatusConfirmed}, nil
}
