package di

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/craftline/commerce-api/internal/payments"
	"github.com/craftline/commerce-api/internal/platform/config"
	"github.com/craftline/commerce-api/internal/platform/requestctx"
	"github.com/craftline/commerce-api/internal/repositories"
	"github.com/craftline/commerce-api/internal/services"
)

// Repositories bundles the persistence contracts the service layer depends on.
// Production wiring supplies the Firestore implementations; tests can inject
// in-memory stubs.
type Repositories struct {
	Catalog  repositories.CatalogRepository
	Carts    repositories.CartRepository
	Offers   repositories.OfferRepository
	Coupons  repositories.CouponRepository
	Orders   repositories.OrderRepository
	Invoices repositories.InvoiceRepository
	Health   repositories.HealthRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Coupons  services.CouponService
	Orders   services.OrderService
	Checkout services.CheckoutService
}

// ContainerDeps carries everything NewContainer needs to assemble the service
// graph. Payments and Publisher are optional: without a payment manager the
// checkout service is left unset, and without a publisher order confirmations
// skip event publication.
type ContainerDeps struct {
	Config    config.Config
	Repos     Repositories
	Payments  *payments.Manager
	Publisher services.OrderEventPublisher
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// NewContainer constructs the runtime dependencies in service dependency
// order: coupons first, then the cart, order, and checkout services that
// consume them.
func NewContainer(deps ContainerDeps) (*Container, error) {
	repos := deps.Repos
	if repos.Catalog == nil {
		return nil, errors.New("di: catalog repository is required")
	}
	if repos.Carts == nil {
		return nil, errors.New("di: cart repository is required")
	}
	if repos.Offers == nil {
		return nil, errors.New("di: offer repository is required")
	}
	if repos.Coupons == nil {
		return nil, errors.New("di: coupon repository is required")
	}
	if repos.Orders == nil {
		return nil, errors.New("di: order repository is required")
	}
	if repos.Invoices == nil {
		return nil, errors.New("di: invoice repository is required")
	}

	svc, err := buildServices(deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: repos,
		Services:     svc,
	}, nil
}

func buildServices(deps ContainerDeps) (Services, error) {
	var svc Services

	cfg := deps.Config
	repos := deps.Repos
	logger := serviceLogger(deps.Logger)
	shipping := services.NewShippingPolicy(cfg.Shipping.FreeThreshold, cfg.Shipping.FlatRate)

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: repos.Catalog,
		Clock:   deps.Clock,
		Logger:  logger,
	})
	if err != nil {
		return svc, err
	}
	svc.Catalog = catalogSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: repos.Coupons,
		Offers:  repos.Offers,
		Orders:  repos.Orders,
		Clock:   deps.Clock,
		Logger:  logger,
	})
	if err != nil {
		return svc, err
	}
	svc.Coupons = couponSvc

	cartCoupons := couponSvc
	if !cfg.Features.EnableCoupons {
		// Estimates stop honouring coupon codes when the feature is off;
		// order confirmation keeps validating so stale codes never slip
		// through a disabled storefront.
		cartCoupons = nil
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    repos.Carts,
		Catalog:  repos.Catalog,
		Coupons:  cartCoupons,
		Shipping: shipping,
		Clock:    deps.Clock,
		Logger:   logger,
	})
	if err != nil {
		return svc, err
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Carts:     repos.Carts,
		Catalog:   repos.Catalog,
		Orders:    repos.Orders,
		Invoices:  repos.Invoices,
		Coupons:   couponSvc,
		Publisher: deps.Publisher,
		Shipping:  shipping,
		Clock:     deps.Clock,
		Logger:    logger,
	})
	if err != nil {
		return svc, err
	}
	svc.Orders = orderSvc

	if deps.Payments != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Carts:      repos.Carts,
			Coupons:    couponSvc,
			Payments:   deps.Payments,
			Shipping:   shipping,
			Currency:   cfg.PSP.Currency,
			SuccessURL: cfg.PSP.SuccessURL,
			CancelURL:  cfg.PSP.CancelURL,
			Clock:      deps.Clock,
			Logger:     logger,
		})
		if err != nil {
			return svc, err
		}
		svc.Checkout = checkoutSvc
	}

	return svc, nil
}

// serviceLogger adapts the zap logger to the callback the service layer
// expects, preferring the request-scoped logger when one is on the context.
func serviceLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == nil || logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
