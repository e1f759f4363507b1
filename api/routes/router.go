package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/fulfillment-backend/api/controllers"
	"github.com/angelmondragon/fulfillment-backend/api/controllers/deadletters"
	shippingcontrollers "github.com/angelmondragon/fulfillment-backend/api/controllers/shipping"
	warehousecontrollers "github.com/angelmondragon/fulfillment-backend/api/controllers/warehouse"
	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/internal/access"
	"github.com/angelmondragon/fulfillment-backend/internal/shipping"
	"github.com/angelmondragon/fulfillment-backend/internal/warehouse"
	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/fulfillment-backend/pkg/redis"
)

// Params carries everything the HTTP surface needs.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency pkgredis.IdempotencyStore
	Gatherer    prometheus.Gatherer
	Warehouse   warehouse.Service
	Shipping    shipping.Service
	HTTPMetrics *metrics.HTTPMetrics

	// DeadLetters is optional; the inspection route is only mounted when set.
	DeadLetters deadletters.Lister
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}, logg))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	can := func(action access.Action) func(http.Handler) http.Handler {
		return middleware.RequireAction(action, logg)
	}

	r.Group(func(r chi.Router) {
		r.Use(otelhttp.NewMiddleware("fulfillment-api"))
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		r.Route("/warehouse", func(r chi.Router) {
			svc := p.Warehouse
			r.With(can(access.ActionStockWrite)).Post("/", warehousecontrollers.Create(svc, logg))
			r.With(can(access.ActionStockRead)).Get("/", warehousecontrollers.List(svc, logg))
			r.With(can(access.ActionStockRead)).Get("/inventory", warehousecontrollers.Inventory(svc, logg))
			r.With(can(access.ActionStockRead)).Get("/low-stock", warehousecontrollers.LowStock(svc, cfg.Warehouse.LowStockThreshold, logg))
			r.With(can(access.ActionStockRead)).Get("/product/{productId}", warehousecontrollers.ByProduct(svc, logg))
			r.With(can(access.ActionStockReserve)).Post("/reserve/{productId}", warehousecontrollers.Reserve(svc, logg))
			r.With(can(access.ActionStockReserve)).Post("/release/{productId}", warehousecontrollers.Release(svc, logg))
			r.With(can(access.ActionStockRead)).Get("/{id}", warehousecontrollers.Detail(svc, logg))
			r.With(can(access.ActionStockWrite)).Post("/{id}/transaction", warehousecontrollers.AddTransaction(svc, logg))
			r.With(can(access.ActionStockWrite)).Put("/{id}/adjust", warehousecontrollers.Adjust(svc, logg))
			r.With(can(access.ActionStockWrite)).Put("/{id}/active", warehousecontrollers.SetActive(svc, logg))
		})

		r.Route("/shipping", func(r chi.Router) {
			svc := p.Shipping
			r.With(can(access.ActionDeliveryRead)).Get("/my-deliveries", shippingcontrollers.ListMine(svc, logg))
			r.With(can(access.ActionDeliveryRead)).Get("/history", shippingcontrollers.History(svc, logg))
			r.With(can(access.ActionDeliveryRead)).Get("/order/{orderId}", shippingcontrollers.Get(svc, logg))
			r.With(can(access.ActionDeliveryUpdate)).Put("/order/{orderId}/update", shippingcontrollers.Update(svc, logg))
			r.With(can(access.ActionDeliveryAssign)).Post("/order/{orderId}/assign", shippingcontrollers.Assign(svc, logg))
		})

		if p.DeadLetters != nil {
			r.With(can(access.ActionSyncInspect)).Get("/sync/dead-letters", deadletters.List(p.DeadLetters, logg))
		}
	})

	return r
}
