package adapters

import (
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/payment/adapters/gatewayhttp"
	"github.com/smallbiznis/storefront/internal/payment/adapters/payu"
	"github.com/smallbiznis/storefront/internal/payment/adapters/razorpay"
	"github.com/smallbiznis/storefront/internal/payment/adapters/stripe"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/fx"
)

// Webhook sources. A source names the verifier for one inbound endpoint;
// most gateways have exactly one, Razorpay also signs checkout callbacks.
const (
	SourceStripe           = "stripe"
	SourceRazorpay         = "razorpay"
	SourceRazorpayCallback = "razorpay_callback"
	SourcePayU             = "payu"
)

type callbackProvider interface {
	Callback() domain.Verifier
}

type Registry struct {
	clients   map[domain.Gateway]domain.Client
	verifiers map[string]source
}

type source struct {
	gateway  domain.Gateway
	verifier domain.Verifier
}

func NewRegistry(clients ...domain.Client) *Registry {
	registry := &Registry{
		clients:   map[domain.Gateway]domain.Client{},
		verifiers: map[string]source{},
	}
	for _, client := range clients {
		if client == nil {
			continue
		}
		gateway := client.Name()
		registry.clients[gateway] = client
		registry.verifiers[string(gateway)] = source{gateway: gateway, verifier: client}
		if cb, ok := client.(callbackProvider); ok {
			registry.verifiers[string(gateway)+"_callback"] = source{gateway: gateway, verifier: cb.Callback()}
		}
	}
	return registry
}

func (r *Registry) Client(gateway domain.Gateway) (domain.Client, error) {
	if r == nil {
		return nil, domain.ErrInvalidGateway
	}
	client, ok := r.clients[gateway]
	if !ok {
		return nil, domain.ErrInvalidGateway
	}
	return client, nil
}

// Verifier resolves the verifier behind a webhook source and the gateway it
// authenticates for.
func (r *Registry) Verifier(name string) (domain.Verifier, domain.Gateway, error) {
	if r == nil {
		return nil, "", domain.ErrInvalidGateway
	}
	src, ok := r.verifiers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, "", domain.ErrInvalidGateway
	}
	return src.verifier, src.gateway, nil
}

func (r *Registry) Gateways() []domain.Gateway {
	if r == nil {
		return nil
	}
	out := make([]domain.Gateway, 0, len(r.clients))
	for gateway := range r.clients {
		out = append(out, gateway)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type Params struct {
	fx.In

	Config    config.Config
	Reconcile *config.ReconcileConfigHolder
	Clock     clock.Clock
	Metrics   *metrics.Metrics `optional:"true"`
}

// Provide builds every gateway client from config. Clients without
// credentials are still registered and answer ErrGatewayNotConfigured.
func Provide(p Params) *Registry {
	gateways := p.Config.Gateways
	timeout := p.Config.GatewayTimeout
	opts := []gatewayhttp.Option{gatewayhttp.WithMetrics(p.Metrics)}

	return NewRegistry(
		stripe.New(stripe.Config{
			SecretKey:     gateways.Stripe.SecretKey,
			WebhookSecret: gateways.Stripe.WebhookSecret,
			BaseURL:       gateways.Stripe.BaseURL,
			Timeout:       timeout,
			Tolerance: func() time.Duration {
				return p.Reconcile.Get().SignatureTolerance
			},
		}, p.Clock, opts...),
		razorpay.New(razorpay.Config{
			KeyID:         gateways.Razorpay.KeyID,
			KeySecret:     gateways.Razorpay.KeySecret,
			WebhookSecret: gateways.Razorpay.WebhookSecret,
			BaseURL:       gateways.Razorpay.BaseURL,
			Timeout:       timeout,
		}, p.Clock, opts...),
		payu.New(payu.Config{
			MerchantKey:  gateways.PayU.MerchantKey,
			MerchantSalt: gateways.PayU.MerchantSalt,
			PaymentURL:   gateways.PayU.PaymentURL,
			InfoURL:      gateways.PayU.InfoURL,
			SuccessURL:   p.Config.PublicURL + "/api/webhooks/payu/success",
			FailureURL:   p.Config.PublicURL + "/api/webhooks/payu/failure",
			Timeout:      timeout,
		}, p.Clock, opts...),
	)
}
