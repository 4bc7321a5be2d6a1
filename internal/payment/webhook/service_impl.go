package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/providers/slack"
	"github.com/smallbiznis/storefront/internal/reconcile"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const securityChannel = "#payments-security"

type Params struct {
	fx.In

	Log      *zap.Logger
	Adapters *adapters.Registry
	Engine   *reconcile.Engine
	Metrics  *metrics.Metrics    `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
	Slack    slack.Provider      `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	adapters *adapters.Registry
	engine   *reconcile.Engine
	metrics  *metrics.Metrics
	auditSvc auditdomain.Service
	slack    slack.Provider
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		log:      p.Log.Named("payment.webhook"),
		adapters: p.Adapters,
		engine:   p.Engine,
		metrics:  p.Metrics,
		auditSvc: p.AuditSvc,
		slack:    p.Slack,
	}
}

// Ingest authenticates one inbound request for source and applies the event
// it carries. Replays, regressions and events for already-paid orders are
// acknowledged with a nil error so the gateway stops redelivering them.
func (s *Service) Ingest(ctx context.Context, source string, payload []byte, headers http.Header) error {
	source = strings.ToLower(strings.TrimSpace(source))
	verifier, gateway, err := s.adapters.Verifier(source)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return paymentdomain.ErrInvalidPayload
	}

	event, err := verifier.Verify(ctx, payload, headers)
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		s.rejectSignature(ctx, source, gateway)
		return err
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		logger.WithContext(ctx, s.log).Debug("webhook event ignored", zap.String("source", source))
		return nil
	case err != nil:
		return err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	_, err = s.engine.ApplyEvent(ctx, *event)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reconcile.ErrDuplicateEvent),
		errors.Is(err, reconcile.ErrOutOfOrderEvent),
		errors.Is(err, reconcile.ErrOrderAlreadyPaid),
		errors.Is(err, reconcile.ErrCapturedAfterFailure):
		return nil
	}
	return err
}

func (s *Service) rejectSignature(ctx context.Context, source string, gateway paymentdomain.Gateway) {
	logger.WithContext(ctx, s.log).Warn("webhook signature rejected",
		logger.SecurityEvent(),
		zap.String("source", source),
		zap.String("gateway", string(gateway)),
	)
	s.metrics.RecordSignatureRejected(ctx, string(gateway))

	if s.auditSvc != nil {
		actorID := string(gateway)
		targetID := source
		if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeGateway), &actorID, auditdomain.ActionSignatureRejected, "webhook", &targetID, map[string]any{
			"gateway": string(gateway),
		}); err != nil {
			s.log.Warn("failed to write signature audit log", zap.Error(err))
		}
	}

	if s.slack != nil {
		message := fmt.Sprintf(":warning: rejected %s webhook with an invalid signature (source %s)", gateway, source)
		if err := s.slack.PostMessage(ctx, securityChannel, message); err != nil {
			s.log.Warn("failed to post security alert", zap.Error(err))
		}
	}
}
