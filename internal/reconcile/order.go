package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/identity"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const customerCancelReason = "Cancelled by customer"

// OrderTransition is a fulfilment edit by an admin or a cancellation by the
// order owner. Target may be empty when only tracking or notes change.
type OrderTransition struct {
	OrderID    snowflake.ID
	Target     orderdomain.Status
	Caller     identity.Caller
	Reason     string
	Tracking   *orderdomain.Tracking
	AdminNotes *string
}

// TransitionResult carries the committed order and, when a paid order was
// cancelled, the succeeded payment that now needs a refund.
type TransitionResult struct {
	Order          *orderdomain.Order
	Entry          *orderdomain.TimelineEntry
	PreviousStatus orderdomain.Status
	RefundDue      *paymentdomain.Payment
	Updated        bool
}

func (r TransitionResult) Changed() bool {
	return r.Order != nil && r.Order.Status != r.PreviousStatus
}

func (e *Engine) TransitionOrder(ctx context.Context, req OrderTransition) (TransitionResult, error) {
	byAdmin := req.Caller.IsAdmin()
	if !byAdmin && req.Target != orderdomain.StatusCancelled {
		return TransitionResult{}, orderdomain.ErrInvalidTransition
	}
	if byAdmin && req.Target != "" && !req.Target.IsAdminTarget() {
		return TransitionResult{}, orderdomain.ErrInvalidStatus
	}

	var result TransitionResult
	err := e.withLock(ctx, orderLockKey(req.OrderID), func() error {
		return e.withRetry(ctx, func() error {
			return e.transaction(ctx, func(tx *gorm.DB) error {
				next, err := e.transitionOnce(ctx, tx, req, byAdmin)
				if err != nil {
					return err
				}
				result = next
				return nil
			})
		})
	})
	if err != nil {
		return TransitionResult{}, err
	}

	if !result.Updated {
		return result, nil
	}
	if result.Changed() {
		e.log.Info("order transitioned",
			zap.String("order_id", result.Order.ID.String()),
			zap.String("from", string(result.PreviousStatus)),
			zap.String("to", string(result.Order.Status)),
			zap.Bool("by_admin", byAdmin),
		)
	}
	e.notify(ctx, ChangeOrder, result.PreviousStatus, Result{Order: result.Order, Entry: result.Entry})
	return result, nil
}

func (e *Engine) transitionOnce(ctx context.Context, tx *gorm.DB, req OrderTransition, byAdmin bool) (TransitionResult, error) {
	order, err := e.orderRepo.FindByID(ctx, tx, req.OrderID, true)
	if err != nil {
		return TransitionResult{}, err
	}
	if order == nil {
		return TransitionResult{}, orderdomain.ErrOrderNotFound
	}
	previous := order.Status
	result := TransitionResult{Order: order, PreviousStatus: previous}

	target := req.Target
	if !byAdmin {
		if !order.CustomerCancellable() {
			return TransitionResult{}, orderdomain.ErrOrderNotCancellable
		}
	} else {
		if target == "" && req.Tracking != nil && order.Status == orderdomain.StatusProcessing {
			target = orderdomain.StatusShipped
		}
		if target == "" {
			target = order.Status
		}
		if order.Status.IsTerminal() && (target != order.Status || req.Tracking != nil) {
			return TransitionResult{}, orderdomain.ErrInvalidTransition
		}
	}

	changed := false
	if req.Tracking != nil {
		order.Tracking = datatypes.NewJSONType(*req.Tracking)
		changed = true
	}
	if req.AdminNotes != nil {
		notes := strings.TrimSpace(*req.AdminNotes)
		order.AdminNotes = &notes
		changed = true
	}

	var note string
	if target != order.Status {
		order.Status = target
		changed = true
		if byAdmin {
			note = fmt.Sprintf("Status updated from %s to %s by admin", previous, target)
		}
		if target == orderdomain.StatusCancelled {
			reason := strings.TrimSpace(req.Reason)
			if reason == "" && !byAdmin {
				reason = customerCancelReason
			}
			if reason != "" {
				order.CancelReason = &reason
			}
			if !byAdmin {
				note = reason
			}
			switch order.PaymentStatus {
			case orderdomain.PaymentStatusPending, orderdomain.PaymentStatusFailed:
				order.PaymentStatus = orderdomain.PaymentStatusCancelled
			case orderdomain.PaymentStatusCompleted:
				paid, err := e.paymentRepo.FindSucceededByOrder(ctx, tx, order.ID)
				if err != nil {
					return TransitionResult{}, err
				}
				result.RefundDue = paid
			}
		}
	}
	if !changed {
		return result, nil
	}

	entry, err := e.writeOrder(ctx, tx, order, previous, note)
	if err != nil {
		return TransitionResult{}, err
	}
	result.Entry = entry
	result.Updated = true
	return result, nil
}
