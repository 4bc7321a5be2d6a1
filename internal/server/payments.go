package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

type createRefundBody struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

type resolveRefundBody struct {
	Status          string `json:"status"`
	GatewayRefundID string `json:"gateway_refund_id"`
}

type analyticsQuery struct {
	Start string `form:"start"`
	End   string `form:"end"`
}

const defaultAnalyticsWindow = 30 * 24 * time.Hour

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentdomain.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("gateway", strings.ToLower(strings.TrimSpace(req.Gateway)))

	resp, err := s.paymentSvc.CreatePaymentIntent(c.Request.Context(), caller, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusCreated, resp)
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	payment, err := s.paymentSvc.Confirm(c.Request.Context(), caller, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, payment)
}

func (s *Server) CreateRefund(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var body createRefundBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	refund, err := s.refundSvc.CreateRefund(c.Request.Context(), paymentdomain.CreateRefundRequest{
		PaymentID: strings.TrimSpace(c.Param("id")),
		Amount:    body.Amount,
		Reason:    strings.TrimSpace(body.Reason),
		Actor:     caller,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusCreated, refund)
}

func (s *Server) ResolveRefund(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var body resolveRefundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	refund, err := s.refundSvc.ResolveRefund(c.Request.Context(), paymentdomain.ResolveRefundRequest{
		PaymentID:       strings.TrimSpace(c.Param("id")),
		RefundID:        strings.TrimSpace(c.Param("refund_id")),
		Status:          paymentdomain.RefundStatus(strings.ToLower(strings.TrimSpace(body.Status))),
		GatewayRefundID: strings.TrimSpace(body.GatewayRefundID),
		Actor:           caller,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, refund)
}

func (s *Server) GetPayment(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	payment, err := s.paymentSvc.Get(c.Request.Context(), caller, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, payment)
}

func (s *Server) DownloadPaymentReceipt(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	receipt, err := s.paymentSvc.Receipt(c.Request.Context(), caller, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\""+receipt.Filename+"\"")
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, -1, "application/pdf", receipt.Content, nil)
}

func (s *Server) ListPayments(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentdomain.ListPaymentRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), caller, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) PaymentAnalytics(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query analyticsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, end, err := bounds(queryTime{"start", query.Start}, queryTime{"end", query.End})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	req := paymentdomain.AnalyticsRequest{End: time.Now().UTC()}
	if end != nil {
		req.End = *end
	}
	req.Start = req.End.Add(-defaultAnalyticsWindow)
	if start != nil {
		req.Start = *start
	}

	resp, err := s.paymentSvc.Analytics(c.Request.Context(), caller, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}
