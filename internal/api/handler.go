// Package api exposes payout preview, estimation and execution over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stablecoinxyz/sbc-masspay/internal/auth"
	"github.com/stablecoinxyz/sbc-masspay/internal/batch"
	"github.com/stablecoinxyz/sbc-masspay/internal/execution"
	"github.com/stablecoinxyz/sbc-masspay/internal/gas"
	"github.com/stablecoinxyz/sbc-masspay/internal/permit"
	"github.com/stablecoinxyz/sbc-masspay/internal/recipient"
	"github.com/stablecoinxyz/sbc-masspay/internal/userop"
)

var errForbidden = errors.New("forbidden")

// Runner is satisfied by execution.Controller.
type Runner interface {
	Submit(ctx context.Context, recipients []recipient.Recipient) (execution.State, error)
	State() execution.State
}

// CostEstimator is satisfied by gas.Estimator.
type CostEstimator interface {
	Estimate(ctx context.Context, calls userop.CallSet) (gas.Estimate, error)
}

// BalanceReader reads the owner's token balance.
type BalanceReader interface {
	TokenBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Deps are the collaborators the handler needs.
type Deps struct {
	Runner     Runner
	Estimator  CostEstimator
	Authorizer execution.Authorizer
	Builder    execution.CallBuilder
	Balances   BalanceReader
	Account    common.Address
	Decimals   int32
	BatchSize  int
}

// Handler serves the /masspay routes.
type Handler struct {
	d   Deps
	log *zap.Logger
}

func NewHandler(d Deps, log *zap.Logger) *Handler {
	if d.BatchSize <= 0 {
		d.BatchSize = batch.DefaultSize
	}
	return &Handler{d: d, log: log}
}

// Signed action names, one per route.
const (
	ActionPreview  = "masspay.preview"
	ActionEstimate = "masspay.estimate"
	ActionSubmit   = "masspay.submit"
	ActionState    = "masspay.state"
	ActionReceipt  = "masspay.receipt"
)

// Register mounts the routes. auth.Middleware and RequireOwner should
// already be applied to rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/masspay/preview", auth.RequireAction(ActionPreview), h.handlePreview)
	rg.POST("/masspay/estimate", auth.RequireAction(ActionEstimate), h.handleEstimate)
	rg.POST("/masspay/submit", auth.RequireAction(ActionSubmit), h.handleSubmit)
	rg.GET("/masspay/state", auth.RequireAction(ActionState), h.handleState)
	rg.GET("/masspay/receipt", auth.RequireAction(ActionReceipt), h.handleReceipt)
}

// ── Input ───────────────────────────────────────────────────────────────────

type payoutRequest struct {
	Text string `json:"text"`
}

// readRecipients accepts either a JSON {"text": ...} body or a CSV upload
// (Content-Type text/csv) with an address,amount header.
func (h *Handler) readRecipients(c *gin.Context) ([]recipient.Recipient, error) {
	if strings.HasPrefix(c.ContentType(), "text/csv") {
		return recipient.ReadCSV(c.Request.Body, h.d.Decimals)
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	var req payoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body: %v", recipient.ErrInvalidInput, err)
	}
	return recipient.Parse(req.Text, h.d.Decimals)
}

// ── Preview ─────────────────────────────────────────────────────────────────

type batchSummary struct {
	Index      int `json:"index"`
	Recipients int `json:"recipients"`
}

type previewResponse struct {
	Recipients     []recipient.Recipient `json:"recipients"`
	Count          int                   `json:"count"`
	Batches        []batchSummary        `json:"batches"`
	Total          string                `json:"total"`
	TotalBaseUnits string                `json:"totalBaseUnits"`
	Balance        string                `json:"balance,omitempty"`
	BalanceAfter   string                `json:"balanceAfter,omitempty"`
	Insufficient   bool                  `json:"insufficient,omitempty"`
}

func (h *Handler) handlePreview(c *gin.Context) {
	rs, err := h.readRecipients(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := previewResponse{
		Recipients:     rs,
		Count:          len(rs),
		Total:          recipient.DisplayTotal(rs),
		TotalBaseUnits: recipient.TotalBaseUnits(rs, h.d.Decimals).String(),
	}
	for i, b := range batch.Plan(rs, h.d.BatchSize) {
		resp.Batches = append(resp.Batches, batchSummary{Index: i, Recipients: len(b.Recipients)})
	}

	if h.d.Balances != nil && h.d.Authorizer != nil {
		bal, err := h.d.Balances.TokenBalance(c.Request.Context(), h.d.Authorizer.Owner())
		if err != nil {
			h.log.Warn("read owner balance", zap.Error(err))
		} else {
			before := decimal.NewFromBigInt(bal, -h.d.Decimals)
			after := before.Sub(recipient.Total(rs))
			resp.Balance = before.StringFixed(recipient.DisplayPlaces)
			resp.BalanceAfter = after.StringFixed(recipient.DisplayPlaces)
			resp.Insufficient = after.IsNegative()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// ── Estimate ────────────────────────────────────────────────────────────────

type estimateResponse struct {
	Cost         string `json:"cost"`
	CostGwei     string `json:"costGwei"`
	CostEth      string `json:"costEth"`
	PerOperation string `json:"costPerOperation"`
	Operations   int    `json:"operations"`
	Error        string `json:"error,omitempty"`
}

// handleEstimate prices the first batch, permit included, as one sponsored
// operation and scales it by the number of batches. Later batches carry no
// permit, so the total errs high. The estimate is advisory: failures report
// zero cost.
func (h *Handler) handleEstimate(c *gin.Context) {
	rs, err := h.readRecipients(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	batches := batch.Plan(rs, h.d.BatchSize)
	per, err := h.estimate(c.Request.Context(), rs, batches[0])
	total := per.Times(len(batches))
	resp := estimateResponse{
		Cost:         total.Wei.String(),
		CostGwei:     total.Gwei().String(),
		CostEth:      total.Eth().String(),
		PerOperation: per.Wei.String(),
		Operations:   len(batches),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// estimate signs a permit for the whole payout, which is what batch 0 carries
// on submission, and prices first as the operation that spends it.
func (h *Handler) estimate(ctx context.Context, rs []recipient.Recipient, first batch.TransferBatch) (gas.Estimate, error) {
	zero := gas.Estimate{Wei: new(big.Int)}
	pa, err := h.d.Authorizer.Authorize(ctx, h.d.Account, recipient.TotalBaseUnits(rs, h.d.Decimals))
	if err != nil {
		return zero, errors.Join(gas.ErrEstimationFailed, err)
	}
	calls, err := h.d.Builder.Build(first, pa)
	if err != nil {
		return zero, errors.Join(gas.ErrEstimationFailed, err)
	}
	est, err := h.d.Estimator.Estimate(ctx, calls)
	if err != nil || est.Wei == nil {
		return zero, err
	}
	return est, nil
}

// ── Submit / state / receipt ────────────────────────────────────────────────

func (h *Handler) handleSubmit(c *gin.Context) {
	rs, err := h.readRecipients(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	s, err := h.d.Runner.Submit(c.Request.Context(), rs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, newStateView(s))
}

func (h *Handler) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, newStateView(h.d.Runner.State()))
}

func (h *Handler) handleReceipt(c *gin.Context) {
	s := h.d.Runner.State()
	if s.Phase() != execution.PhaseDone {
		c.JSON(http.StatusNotFound, gin.H{"error": "no finished run"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="masspay-receipt-`+s.RunID+`.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(s.Receipt))
}

type batchView struct {
	ID          string                `json:"id"`
	Status      batch.Status          `json:"status"`
	TxHash      string                `json:"txHash,omitempty"`
	DisplayHash string                `json:"displayHash,omitempty"`
	ExplorerURL string                `json:"explorerUrl,omitempty"`
	Error       string                `json:"error,omitempty"`
	Total       string                `json:"total"`
	Recipients  []recipient.Recipient `json:"recipients"`
}

type stateView struct {
	Phase   execution.Phase      `json:"phase"`
	RunID   string               `json:"runId,omitempty"`
	Cursor  int                  `json:"cursor"`
	Total   string               `json:"total,omitempty"`
	Counts  map[batch.Status]int `json:"counts"`
	Batches []batchView          `json:"batches"`
	Receipt bool                 `json:"receiptReady"`
}

func newStateView(s execution.State) stateView {
	v := stateView{
		Phase:   s.Phase(),
		RunID:   s.RunID,
		Cursor:  s.Cursor,
		Counts:  s.Counts(),
		Batches: make([]batchView, 0, len(s.Batches)),
		Receipt: s.Receipt != "",
	}
	if len(s.Batches) > 0 {
		v.Total = recipient.DisplayTotal(batch.Flatten(s.Batches))
	}
	for _, b := range s.Batches {
		v.Batches = append(v.Batches, batchView{
			ID:          b.ID,
			Status:      b.Status,
			TxHash:      b.TxHash,
			DisplayHash: b.DisplayHash(),
			ExplorerURL: b.ExplorerURL,
			Error:       b.Error,
			Total:       recipient.DisplayTotal(b.Recipients),
			Recipients:  b.Recipients,
		})
	}
	return v
}

// ── Errors ──────────────────────────────────────────────────────────────────

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, recipient.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, execution.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, permit.ErrAuthorizationFailed):
		status = http.StatusBadGateway
	default:
		h.log.Error("masspay request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
