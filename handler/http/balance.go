package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"jobboard/src/core/money"
)

type topUpRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

type topUpResponse struct {
	EmployerID int64   `json:"employerId"`
	Balance    float64 `json:"balance"`
}

// TopUpBalance adds prepaid funds to an employer's ad balance. Admins
// acting on an employer's behalf hit the same route.
func (h *Handler) TopUpBalance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}

	employer, err := h.ledger.TopUp(c.Request.Context(), id, money.FromDollars(req.Amount))
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, topUpResponse{
		EmployerID: employer.ID,
		Balance:    employer.Balance.Dollars(),
	})
}

type transactionView struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Amount        float64   `json:"amount"`
	BalanceBefore float64   `json:"balanceBefore"`
	BalanceAfter  float64   `json:"balanceAfter"`
	RelatedJobID  *int64    `json:"relatedJobId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ListTransactions returns a page of the employer's append-only balance
// ledger, newest first.
func (h *Handler) ListTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	txns, err := h.ledger.Transactions(c.Request.Context(), id, limit, offset)
	if err != nil {
		sendError(c, err)
		return
	}

	views := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, transactionView{
			ID:            t.ID,
			Type:          string(t.Type),
			Amount:        t.Amount.Dollars(),
			BalanceBefore: t.BalanceBefore.Dollars(),
			BalanceAfter:  t.BalanceAfter.Dollars(),
			RelatedJobID:  t.RelatedJobID,
			CreatedAt:     t.CreatedAt,
		})
	}

	sendJSON(c, http.StatusOK, views)
}
