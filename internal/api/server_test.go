package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopledger/patronage/internal/compliance"
	"github.com/coopledger/patronage/internal/contribution"
	"github.com/coopledger/patronage/internal/domain"
	"github.com/coopledger/patronage/internal/event"
	"github.com/coopledger/patronage/internal/ledger"
	"github.com/coopledger/patronage/internal/policy"
	"github.com/coopledger/patronage/internal/store"

	periodclose "github.com/coopledger/patronage/internal/close"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pol := policy.Policy{
		Currency:       "USD",
		SurplusAccount: "retained-surplus",
		Weights: map[string]decimal.Decimal{
			"labor":   decimal.RequireFromString("0.6"),
			"capital": decimal.RequireFromString("0.4"),
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := event.NewBus(st, logger)
	led := ledger.New(st, logger)
	chk := compliance.NewChecker(st, "USD", logger)
	contribs := contribution.New(st, bus, pol, logger)
	orch := periodclose.New(st, led, chk, bus, pol, logger)

	ctx := context.Background()
	require.NoError(t, st.EnsureSystemAccount(ctx, "retained-surplus"))

	srv := NewServer(st, led, contribs, orch, chk, pol, logger)
	srv.pollInterval = 10 * time.Millisecond
	return srv, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v),
		"body: %s", rec.Body.String())
}

func seedMembers(t *testing.T, h http.Handler) {
	t.Helper()
	for _, m := range []map[string]any{
		{"id": "m-ada", "name": "Ada", "dro": true},
		{"id": "m-ben", "name": "Ben", "dro": true},
	} {
		rec := doJSON(t, h, http.MethodPost, "/v1/members", m)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/periods", map[string]any{
		"id": "p-1", "name": "FY2025",
		"startsAt": "2025-01-01T00:00:00Z", "endsAt": "2025-12-31T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAPI_ContributionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	seedMembers(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/contributions", map[string]any{
		"memberId": "m-ada", "periodId": "p-1", "type": "labor", "amount": "800",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, rec, &c)
	assert.Equal(t, "pending", c.Status)

	// Self-approval is a state conflict.
	rec = doJSON(t, h, http.MethodPost, "/v1/contributions/"+c.ID+"/approve",
		map[string]any{"approverId": "m-ada"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/contributions/"+c.ID+"/approve",
		map[string]any{"approverId": "m-ben"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Terminal: a second resolution conflicts.
	rec = doJSON(t, h, http.MethodPost, "/v1/contributions/"+c.ID+"/reject",
		map[string]any{"approverId": "m-ben", "reason": "changed my mind"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/contributions?period=p-1&status=approved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Contributions []contributionDTO `json:"contributions"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Contributions, 1)
	assert.Equal(t, "m-ben", list.Contributions[0].ResolvedBy)
}

func TestAPI_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	seedMembers(t, h)

	// Unknown contribution type.
	rec := doJSON(t, h, http.MethodPost, "/v1/contributions", map[string]any{
		"memberId": "m-ada", "periodId": "p-1", "type": "vibes", "amount": "10",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unparsable amount.
	rec = doJSON(t, h, http.MethodPost, "/v1/contributions", map[string]any{
		"memberId": "m-ada", "periodId": "p-1", "type": "labor", "amount": "ten",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown member is a missing resource.
	rec = doJSON(t, h, http.MethodPost, "/v1/contributions", map[string]any{
		"memberId": "m-ghost", "periodId": "p-1", "type": "labor", "amount": "10",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unknown account on the balance endpoint.
	rec = doJSON(t, h, http.MethodGet, "/v1/accounts/acct:ghost:book/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_CloseWorkflow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	seedMembers(t, h)

	submit := func(member, approver, amount string) {
		rec := doJSON(t, h, http.MethodPost, "/v1/contributions", map[string]any{
			"memberId": member, "periodId": "p-1", "type": "labor", "amount": amount,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var c struct {
			ID string `json:"id"`
		}
		decode(t, rec, &c)
		rec = doJSON(t, h, http.MethodPost, "/v1/contributions/"+c.ID+"/approve",
			map[string]any{"approverId": approver})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	submit("m-ada", "m-ben", "600")
	submit("m-ben", "m-ada", "200")

	rec := doJSON(t, h, http.MethodPost, "/v1/periods/p-1/close",
		map[string]any{"surplus": "1000.00"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	// A second initiation loses the open → closing race.
	rec = doJSON(t, h, http.MethodPost, "/v1/periods/p-1/close",
		map[string]any{"surplus": "1000.00"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/periods/p-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var periodResp struct {
		Period      periodDTO       `json:"period"`
		Allocations []allocationDTO `json:"allocations"`
	}
	decode(t, rec, &periodResp)
	assert.Equal(t, "closing", periodResp.Period.Status)
	require.Len(t, periodResp.Allocations, 2)

	rec = doJSON(t, h, http.MethodGet, "/v1/periods/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active periodDTO
	decode(t, rec, &active)
	assert.Equal(t, "p-1", active.ID)

	rec = doJSON(t, h, http.MethodPost, "/v1/periods/p-1/close/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 600 and 200 of labor, both weight 0.6: shares 75% / 25%.
	rec = doJSON(t, h, http.MethodGet, "/v1/accounts/acct:m-ada:book/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal balanceResponse
	decode(t, rec, &bal)
	assert.Equal(t, "750.00", bal.Amount)

	rec = doJSON(t, h, http.MethodGet, "/v1/periods/p-1/close/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Period periodDTO      `json:"period"`
		Steps  []closeStepDTO `json:"steps"`
	}
	decode(t, rec, &status)
	assert.Equal(t, "closed", status.Period.Status)
	require.NotEmpty(t, status.Steps)
	assert.Equal(t, periodclose.StepAggregatePatronage, status.Steps[0].Step)
	assert.Equal(t, periodclose.StepLockPeriod, status.Steps[len(status.Steps)-1].Step)

	// No period is active once p-1 is closed.
	rec = doJSON(t, h, http.MethodGet, "/v1/periods/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/violations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var violations struct {
		Violations []compliance.Violation `json:"violations"`
	}
	decode(t, rec, &violations)
	assert.Empty(t, violations.Violations)
}

func TestAPI_HistoryAndTemporalBalance(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()
	seedMembers(t, h)

	lines := []domain.Line{
		{AccountID: domain.MemberAccountID("m-ada", domain.BasisBook), Amount: mustUSD(t, "100.00")},
		{AccountID: domain.SystemAccountID("retained-surplus", domain.BasisBook), Amount: mustUSD(t, "-100.00")},
	}
	tx := domain.Transaction{
		ID:         domain.MustTransactionID("api-history", domain.CategoryRevaluation, "", lines, ""),
		Category:   domain.CategoryRevaluation,
		Lines:      lines,
		OccurredAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := st.AppendTransaction(context.Background(), tx)
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/v1/accounts/acct:m-ada:book/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Transactions []transactionDTO `json:"transactions"`
	}
	decode(t, rec, &hist)
	require.Len(t, hist.Transactions, 1)
	assert.Equal(t, tx.ID, hist.Transactions[0].ID)

	// Before the transaction the balance was zero.
	rec = doJSON(t, h, http.MethodGet,
		"/v1/accounts/acct:m-ada:book/balance?as_of=2025-02-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal balanceResponse
	decode(t, rec, &bal)
	assert.Equal(t, "0.00", bal.Amount)
}

func TestAPI_EventFeed(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.Handler()

	bus := event.NewBus(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ev, err := event.New("period.closed", "p-1", time.Now(), map[string]string{"periodId": "p-1"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/events?type=period.closed", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, "event: period.closed")
	assert.Contains(t, body, fmt.Sprintf("id: %d", 1))
	assert.True(t, strings.Contains(body, ev.ID), "payload should carry the envelope")
}

func mustUSD(t *testing.T, s string) domain.Money {
	t.Helper()
	m, err := domain.MoneyFromString(s, "USD")
	require.NoError(t, err)
	return m
}
