package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coopledger/patronage/internal/compliance"
	"github.com/coopledger/patronage/internal/domain"
)

type balanceResponse struct {
	AccountID string `json:"accountId"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	AsOf      string `json:"asOf,omitempty"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	currency := s.policy.Currency

	resp := balanceResponse{AccountID: accountID, Currency: currency}
	if asOf := r.URL.Query().Get("as_of"); asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			s.writeError(w, fmt.Errorf("invalid as_of: %w", errBadRequest))
			return
		}
		bal, err := s.ledger.BalanceAsOf(r.Context(), accountID, currency, t)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Amount = bal.String()
		resp.AsOf = t.UTC().Format(time.RFC3339)
	} else {
		bal, err := s.ledger.Balance(r.Context(), accountID, currency)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Amount = bal.String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type lineDTO struct {
	AccountID string `json:"accountId"`
	Amount    string `json:"amount"`
}

type transactionDTO struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	Category   string    `json:"category"`
	Memo       string    `json:"memo,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Reverses   string    `json:"reverses,omitempty"`
	Lines      []lineDTO `json:"lines"`
}

func toTransactionDTO(t domain.Transaction) transactionDTO {
	dto := transactionDTO{
		ID:         t.ID,
		Seq:        t.Seq,
		Category:   string(t.Category),
		Memo:       t.Memo,
		OccurredAt: t.OccurredAt,
		Reverses:   t.Reverses,
	}
	for _, l := range t.Lines {
		dto.Lines = append(dto.Lines, lineDTO{AccountID: l.AccountID, Amount: l.Amount.String()})
	}
	return dto
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]transactionDTO, len(txs))
	for i, t := range txs {
		out[i] = toTransactionDTO(t)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

type memberDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
	DRO    bool   `json:"dro"`
	QIO    bool   `json:"qio"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.store.ListMembers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]memberDTO, len(members))
	for i, m := range members {
		out[i] = memberDTO{
			ID: m.ID, Name: m.Name, Role: string(m.Role),
			Status: string(m.Status), DRO: m.DRO, QIO: m.QIO,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req memberDTO
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	role := domain.Role(req.Role)
	if role == "" {
		role = domain.RoleMember
	}
	if !domain.ValidRole(role) {
		s.writeError(w, fmt.Errorf("invalid role %q: %w", req.Role, errBadRequest))
		return
	}
	m := domain.Member{
		ID: req.ID, Name: req.Name, Role: role,
		Status: domain.MemberActive, DRO: req.DRO, QIO: req.QIO,
		JoinedAt: time.Now(),
	}
	if m.ID == "" || m.Name == "" {
		s.writeError(w, fmt.Errorf("id and name are required: %w", errBadRequest))
		return
	}
	if err := s.store.InsertMember(r.Context(), m); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, memberDTO{
		ID: m.ID, Name: m.Name, Role: string(m.Role),
		Status: string(m.Status), DRO: m.DRO, QIO: m.QIO,
	})
}

type periodDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	StartsAt string `json:"startsAt"`
	EndsAt   string `json:"endsAt"`
	Status   string `json:"status"`
}

func toPeriodDTO(p domain.Period) periodDTO {
	return periodDTO{
		ID: p.ID, Name: p.Name, Status: string(p.Status),
		StartsAt: p.StartsAt.UTC().Format(time.RFC3339),
		EndsAt:   p.EndsAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := s.store.ListPeriods(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]periodDTO, len(periods))
	for i, p := range periods {
		out[i] = toPeriodDTO(p)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"periods": out})
}

// handleActivePeriod returns the period currently accepting work, open
// or closing. At most one exists.
func (s *Server) handleActivePeriod(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.ActivePeriod(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

func (s *Server) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodDTO
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	if req.ID == "" {
		s.writeError(w, fmt.Errorf("id is required: %w", errBadRequest))
		return
	}
	starts, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		s.writeError(w, fmt.Errorf("invalid startsAt: %w", errBadRequest))
		return
	}
	ends, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		s.writeError(w, fmt.Errorf("invalid endsAt: %w", errBadRequest))
		return
	}
	p := domain.Period{
		ID: req.ID, Name: req.Name,
		StartsAt: starts, EndsAt: ends,
		Status: domain.PeriodOpen,
	}
	if err := s.store.InsertPeriod(r.Context(), p); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPeriodDTO(p))
}

type allocationDTO struct {
	MemberID string `json:"memberId"`
	Raw      string `json:"raw"`
	Weighted string `json:"weighted"`
	Score    string `json:"score"`
	Amount   string `json:"amount"`
}

func (s *Server) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.store.GetPeriod(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	allocs, err := s.store.AllocationsForPeriod(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]allocationDTO, len(allocs))
	for i, a := range allocs {
		out[i] = allocationDTO{
			MemberID: a.MemberID, Raw: a.Raw.String(), Weighted: a.Weighted.String(),
			Score: a.Score, Amount: a.Amount.String(),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"period":      toPeriodDTO(p),
		"allocations": out,
	})
}

type contributionDTO struct {
	ID          string `json:"id"`
	MemberID    string `json:"memberId"`
	PeriodID    string `json:"periodId"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	ResolvedBy  string `json:"resolvedBy,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func toContributionDTO(c domain.Contribution) contributionDTO {
	return contributionDTO{
		ID: c.ID, MemberID: c.MemberID, PeriodID: c.PeriodID,
		Type: string(c.Type), Amount: c.Amount.String(),
		Description: c.Description, Status: string(c.Status),
		ResolvedBy: c.ResolvedBy, Reason: c.Reason,
	}
}

func (s *Server) handleListContributions(w http.ResponseWriter, r *http.Request) {
	periodID := r.URL.Query().Get("period")
	if periodID == "" {
		s.writeError(w, fmt.Errorf("period query parameter is required: %w", errBadRequest))
		return
	}
	status := domain.ContributionStatus(r.URL.Query().Get("status"))
	contribs, err := s.store.ListContributions(r.Context(), periodID, status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]contributionDTO, len(contribs))
	for i, c := range contribs {
		out[i] = toContributionDTO(c)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"contributions": out})
}

type submitContributionRequest struct {
	MemberID    string `json:"memberId"`
	PeriodID    string `json:"periodId"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleSubmitContribution(w http.ResponseWriter, r *http.Request) {
	var req submitContributionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	amount, err := domain.MoneyFromString(req.Amount, s.policy.Currency)
	if err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	c, err := s.contribs.Submit(r.Context(), req.MemberID, req.PeriodID,
		domain.ContributionType(req.Type), amount, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toContributionDTO(c))
}

type resolveContributionRequest struct {
	ApproverID string `json:"approverId"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleApproveContribution(w http.ResponseWriter, r *http.Request) {
	var req resolveContributionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	c, err := s.contribs.Approve(r.Context(), chi.URLParam(r, "id"), req.ApproverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toContributionDTO(c))
}

func (s *Server) handleRejectContribution(w http.ResponseWriter, r *http.Request) {
	var req resolveContributionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	c, err := s.contribs.Reject(r.Context(), chi.URLParam(r, "id"), req.ApproverID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toContributionDTO(c))
}

type closeRequest struct {
	Surplus string `json:"surplus"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleCloseInitiate(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	surplus, err := domain.MoneyFromString(req.Surplus, s.policy.Currency)
	if err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	if err := s.orch.Initiate(r.Context(), chi.URLParam(r, "id"), surplus); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "closing"})
}

func (s *Server) handleCloseApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Approve(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleCloseReject(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, fmt.Errorf("%v: %w", err, errBadRequest))
		return
	}
	if err := s.orch.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

func (s *Server) handleCloseResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Resume(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type closeStepDTO struct {
	Step        string `json:"step"`
	CompletedAt string `json:"completedAt"`
	Output      string `json:"output,omitempty"`
}

func (s *Server) handleCloseStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.store.GetPeriod(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	steps, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]closeStepDTO, len(steps))
	for i, cs := range steps {
		out[i] = closeStepDTO{
			Step:        cs.Step,
			CompletedAt: cs.CompletedAt.UTC().Format(time.RFC3339),
			Output:      cs.Output,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"period": toPeriodDTO(p),
		"steps":  out,
	})
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	var violations []compliance.Violation
	v, err := s.checker.CheckDoubleEntry(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	violations = append(violations, v...)
	v, err = s.checker.CheckCapitalAccounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	violations = append(violations, v...)
	if violations == nil {
		violations = []compliance.Violation{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"violations": violations})
}
