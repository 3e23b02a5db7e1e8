/*
scenarios.go - Demo data loaders

PURPOSE:
  Seeds the store with small teams that reproduce the ledger's
  characteristic cases, so the API can be explored without typing
  employees in by hand.

AVAILABLE SCENARIOS:
  leave-overdraw:      casual=2, compoff=0; a 3-day leave drives casual to -1
  compoff-repays-debt: casual=-2 with a pending half-day comp-off; approving
                       it brings casual to -1.5 and leaves comp-offs at 0
  quarter-accrual:     regular-office and standard staff ready for the
                       monthly accrual (1.4 in Mar/Jun/Sep/Dec, else 1.3)

HOW SCENARIOS WORK:
  1. Reset: delete every employee (requests go with them by cascade)
  2. Create the approver chain (senior manager, HR)
  3. Create the employees of the scenario
  4. Optionally submit requests through the workflow

  Opening snapshots and the accrual mark are not reset; they are
  organisation-wide history.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "leave-overdraw"}

NOTE:
  Scenarios delete data. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "leave-overdraw",
		Name:        "Leave Overdraw",
		Description: "Casual 2, comp-off 0: a 3-day leave leaves casual at -1",
	},
	{
		ID:          "compoff-repays-debt",
		Name:        "Comp-off Repays Debt",
		Description: "Casual -2 with a pending half-day comp-off awaiting the senior",
	},
	{
		ID:          "quarter-accrual",
		Name:        "Quarter Accrual",
		Description: "Regular-office and standard employees ready for the monthly accrual",
	},
}

// Demo approver chain shared by every scenario.
const (
	scenarioSenior = timeoff.EmployeeID("sam-senior")
	scenarioHR     = timeoff.EmployeeID("hana-hr")
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the employee data and loads a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "leave-overdraw":
		load = h.loadLeaveOverdrawScenario
	case "compoff-repays-debt":
		load = h.loadCompOffRepaysDebtScenario
	case "quarter-accrual":
		load = h.loadQuarterAccrualScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, r, "Failed to reset data", err)
		return
	}
	h.currentScenario = ""
	if err := load(ctx); err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	employees, err := h.Directory.List(ctx)
	if err != nil {
		h.fail(w, r, "Failed to list employees", err)
		return
	}
	h.logger.Info("scenario loaded", "scenario", req.ScenarioID, "employees", len(employees))
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario":  req.ScenarioID,
		"employees": employees,
	})
}

func (h *Handler) reset(ctx context.Context) error {
	employees, err := h.Directory.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range employees {
		if err := h.Directory.Delete(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) createApprovers(ctx context.Context) error {
	approvers := []timeoff.Employee{
		{ID: scenarioSenior, Name: "Sam Senior", EmpCode: "W001", Role: timeoff.RoleManager, Email: "sam@example.com"},
		{ID: scenarioHR, Name: "Hana HR", EmpCode: "W002", Role: timeoff.RoleHR, Email: "hana@example.com"},
	}
	for _, e := range approvers {
		if _, err := h.Directory.Create(ctx, e); err != nil {
			return fmt.Errorf("create %s: %w", e.ID, err)
		}
	}
	return nil
}

func (h *Handler) loadLeaveOverdrawScenario(ctx context.Context) error {
	if err := h.createApprovers(ctx); err != nil {
		return err
	}
	_, err := h.Directory.Create(ctx, timeoff.Employee{
		ID:         "asha",
		Name:       "Asha",
		EmpCode:    "W101",
		ApproverID: scenarioSenior,
		Balances:   timeoff.Balances{CasualLeaves: decimal.NewFromInt(2)},
	})
	return err
}

func (h *Handler) loadCompOffRepaysDebtScenario(ctx context.Context) error {
	if err := h.createApprovers(ctx); err != nil {
		return err
	}
	emp, err := h.Directory.Create(ctx, timeoff.Employee{
		ID:         "ravi",
		Name:       "Ravi",
		EmpCode:    "W102",
		ApproverID: scenarioSenior,
		Balances:   timeoff.Balances{CasualLeaves: decimal.NewFromInt(-2)},
	})
	if err != nil {
		return err
	}
	_, err = h.Workflow.SubmitCompOff(ctx, timeoff.CompOffSubmission{
		EmployeeID: emp.ID,
		Date:       h.today(),
		HalfDay:    true,
		Reason:     "Weekend release support",
	})
	return err
}

func (h *Handler) loadQuarterAccrualScenario(ctx context.Context) error {
	if err := h.createApprovers(ctx); err != nil {
		return err
	}
	staff := []timeoff.Employee{
		{ID: "meera", Name: "Meera", EmpCode: "W201", Category: timeoff.CategoryRegularOffice, SickLeaveEligible: true},
		{ID: "arjun", Name: "Arjun", EmpCode: "W202", Category: timeoff.CategoryRegularOffice},
		{ID: "lena", Name: "Lena", EmpCode: "W203", Category: timeoff.CategoryStandard},
	}
	for _, e := range staff {
		e.ApproverID = scenarioSenior
		if _, err := h.Directory.Create(ctx, e); err != nil {
			return fmt.Errorf("create %s: %w", e.ID, err)
		}
	}
	return nil
}
