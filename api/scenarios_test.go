package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/timeoff"
)

func TestListScenarios(t *testing.T) {
	s := newTestServer(t, "2024-02-05", timeoff.DefaultWorkflowConfig())

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeAs[[]ScenarioDTO](t, rec)
	require.Len(t, got, len(scenarios))
	for _, sc := range got {
		assert.NotEmpty(t, sc.Name, sc.ID)
		assert.NotEmpty(t, sc.Description, sc.ID)
	}
}

func TestLoadScenario_AllLoad(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t, "2024-02-05", timeoff.DefaultWorkflowConfig())

			rec := s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": sc.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, sc.ID, decodeAs[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestLoadScenario_ResetsPreviousData(t *testing.T) {
	s := newTestServer(t, "2024-02-05", timeoff.DefaultWorkflowConfig())
	s.mustCreate(t, map[string]any{"id": "stale", "name": "Stale"})

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "leave-overdraw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/employees/stale", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Loading twice must not trip over its own employees.
	rec = s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "leave-overdraw"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t, "2024-02-05", timeoff.DefaultWorkflowConfig())

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestScenario_LeaveOverdraw(t *testing.T) {
	s := newTestServer(t, "2024-02-05", timeoff.DefaultWorkflowConfig())
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "leave-overdraw"}).Code)

	// WHEN: Asha takes three days against casual=2, compoff=0
	rec := s.do(t, http.MethodPost, "/api/leaves", map[string]any{
		"employee_id": "asha", "start_date": "2024-02-07", "end_date": "2024-02-09", "reason": "travel",
	})

	// THEN
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeAs[LeaveResponse](t, rec)
	assertDec(t, "-1", out.Balances.CasualLeaves, "casual")
	assertDec(t, "0", out.Balances.CompOffs, "comp-offs")
}

func TestScenario_CompOffRepaysDebt(t *testing.T) {
	s := newTestServer(t, "2024-02-05", timeoff.DefaultWorkflowConfig())
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "compoff-repays-debt"}).Code)

	rec := s.do(t, http.MethodGet, "/api/employees/"+string(scenarioSenior)+"/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeAs[PendingResponse](t, rec)
	require.Len(t, pending.CompOffs, 1)
	id := pending.CompOffs[0].ID

	// WHEN: senior then HR approve
	rec = s.do(t, http.MethodPost, "/api/compoffs/"+id+"/decision", map[string]any{"actor_id": string(scenarioSenior), "decision": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/compoffs/"+id+"/decision", map[string]any{"actor_id": string(scenarioHR), "decision": "approve"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN
	out := decodeAs[CompOffResponse](t, rec)
	assertDec(t, "-1.5", out.Balances.CasualLeaves, "casual")
	assertDec(t, "0", out.Balances.CompOffs, "comp-offs")
}

func TestScenario_QuarterAccrual(t *testing.T) {
	s := newTestServer(t, "2024-02-05", timeoff.DefaultWorkflowConfig())
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "quarter-accrual"}).Code)

	rec := s.do(t, http.MethodPost, "/api/accrual/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: February is not a quarter month
	rec = s.do(t, http.MethodGet, "/api/employees/meera", nil)
	emp := decodeAs[timeoff.Employee](t, rec)
	assertDec(t, "1.3", emp.Balances.CasualLeaves, "regular office")
	assertDec(t, "1", emp.Balances.SickLeaves, "sick eligible")
}
