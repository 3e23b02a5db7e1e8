/*
handlers.go - HTTP API handlers for the leave ledger

PURPOSE:
  Exposes employees, leave and comp-off requests, accrual, opening
  snapshots and reports over REST. Handlers decode and validate input,
  call the timeoff services and map their errors to HTTP statuses.

ENDPOINTS:
  Employees:
    GET    /api/employees                  List employees
    POST   /api/employees                  Provision an employee
    GET    /api/employees/{id}             Get one employee
    PUT    /api/employees/{id}             Update profile fields
    DELETE /api/employees/{id}             Delete, cascading requests
    PUT    /api/employees/{id}/balances    HR balance correction (CAS)
    GET    /api/employees/{id}/leaves      Leave requests, newest first
    GET    /api/employees/{id}/compoffs    Comp-off requests, newest first
    GET    /api/employees/{id}/pending     Requests awaiting this approver

  Requests:
    POST   /api/leaves                     Submit a leave request
    GET    /api/leaves                     List (?employee_id=&status=)
    GET    /api/leaves/{id}                Get one leave request
    POST   /api/leaves/{id}/decision       Approve or reject a stage
    (same four under /api/compoffs)

  Accrual, snapshots, reports:
    GET    /api/accrual                    Can accrual run this month?
    POST   /api/accrual/run                Run the monthly accrual
    POST   /api/snapshots                  Capture opening balances
    GET    /api/snapshots/{label}          Read a snapshot (Mon-YYYY)
    GET    /api/reports/{year}/{month}     Pay-period report as JSON
    GET    /api/reports/{year}/{month}/pdf Same report as a PDF

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"}:
  - 400: validation errors, malformed input
  - 403: actor may not decide this stage
  - 404: employee, request or snapshot not found
  - 409: stale state (stage already decided, accrual already ran,
         version mismatch, retries exhausted)
  - 500: anything else

SECURITY NOTE:
  No authentication. Actor ids in decision bodies are trusted.

SEE ALSO:
  - dto.go: request/response bodies
  - server.go: router and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/warp/leave-ledger/export"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps is what the HTTP layer needs to build its services.
type Deps struct {
	Store    timeoff.Store
	Notifier timeoff.Notifier
	Workflow timeoff.WorkflowConfig
	Accrual  timeoff.AccrualRule
	PayCycle generic.PayCycle
	Options  timeoff.Options
}

// Handler holds the services behind the API.
type Handler struct {
	Store     timeoff.Store
	Directory *timeoff.Directory
	Ledger    *timeoff.Ledger
	Workflow  *timeoff.Workflow
	Accrual   *timeoff.AccrualEngine
	Snapshots *timeoff.Snapshotter
	Reports   *timeoff.Reporter

	validate *validator.Validate
	logger   *slog.Logger
	clock    func() time.Time

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler wires the timeoff services over one store.
func NewHandler(d Deps) *Handler {
	logger := d.Options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := d.Options
	opts.Logger = logger
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &Handler{
		Store:     d.Store,
		Directory: timeoff.NewDirectory(d.Store, opts),
		Ledger:    timeoff.NewLedger(d.Store, opts),
		Workflow:  timeoff.NewWorkflow(d.Store, d.Notifier, d.Workflow, opts),
		Accrual:   timeoff.NewAccrualEngine(d.Store, d.Accrual, d.Notifier, d.Workflow.NotifyTimeout, opts),
		Snapshots: timeoff.NewSnapshotter(d.Store, d.PayCycle, opts),
		Reports:   timeoff.NewReporter(d.Store, d.PayCycle, opts),
		validate:  v,
		logger:    logger,
		clock:     clock,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pinger is implemented by stores backed by a network or file database.
type pinger interface {
	Ping(ctx context.Context) error
}

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Directory.List(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list employees", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(employees))
}

// CreateEmployee provisions an employee with opening balances.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	emp, err := h.Directory.Create(r.Context(), timeoff.Employee{
		ID:                timeoff.EmployeeID(req.ID),
		Name:              req.Name,
		EmpCode:           req.EmpCode,
		Email:             req.Email,
		SlackID:           req.SlackID,
		Role:              timeoff.Role(req.Role),
		Category:          timeoff.Category(req.Category),
		SickLeaveEligible: req.SickLeaveEligible,
		ApproverID:        timeoff.EmployeeID(req.ApproverID),
		Balances: timeoff.Balances{
			CasualLeaves: req.CasualLeaves,
			SickLeaves:   req.SickLeaves,
			CompOffs:     req.CompOffs,
		},
	})
	if err != nil {
		h.fail(w, r, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, emp)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Directory.Get(r.Context(), employeeParam(r))
	if err != nil {
		h.fail(w, r, "Employee not found", err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	var req UpdateEmployeeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}

	u := timeoff.ProfileUpdate{
		Name:              req.Name,
		EmpCode:           req.EmpCode,
		Email:             req.Email,
		SlackID:           req.SlackID,
		SickLeaveEligible: req.SickLeaveEligible,
	}
	if req.Role != nil {
		role := timeoff.Role(*req.Role)
		u.Role = &role
	}
	if req.Category != nil {
		category := timeoff.Category(*req.Category)
		u.Category = &category
	}
	if req.ApproverID != nil {
		approver := timeoff.EmployeeID(*req.ApproverID)
		u.ApproverID = &approver
	}

	emp, err := h.Directory.UpdateProfile(r.Context(), employeeParam(r), u)
	if err != nil {
		h.fail(w, r, "Failed to update employee", err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	if err := h.Directory.Delete(r.Context(), employeeParam(r)); err != nil {
		h.fail(w, r, "Failed to delete employee", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetBalances overwrites the three pools, provided the caller saw the
// current version.
func (h *Handler) SetBalances(w http.ResponseWriter, r *http.Request) {
	var req SetBalancesRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	emp, err := h.Ledger.SetBalances(r.Context(), employeeParam(r), timeoff.Balances{
		CasualLeaves: req.CasualLeaves,
		SickLeaves:   req.SickLeaves,
		CompOffs:     req.CompOffs,
	}, req.ExpectedVersion)
	if err != nil {
		h.fail(w, r, "Failed to set balances", err)
		return
	}
	writeJSON(w, http.StatusOK, emp)
}

func (h *Handler) EmployeeLeaves(w http.ResponseWriter, r *http.Request) {
	id := employeeParam(r)
	if _, err := h.Directory.Get(r.Context(), id); err != nil {
		h.fail(w, r, "Employee not found", err)
		return
	}
	leaves, err := h.Workflow.ListLeaveRequests(r.Context(), timeoff.RequestFilter{EmployeeID: id})
	if err != nil {
		h.fail(w, r, "Failed to list leave requests", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(leaves))
}

func (h *Handler) EmployeeCompOffs(w http.ResponseWriter, r *http.Request) {
	id := employeeParam(r)
	if _, err := h.Directory.Get(r.Context(), id); err != nil {
		h.fail(w, r, "Employee not found", err)
		return
	}
	compOffs, err := h.Workflow.ListCompOffRequests(r.Context(), timeoff.RequestFilter{EmployeeID: id})
	if err != nil {
		h.fail(w, r, "Failed to list comp-off requests", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(compOffs))
}

// Pending lists what the employee in the path may decide right now.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	q, err := h.Workflow.PendingFor(r.Context(), employeeParam(r))
	if err != nil {
		h.fail(w, r, "Failed to list pending requests", err)
		return
	}
	writeJSON(w, http.StatusOK, PendingResponse{Leaves: orEmpty(q.Leaves), CompOffs: orEmpty(q.CompOffs)})
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	var req SubmitLeaveRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		h.fail(w, r, "Invalid start date", &generic.ValidationError{Field: "start_date", Message: err.Error()})
		return
	}
	end := start
	if req.EndDate != "" {
		if end, err = generic.ParseDate(req.EndDate); err != nil {
			h.fail(w, r, "Invalid end date", &generic.ValidationError{Field: "end_date", Message: err.Error()})
			return
		}
	}

	out, err := h.Workflow.SubmitLeave(r.Context(), timeoff.LeaveSubmission{
		EmployeeID: timeoff.EmployeeID(req.EmployeeID),
		ApproverID: timeoff.EmployeeID(req.ApproverID),
		Type:       timeoff.LeaveType(req.LeaveType),
		StartDate:  start,
		EndDate:    end,
		HalfDay:    req.HalfDay,
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(w, r, "Failed to submit leave request", err)
		return
	}
	writeJSON(w, http.StatusCreated, leaveResponse(out))
}

func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	filter, err := requestFilter(r)
	if err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	leaves, err := h.Workflow.ListLeaveRequests(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list leave requests", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(leaves))
}

func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	req, err := h.Workflow.GetLeaveRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Leave request not found", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) DecideLeave(w http.ResponseWriter, r *http.Request) {
	in, err := h.decision(r)
	if err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	out, err := h.Workflow.DecideLeave(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to decide leave request", err)
		return
	}
	writeJSON(w, http.StatusOK, leaveResponse(out))
}

// =============================================================================
// COMP-OFF HANDLERS
// =============================================================================

func (h *Handler) SubmitCompOff(w http.ResponseWriter, r *http.Request) {
	var req SubmitCompOffRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, "Invalid date", &generic.ValidationError{Field: "date", Message: err.Error()})
		return
	}

	out, err := h.Workflow.SubmitCompOff(r.Context(), timeoff.CompOffSubmission{
		EmployeeID: timeoff.EmployeeID(req.EmployeeID),
		ApproverID: timeoff.EmployeeID(req.ApproverID),
		Date:       date,
		HalfDay:    req.HalfDay,
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(w, r, "Failed to submit comp-off request", err)
		return
	}
	writeJSON(w, http.StatusCreated, compOffResponse(out))
}

func (h *Handler) ListCompOffs(w http.ResponseWriter, r *http.Request) {
	filter, err := requestFilter(r)
	if err != nil {
		h.fail(w, r, "Invalid filter", err)
		return
	}
	compOffs, err := h.Workflow.ListCompOffRequests(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "Failed to list comp-off requests", err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(compOffs))
}

func (h *Handler) GetCompOff(w http.ResponseWriter, r *http.Request) {
	req, err := h.Workflow.GetCompOffRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Comp-off request not found", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) DecideCompOff(w http.ResponseWriter, r *http.Request) {
	in, err := h.decision(r)
	if err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	out, err := h.Workflow.DecideCompOff(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to decide comp-off request", err)
		return
	}
	writeJSON(w, http.StatusOK, compOffResponse(out))
}

// =============================================================================
// ACCRUAL / SNAPSHOT / REPORT HANDLERS
// =============================================================================

func (h *Handler) AccrualStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Accrual.Status(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to read accrual status", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccrualStatusDTO(status))
}

// RunAccrual credits every employee once per calendar month.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	res, err := h.Accrual.Run(r.Context())
	if err != nil {
		h.fail(w, r, "Accrual not run", err)
		return
	}
	writeJSON(w, http.StatusOK, AccrualResultDTO{
		MonthKey:          res.MonthKey,
		Updated:           res.Updated,
		RanAt:             res.RanAt,
		NotificationError: res.NotificationError,
	})
}

// CaptureSnapshot freezes opening balances. Without a label the current
// pay period is used. Capturing an existing label returns it unchanged.
func (h *Handler) CaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	var req CaptureSnapshotRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.fail(w, r, "Invalid request body", err)
			return
		}
	}
	label := req.Label
	if label == "" {
		label = h.Snapshots.CurrentLabel()
	}

	snap, created, err := h.Snapshots.Capture(r.Context(), label)
	if err != nil {
		h.fail(w, r, "Failed to capture snapshot", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, SnapshotResponse{Snapshot: snap, Created: created})
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Get(r.Context(), chi.URLParam(r, "label"))
	if err != nil {
		h.fail(w, r, "Snapshot not found", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.buildReport(r)
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GetReportPDF renders the report before writing headers so a failure can
// still be reported as JSON.
func (h *Handler) GetReportPDF(w http.ResponseWriter, r *http.Request) {
	rep, err := h.buildReport(r)
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}
	var buf bytes.Buffer
	if err := export.PDF(&buf, rep); err != nil {
		h.fail(w, r, "Failed to render report", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(rep)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

func (h *Handler) buildReport(r *http.Request) (timeoff.Report, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 2000 || year > 9999 {
		return timeoff.Report{}, &generic.ValidationError{Field: "year", Message: "must be a four-digit year"}
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		return timeoff.Report{}, &generic.ValidationError{Field: "month", Message: "must be a number"}
	}
	return h.Reports.Build(r.Context(), year, time.Month(month))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) today() generic.Date {
	return generic.DateOf(h.clock().UTC())
}

func employeeParam(r *http.Request) timeoff.EmployeeID {
	return timeoff.EmployeeID(chi.URLParam(r, "id"))
}

func requestFilter(r *http.Request) (timeoff.RequestFilter, error) {
	q := r.URL.Query()
	filter := timeoff.RequestFilter{
		EmployeeID: timeoff.EmployeeID(q.Get("employee_id")),
		Status:     timeoff.Status(q.Get("status")),
	}
	switch filter.Status {
	case "", timeoff.StatusPending, timeoff.StatusApproved, timeoff.StatusRejected:
		return filter, nil
	}
	return filter, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)}
}

func (h *Handler) decision(r *http.Request) (timeoff.DecisionInput, error) {
	var req DecisionRequest
	if err := h.decode(r, &req); err != nil {
		return timeoff.DecisionInput{}, err
	}
	return timeoff.DecisionInput{
		RequestID: chi.URLParam(r, "id"),
		ActorID:   timeoff.EmployeeID(req.ActorID),
		Stage:     timeoff.Stage(req.Stage),
		Decision:  timeoff.Decision(req.Decision),
	}, nil
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &generic.ValidationError{Field: "body", Message: err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &generic.ValidationError{Field: verrs[0].Field(), Message: describeTag(verrs[0])}
		}
		return err
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "email":
		return "must be an email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag() + " check"
}

func leaveResponse(out timeoff.LeaveOutcome) LeaveResponse {
	return LeaveResponse{Request: out.Request, Balances: out.Employee.Balances, NotificationError: out.NotificationError}
}

func compOffResponse(out timeoff.CompOffOutcome) CompOffResponse {
	return CompOffResponse{Request: out.Request, Balances: out.Employee.Balances, NotificationError: out.NotificationError}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrNotApprover):
		return http.StatusForbidden
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err), errors.Is(err, generic.ErrRetriesExhausted):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), message, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
