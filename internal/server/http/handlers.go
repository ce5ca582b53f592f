package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"wellvault/internal/errs"
	"wellvault/internal/model"
	"wellvault/internal/service"
)

type fieldsDTO struct {
	AssessmentDate time.Time `json:"assessment_date"`
	TreatmentPlan  string    `json:"treatment_plan"`
	CurrentStatus  string    `json:"current_status"`
	Notes          string    `json:"notes"`
}

func (d fieldsDTO) toModel() model.RecordFields {
	return model.RecordFields{
		AssessmentDate: d.AssessmentDate,
		TreatmentPlan:  d.TreatmentPlan,
		CurrentStatus:  d.CurrentStatus,
		Notes:          d.Notes,
	}
}

type createRecordRequest struct {
	CaseID   uuid.UUID `json:"case_id"`
	ClientID uuid.UUID `json:"client_id"`
	Fields   fieldsDTO `json:"fields"`
	Secret   string    `json:"secret"`
}

type secretRequest struct {
	Secret string `json:"secret"`
}

type updateRecordRequest struct {
	Fields fieldsDTO `json:"fields"`
	Secret string    `json:"secret"`
}

type grantRequest struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Secret      string    `json:"secret"`
}

type revokeAllRequest struct {
	Acknowledged bool `json:"acknowledged"`
}

type enrollRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Secret      string `json:"secret"`
}

type recordSummaryResponse struct {
	ID        uuid.UUID `json:"id"`
	CaseID    uuid.UUID `json:"case_id"`
	ClientID  uuid.UUID `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type auditEntryResponse struct {
	ID      int64     `json:"id"`
	ActorID uuid.UUID `json:"actor_id"`
	Action  string    `json:"action"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id, err := s.vault.CreateRecord(r.Context(), caller, req.CaseID, req.ClientID, req.Fields.toModel(), []byte(req.Secret))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"record_id": id.String()})
}

func (s *Server) readRecord(w http.ResponseWriter, r *http.Request) {
	caller, recordID, ok := s.callerAndRecord(w, r)
	if !ok {
		return
	}
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	fields, err := s.vault.ReadRecord(r.Context(), caller, recordID, []byte(req.Secret))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fieldsDTO{
		AssessmentDate: fields.AssessmentDate,
		TreatmentPlan:  fields.TreatmentPlan,
		CurrentStatus:  fields.CurrentStatus,
		Notes:          fields.Notes,
	})
}

func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	caller, recordID, ok := s.callerAndRecord(w, r)
	if !ok {
		return
	}
	var req updateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.vault.UpdateRecord(r.Context(), caller, recordID, req.Fields.toModel(), []byte(req.Secret)); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	caller, recordID, ok := s.callerAndRecord(w, r)
	if !ok {
		return
	}
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.vault.DeleteRecord(r.Context(), caller, recordID, []byte(req.Secret)); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) grantAccess(w http.ResponseWriter, r *http.Request) {
	caller, recordID, ok := s.callerAndRecord(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.vault.GrantAccess(r.Context(), caller, recordID, req.RecipientID, []byte(req.Secret)); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) revokeAccess(w http.ResponseWriter, r *http.Request) {
	caller, recordID, ok := s.callerAndRecord(w, r)
	if !ok {
		return
	}
	targetID, err := uuid.FromString(chi.URLParam(r, "practitionerID"))
	if err != nil {
		http.Error(w, "bad practitioner id", http.StatusBadRequest)
		return
	}
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.vault.RevokeAccess(r.Context(), caller, recordID, targetID, []byte(req.Secret)); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) revokeAll(w http.ResponseWriter, r *http.Request) {
	caller, recordID, ok := s.callerAndRecord(w, r)
	if !ok {
		return
	}
	var req revokeAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.vault.RevokeAllAdmin(r.Context(), caller, recordID, req.Acknowledged); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listGrantees(w http.ResponseWriter, r *http.Request) {
	caller, recordID, ok := s.callerAndRecord(w, r)
	if !ok {
		return
	}
	ids, err := s.vault.ListGrantees(r.Context(), caller, recordID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"grantees": out})
}

func (s *Server) auditTrail(w http.ResponseWriter, r *http.Request) {
	caller, recordID, ok := s.callerAndRecord(w, r)
	if !ok {
		return
	}
	entries, err := s.vault.GetAuditTrail(r.Context(), caller, recordID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID: e.ID, ActorID: e.ActorID,
			Action: string(e.Action), Outcome: string(e.Outcome),
			Detail: e.Detail, At: e.At,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var f model.RecordFilter
	q := r.URL.Query()
	if v := q.Get("case_id"); v != "" {
		id, err := uuid.FromString(v)
		if err != nil {
			http.Error(w, "bad case_id", http.StatusBadRequest)
			return
		}
		f.CaseID = id
	}
	if v := q.Get("client_id"); v != "" {
		id, err := uuid.FromString(v)
		if err != nil {
			http.Error(w, "bad client_id", http.StatusBadRequest)
			return
		}
		f.ClientID = id
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	items, err := s.vault.ListRecords(r.Context(), caller, f)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]recordSummaryResponse, 0, len(items))
	for _, it := range items {
		out = append(out, recordSummaryResponse{
			ID: it.ID, CaseID: it.CaseID, ClientID: it.ClientID,
			CreatedAt: it.CreatedAt, UpdatedAt: it.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) enroll(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok || caller.Role != model.RoleAdmin {
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	id, err := s.practitioners.Enroll(r.Context(), req.Username, req.DisplayName, model.Role(req.Role), []byte(req.Secret))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"practitioner_id": id.String()})
}

func (s *Server) callerAndRecord(w http.ResponseWriter, r *http.Request) (caller service.Caller, recordID uuid.UUID, ok bool) {
	caller, found := CallerFrom(r.Context())
	if !found {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return caller, uuid.Nil, false
	}
	recordID, err := uuid.FromString(chi.URLParam(r, "recordID"))
	if err != nil {
		http.Error(w, "bad record id", http.StatusBadRequest)
		return caller, uuid.Nil, false
	}
	return caller, recordID, true
}

// writeErr maps service errors onto HTTP statuses. Every denial-class error
// becomes the same generic 403 so the transport leaks no cause.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errs.IsDenial(err):
		http.Error(w, "access denied", http.StatusForbidden)
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, errs.ErrLastGrantProtected):
		http.Error(w, "last grant protected", http.StatusConflict)
	case errors.Is(err, errs.ErrAlreadyGranted):
		http.Error(w, "already granted", http.StatusConflict)
	case errors.Is(err, errs.ErrAlreadyExists):
		http.Error(w, "already exists", http.StatusConflict)
	case errors.Is(err, errs.ErrAuditUnavailable):
		http.Error(w, "audit unavailable", http.StatusServiceUnavailable)
	case strings.HasPrefix(err.Error(), "validation:"):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("internal error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
