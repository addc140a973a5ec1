package triage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medqueue/medqueue/internal/domain/audit"
)

func newTestAPI(t *testing.T) (*echo.Echo, *Engine) {
	t.Helper()
	log := audit.NewMemoryLog()
	eng := NewEngine(NewMemoryStore(log), log, nil, EngineConfig{})
	t.Cleanup(eng.Close)

	e := echo.New()
	NewHandler(eng).RegisterRoutes(e.Group("/api/v1"))
	return e, eng
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func enqueueHTTP(t *testing.T, e *echo.Echo, severity int) *View {
	t.Helper()
	body := fmt.Sprintf(`{"symptoms":[{"code":"fever","severity":%d}],"actor":"intake"}`, severity)
	rec := doJSON(e, http.MethodPost, "/api/v1/patients", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, body %s", rec.Code, rec.Body)
	}
	var view View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return &view
}

func TestHTTP_EnqueueReturnsCreatedView(t *testing.T) {
	e, _ := newTestAPI(t)

	view := enqueueHTTP(t, e, 7)
	if view.ID == uuid.Nil {
		t.Error("view must carry the assigned id")
	}
	if view.State != StateWaiting || view.Severity != 7 || view.Version != 1 {
		t.Errorf("view = %+v", view)
	}
}

func TestHTTP_EnqueueValidation(t *testing.T) {
	e, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/patients", `{"symptoms":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty symptoms: status = %d, want 400", rec.Code)
	}
	rec = doJSON(e, http.MethodPost, "/api/v1/patients", `{"symptoms":[{"code":"x","severity":42}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("severity out of bounds: status = %d, want 400", rec.Code)
	}
}

func TestHTTP_GetPatient(t *testing.T) {
	e, _ := newTestAPI(t)
	view := enqueueHTTP(t, e, 5)

	rec := doJSON(e, http.MethodGet, "/api/v1/patients/"+view.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/patients/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown patient: status = %d, want 404", rec.Code)
	}
	rec = doJSON(e, http.MethodGet, "/api/v1/patients/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id: status = %d, want 400", rec.Code)
	}
}

func TestHTTP_NextDrainsByPriority(t *testing.T) {
	e, _ := newTestAPI(t)
	enqueueHTTP(t, e, 3)
	urgent := enqueueHTTP(t, e, 9)

	body := fmt.Sprintf(`{"doctor_id":%q}`, uuid.NewString())
	rec := doJSON(e, http.MethodPost, "/api/v1/queue/next", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("next: status = %d, body %s", rec.Code, rec.Body)
	}
	var claimed Record
	if err := json.Unmarshal(rec.Body.Bytes(), &claimed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claimed.ID != urgent.ID || claimed.State != StateInService {
		t.Errorf("claimed = %+v, want the severity-9 patient in service", claimed)
	}
}

func TestHTTP_NextEmptyQueueIsNoContent(t *testing.T) {
	e, _ := newTestAPI(t)

	body := fmt.Sprintf(`{"doctor_id":%q}`, uuid.NewString())
	rec := doJSON(e, http.MethodPost, "/api/v1/queue/next", body)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/queue/next", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing doctor_id: status = %d, want 400", rec.Code)
	}
}

func TestHTTP_CompleteLifecycleAndConflicts(t *testing.T) {
	e, _ := newTestAPI(t)
	view := enqueueHTTP(t, e, 5)
	id := view.ID.String()

	body := fmt.Sprintf(`{"doctor_id":%q,"expected_version":1,"actor":"dr-house"}`, uuid.NewString())
	rec := doJSON(e, http.MethodPost, "/api/v1/patients/"+id+"/claim", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status = %d, body %s", rec.Code, rec.Body)
	}

	// Stale version: conflict.
	rec = doJSON(e, http.MethodPost, "/api/v1/patients/"+id+"/complete", `{"expected_version":1}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("stale complete: status = %d, want 409", rec.Code)
	}

	rec = doJSON(e, http.MethodPost, "/api/v1/patients/"+id+"/complete", `{"expected_version":2,"actor":"dr-house"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status = %d, body %s", rec.Code, rec.Body)
	}
	var final View
	json.Unmarshal(rec.Body.Bytes(), &final)
	if final.State != StateCompleted {
		t.Errorf("state = %s, want completed", final.State)
	}

	// Terminal records admit no further transitions.
	rec = doJSON(e, http.MethodPost, "/api/v1/patients/"+id+"/cancel", `{"expected_version":3}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("cancel after complete: status = %d, want 422", rec.Code)
	}

	// Claiming a non-waiting patient.
	rec = doJSON(e, http.MethodPost, "/api/v1/patients/"+id+"/claim",
		fmt.Sprintf(`{"doctor_id":%q,"expected_version":3}`, uuid.NewString()))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("claim terminal: status = %d, want 422", rec.Code)
	}
}

func TestHTTP_QueueSnapshot(t *testing.T) {
	e, _ := newTestAPI(t)
	enqueueHTTP(t, e, 2)
	enqueueHTTP(t, e, 8)

	rec := doJSON(e, http.MethodGet, "/api/v1/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap QueueSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Waiting) != 2 {
		t.Fatalf("waiting = %d, want 2", len(snap.Waiting))
	}
	if snap.Waiting[0].Severity != 8 || snap.Waiting[0].Position != 1 {
		t.Errorf("head = %+v, want the severity-8 patient at position 1", snap.Waiting[0])
	}
}

func TestHTTP_HistoryIsPaginated(t *testing.T) {
	e, _ := newTestAPI(t)
	view := enqueueHTTP(t, e, 5)
	id := view.ID.String()

	doctor := uuid.NewString()
	doJSON(e, http.MethodPost, "/api/v1/patients/"+id+"/claim",
		fmt.Sprintf(`{"doctor_id":%q,"expected_version":1}`, doctor))
	doJSON(e, http.MethodPost, "/api/v1/patients/"+id+"/complete", `{"expected_version":2}`)

	rec := doJSON(e, http.MethodGet, "/api/v1/patients/"+id+"/history?limit=2&offset=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Data    []*audit.Event `json:"data"`
		Total   int            `json:"total"`
		HasMore bool           `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || len(resp.Data) != 2 {
		t.Fatalf("total = %d data = %d, want 3 and 2", resp.Total, len(resp.Data))
	}
	if resp.Data[0].ToState != "in_service" {
		t.Errorf("offset 1 event = %s, want in_service", resp.Data[0].ToState)
	}

	rec = doJSON(e, http.MethodGet, "/api/v1/patients/"+uuid.NewString()+"/history", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown patient history: status = %d, want 404", rec.Code)
	}
}
