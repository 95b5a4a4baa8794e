package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/auth"
	"github.com/ehr/integrator/internal/platform/middleware"
	"github.com/ehr/integrator/pkg/pagination"
)

// facilities maps a basic-auth name to its facility id; every password is "pw".
var facilities = map[string]int{"north": 1, "south": 2}

func newTestServer(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	svc := NewService(NewMemoryStore(), zerolog.Nop())
	e := echo.New()
	api := e.Group("/api/v1", auth.FacilityBasicAuth(auth.AuthenticatorFunc(
		func(_ context.Context, name, pw string) (auth.Principal, bool) {
			id, ok := facilities[name]
			return auth.Principal{FacilityID: id, Name: name}, ok && pw == "pw"
		})))
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

func do(e *echo.Echo, method, path, caller, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if caller != "" {
		req.SetBasicAuth(caller, "pw")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_IngestRequiresAuth(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodPut, "/api/v1/records/admission", "", `{}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandler_Ingest(t *testing.T) {
	e, svc := newTestServer(t)

	body := `{"key":{"facility_id":1,"item_id":12},"demographic_id":3,"program_id":4}`
	rec := do(e, http.MethodPut, "/api/v1/records/admission", "north", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp savedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Kind != KindAdmission || resp.Key != "1:12" {
		t.Errorf("unexpected response %+v", resp)
	}
	if _, err := svc.Load(context.Background(), KindAdmission, cachekey.IntKey{FacilityID: 1, ItemID: 12}); err != nil {
		t.Errorf("expected record stored, got %v", err)
	}
}

func TestHandler_IngestErrors(t *testing.T) {
	e, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		caller string
		body   string
		want   int
	}{
		{"unknown kind", "/api/v1/records/billing", "north", `{}`, http.StatusNotFound},
		{"malformed json", "/api/v1/records/admission", "north", `{`, http.StatusBadRequest},
		{"invalid key", "/api/v1/records/admission", "north", `{"key":{"facility_id":1,"item_id":0}}`, http.StatusBadRequest},
		{"foreign facility", "/api/v1/records/admission", "south", `{"key":{"facility_id":1,"item_id":5}}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPut, tt.path, tt.caller, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_ReplacePatient(t *testing.T) {
	e, svc := newTestServer(t)

	body := `[
		{"key":{"facility_id":2,"item_id":1},"demographic_id":8,"type":"BP"},
		{"key":{"facility_id":2,"item_id":2},"demographic_id":8,"type":"WT"}
	]`
	rec := do(e, http.MethodPut, "/api/v1/records/measurement/patients/8", "south", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, err := svc.PatientRecords(context.Background(), KindMeasurement, 2, 8)
	if err != nil || len(got) != 2 {
		t.Errorf("expected 2 records, got %d (%v)", len(got), err)
	}

	rec = do(e, http.MethodPut, "/api/v1/records/measurement/patients/9", "south", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for records of another patient, got %d", rec.Code)
	}

	ext := `[{"key":{"facility_id":2,"item_id":5},"measurement_id":1,"keyval":"units","val":"mmHg"}]`
	rec = do(e, http.MethodPut, "/api/v1/records/measurement_ext/patients/8", "south", ext)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "not held per patient") {
		t.Errorf("expected 400 for a kind without patients, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_IngestClinicalKinds(t *testing.T) {
	e, svc := newTestServer(t)

	bodies := map[Kind]string{
		KindAppointment: `{"key":{"facility_id":1,"item_id":21},"demographic_id":3,"provider_id":" 999 ","reason":"  follow up ","status":"t"}`,
		KindAllergy:     `{"key":{"facility_id":1,"item_id":22},"demographic_id":3,"description":"penicillin","type_code":13}`,
		KindDrug:        `{"key":{"facility_id":1,"item_id":23},"demographic_id":3,"provider_id":"999","brand_name":"Metformin","take_min":1,"take_max":2,"long_term":true}`,
	}
	for kind, body := range bodies {
		rec := do(e, http.MethodPut, "/api/v1/records/"+string(kind), "north", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected success, got %d: %s", kind, rec.Code, rec.Body.String())
		}
		got, err := svc.PatientRecords(context.Background(), kind, 1, 3)
		if err != nil || len(got) != 1 {
			t.Fatalf("%s: expected one record for the patient, got %d (%v)", kind, len(got), err)
		}
	}

	appt, err := svc.Load(context.Background(), KindAppointment, cachekey.IntKey{FacilityID: 1, ItemID: 21})
	if err != nil {
		t.Fatal(err)
	}
	if a := appt.(*Appointment); a.ProviderID != "999" || *a.Reason != "follow up" {
		t.Errorf("expected trimmed appointment text, got %q and %q", a.ProviderID, *a.Reason)
	}
}

func TestHandler_Delete(t *testing.T) {
	e, svc := newTestServer(t)
	ctx := context.Background()

	n := note(1, "abc", 3, nil)
	if err := svc.Ingest(ctx, 1, n); err != nil {
		t.Fatal(err)
	}

	if rec := do(e, http.MethodDelete, "/api/v1/records/note/1:abc", "south", ""); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 deleting another facility's record, got %d", rec.Code)
	}
	if rec := do(e, http.MethodDelete, "/api/v1/records/note/1:abc", "north", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, err := svc.Load(ctx, KindNote, n.Key); err == nil {
		t.Error("expected note to be gone")
	}
	if rec := do(e, http.MethodDelete, "/api/v1/records/admission/nonsense", "north", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed key, got %d", rec.Code)
	}
}

func TestHandler_ListOwn(t *testing.T) {
	e, svc := newTestServer(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := svc.Ingest(ctx, 1, admission(1, i, 1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Ingest(ctx, 2, admission(2, 9, 1)); err != nil {
		t.Fatal(err)
	}

	rec := do(e, http.MethodGet, "/api/v1/records/admission?limit=2", "north", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		pagination.Response
		Data []Admission `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Data) != 2 || !page.HasMore {
		t.Errorf("unexpected page total=%d len=%d more=%v", page.Total, len(page.Data), page.HasMore)
	}
}

func TestHandler_ChunkedBodyOverLimit(t *testing.T) {
	svc := NewService(NewMemoryStore(), zerolog.Nop())
	e := echo.New()
	e.Use(middleware.BodyLimit("1K", "1K"))
	api := e.Group("/api/v1", auth.FacilityBasicAuth(auth.AuthenticatorFunc(
		func(_ context.Context, name, _ string) (auth.Principal, bool) {
			return auth.Principal{FacilityID: 1, Name: name}, true
		})))
	NewHandler(svc).RegisterRoutes(api)

	record := `{"key":{"facility_id":1,"item_id":12},"demographic_id":3,"comment":"` + strings.Repeat("x", 4096) + `"}`
	tests := []struct {
		name string
		path string
		body string
	}{
		{"ingest", "/api/v1/records/admission", record},
		{"replace", "/api/v1/records/admission/patients/3", "[" + record + "]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, tt.path, strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req.ContentLength = -1
			req.SetBasicAuth("north", "pw")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}
