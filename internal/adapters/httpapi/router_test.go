package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"cyclekeeper/internal/adapters/httpapi"
	"cyclekeeper/internal/blob"
	"cyclekeeper/internal/core"
	"cyclekeeper/internal/export"
	"cyclekeeper/internal/platform/auth"
	"cyclekeeper/pkg/domain"
)

type cycleBody struct {
	domain.CycleAggregate
	Progress domain.Progress `json:"progress"`
	Warning  string          `json:"warning"`
}

type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []domain.FieldError `json:"fields"`
}

type RouterSuite struct {
	suite.Suite
	router   http.Handler
	tokens   *auth.TokenService
	registry *prometheus.Registry
	alice    string
	bob      string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	svc := core.NewInMemoryService(nil)
	exports := export.NewService(svc, blob.NewMemory())
	s.tokens = auth.NewTokenService("test-secret", "cyclekeeper", "cyclekeeper-api", time.Hour)
	s.registry = prometheus.NewRegistry()
	s.router = httpapi.NewRouter(httpapi.RouterConfig{
		Cycles:     svc,
		Exports:    exports,
		Auth:       s.tokens,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: s.registry,
		Gatherer:   s.registry,
	})
	var err error
	s.alice, _, err = s.tokens.Mint("alice")
	s.Require().NoError(err)
	s.bob, _, err = s.tokens.Mint("bob")
	s.Require().NoError(err)
}

func (s *RouterSuite) do(token, method, target string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (s *RouterSuite) createCycle(token string) cycleBody {
	rec := s.do(token, http.MethodPost, "/api/v1/cycles", map[string]any{
		"cycle_number": 1,
		"start_date":   "2026-02-01",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var out cycleBody
	s.decode(rec, &out)
	return out
}

func (s *RouterSuite) TestHealthAndMetricsAreOpen() {
	rec := s.do("", http.MethodGet, "/healthz", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())

	rec = s.do("", http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "cyclekeeper_http_requests_total")
}

func (s *RouterSuite) TestAPIRequiresToken() {
	rec := s.do("", http.MethodGet, "/api/v1/cycles", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	var body errorBody
	s.decode(rec, &body)
	s.Equal("unauthorized", body.Error)
}

func (s *RouterSuite) TestCreateAndListCycles() {
	created := s.createCycle(s.alice)
	s.Equal("Cycle 1", created.Title)
	s.Equal(domain.CycleStandard, created.Type)
	s.Equal(domain.StageInjectionsPending, created.Progress.Stage)
	s.Empty(created.Warning)

	rec := s.do(s.alice, http.MethodGet, "/api/v1/cycles", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list struct {
		Cycles []cycleBody `json:"cycles"`
	}
	s.decode(rec, &list)
	s.Require().Len(list.Cycles, 1)
	s.Equal(created.ID, list.Cycles[0].ID)

	rec = s.do(s.bob, http.MethodGet, "/api/v1/cycles", nil)
	s.decode(rec, &list)
	s.Empty(list.Cycles)

	count, err := testutil.GatherAndCount(s.registry, "cyclekeeper_http_requests_total")
	s.Require().NoError(err)
	s.Positive(count)
}

func (s *RouterSuite) TestCreateCycleValidation() {
	rec := s.do(s.alice, http.MethodPost, "/api/v1/cycles", map[string]any{"start_date": "2026-02-01"})
	s.Equal(http.StatusBadRequest, rec.Code)
	var body errorBody
	s.decode(rec, &body)
	s.Equal("invalid_input", body.Error)
	s.Require().NotEmpty(body.Fields)
	s.Equal("cycle_number", body.Fields[0].Field)

	rec = s.do(s.alice, http.MethodPost, "/api/v1/cycles", `{"cycle_number": 1, "start_date": "2026-02-30"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(s.alice, http.MethodPost, "/api/v1/cycles", `{"cycle_number": 1,`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(s.alice, http.MethodPost, "/api/v1/cycles", `{"cycle_number": 1, "start_date": "2026-02-01", "color": "red"}`)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestOversizedCountIsInvalidInput() {
	id := s.createCycle(s.alice).ID
	rec := s.do(s.alice, http.MethodPut, "/api/v1/cycles/"+id+"/retrieval",
		`{"retrieval_date": "2026-02-10", "total_eggs": 2147483648}`)
	s.Require().Equal(http.StatusBadRequest, rec.Code, rec.Body.String())
	var body errorBody
	s.decode(rec, &body)
	s.Equal("invalid_input", body.Error)
	s.Require().Len(body.Fields, 1)
	s.Equal("total_eggs", body.Fields[0].Field)
}

func (s *RouterSuite) TestForeignCycleIsNotFound() {
	created := s.createCycle(s.alice)
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rec := s.do(s.bob, method, "/api/v1/cycles/"+created.ID, nil)
		s.Equal(http.StatusNotFound, rec.Code, method)
	}
	rec := s.do(s.bob, http.MethodPut, "/api/v1/cycles/"+created.ID+"/retrieval",
		map[string]any{"retrieval_date": "2026-02-10", "total_eggs": 3})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestStageFlowWithWarningsAndCascade() {
	id := s.createCycle(s.alice).ID
	base := "/api/v1/cycles/" + id

	rec := s.do(s.alice, http.MethodPut, base+"/fertilization",
		map[string]any{"fertilization_date": "2026-02-10", "total_fertilized": 3})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	var eb errorBody
	s.decode(rec, &eb)
	s.Equal("missing_prerequisite", eb.Error)

	rec = s.do(s.alice, http.MethodPut, base+"/retrieval", map[string]any{"retrieval_date": "2026-02-10", "total_eggs": 5})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(s.alice, http.MethodPut, base+"/retrieval", map[string]any{"retrieval_date": "2026-02-10"})
	s.Equal(http.StatusBadRequest, rec.Code, "omitted count is rejected")

	rec = s.do(s.alice, http.MethodPut, base+"/fertilization",
		map[string]any{"fertilization_date": "2026-02-10", "total_fertilized": 6})
	s.Require().Equal(http.StatusOK, rec.Code)
	var agg cycleBody
	s.decode(rec, &agg)
	s.Equal(core.MsgFertilizedExceedsRetrieved, agg.Warning)
	s.Equal([]string{core.MsgFertilizedExceedsRetrieved}, agg.Warnings)

	rec = s.do(s.alice, http.MethodPut, base+"/pgt",
		map[string]any{"tested": 2, "euploid": 1, "abnormal": 1, "result_date": "2026-02-20"})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(s.alice, http.MethodPut, base+"/culture",
		map[string]any{"day": 4, "total_embryos": 3, "next_plans": []string{"pgt", "transfer"}})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(s.alice, http.MethodPut, base+"/pgt",
		map[string]any{"tested": 2, "euploid": 1, "abnormal": 1, "result_date": "2026-02-20"})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
	s.decode(rec, &eb)
	s.Equal("stage_not_reached", eb.Error)

	rec = s.do(s.alice, http.MethodPut, base+"/culture",
		map[string]any{"day": 5, "total_embryos": 3, "next_plans": []string{"pgt", "transfer"}})
	s.Require().Equal(http.StatusOK, rec.Code)
	rec = s.do(s.alice, http.MethodPut, base+"/pgt",
		map[string]any{"tested": 2, "euploid": 1, "abnormal": 1, "result_date": "2026-02-20"})
	s.Require().Equal(http.StatusOK, rec.Code)
	rec = s.do(s.alice, http.MethodPut, base+"/transfer",
		map[string]any{"transfer_date": "2026-02-21", "transfer_count": 4})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &agg)
	s.Equal(core.MsgTransferExceedsCap, agg.Warning)

	rec = s.do(s.alice, http.MethodPut, base+"/culture",
		map[string]any{"day": 5, "total_embryos": 3, "next_plans": []string{"transfer"}})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &agg)
	s.Nil(agg.PGT)
	s.NotNil(agg.Transfer)

	rec = s.do(s.alice, http.MethodPut, base+"/culture",
		map[string]any{"day": 5, "total_embryos": 3, "next_plans": []string{"bank"}})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestInjectionEndpoints() {
	id := s.createCycle(s.alice).ID
	base := "/api/v1/cycles/" + id + "/injections"

	rec := s.do(s.alice, http.MethodPost, base, map[string]any{
		"medication_name": "Menopur", "dosage": "75IU", "date": "2026-02-02", "time": "20:30",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var inj domain.Injection
	s.decode(rec, &inj)
	s.Equal(id, inj.CycleID)

	rec = s.do(s.alice, http.MethodPatch, base+"/"+inj.ID, map[string]any{"dosage": "150IU"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var raw map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &raw))
	s.NotContains(raw, "time")
	var patched domain.Injection
	s.decode(rec, &patched)
	s.Equal("150IU", patched.Dosage)
	s.Equal("Menopur", patched.MedicationName)
	s.Empty(patched.Time)

	rec = s.do(s.alice, http.MethodDelete, base+"/"+inj.ID, nil)
	s.Equal(http.StatusNoContent, rec.Code)
	rec = s.do(s.alice, http.MethodDelete, base+"/"+inj.ID, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestPatchAndDeleteCycle() {
	id := s.createCycle(s.alice).ID
	rec := s.do(s.alice, http.MethodPatch, "/api/v1/cycles/"+id, map[string]any{"title": "Spring", "cycle_type": "transfer_only"})
	s.Require().Equal(http.StatusOK, rec.Code)
	var agg cycleBody
	s.decode(rec, &agg)
	s.Equal("Spring", agg.Title)
	s.Equal(domain.CycleTransferOnly, agg.Type)

	rec = s.do(s.alice, http.MethodPatch, "/api/v1/cycles/"+id, map[string]any{})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(s.alice, http.MethodDelete, "/api/v1/cycles/"+id, nil)
	s.Equal(http.StatusNoContent, rec.Code)
	rec = s.do(s.alice, http.MethodGet, "/api/v1/cycles/"+id, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestExportEndpoints() {
	s.createCycle(s.alice)

	rec := s.do(s.alice, http.MethodPost, "/api/v1/exports", map[string]any{"formats": []string{"json"}})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Artifacts []export.Artifact `json:"artifacts"`
	}
	s.decode(rec, &created)
	s.Require().Len(created.Artifacts, 1)
	key := created.Artifacts[0].Key

	rec = s.do(s.alice, http.MethodGet, "/api/v1/exports", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var listed struct {
		Artifacts []export.Artifact `json:"artifacts"`
	}
	s.decode(rec, &listed)
	s.Require().Len(listed.Artifacts, 1)

	rec = s.do(s.alice, http.MethodGet, "/api/v1/exports/download?key="+key, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("application/json", rec.Header().Get("Content-Type"))
	s.Contains(rec.Header().Get("Content-Disposition"), "attachment")
	var doc export.Document
	s.decode(rec, &doc)
	s.Equal("alice", doc.OwnerID)
	s.Len(doc.Cycles, 1)

	rec = s.do(s.bob, http.MethodGet, "/api/v1/exports/download?key="+key, nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(s.alice, http.MethodGet, "/api/v1/exports/link?key="+key, nil)
	s.Equal(http.StatusNotImplemented, rec.Code)

	rec = s.do(s.alice, http.MethodPost, "/api/v1/exports", map[string]any{"formats": []string{"pdf"}})
	s.Equal(http.StatusBadRequest, rec.Code)
}
