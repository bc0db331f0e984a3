package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caldant/attuned/internal/advisor"
	"github.com/caldant/attuned/internal/storage"
)

const testToken = "test-token-123"

func newTestServer(t *testing.T) (*httptest.Server, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { store.Close() })

	adv := advisor.New(store, nil, nil)
	h := NewAppHandler(AppDeps{
		Advisor: adv,
		Store:   store,
		Token:   testToken,
		Version: "test",
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, store
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, tc := range []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong", "not-the-token"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodGet, srv.URL+"/v1/stats/u1", tc.token, "")
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestSuggestEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"user_id":"u1","signals":{"recovery":25}}`
	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/suggest", testToken, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var s advisor.Suggestion
	decodeBody(t, resp, &s)
	if s.Intent == "" || s.Confidence < 0.3 {
		t.Errorf("suggestion = %+v", s)
	}
	if s.Source != advisor.SourceDefault {
		t.Errorf("source = %q, want %q for a fresh user", s.Source, advisor.SourceDefault)
	}
}

func TestSuggestMissingUser(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/suggest", testToken, `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q", body.Error.Type)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	body := `{"user_id":"u1","suggested_intent":"focus","selected_intent":"relax",` +
		`"features":{"time_bucket":"morning","recovery_bucket":"low_recovery"}}`
	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/feedback", testToken, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res advisor.FeedbackResult
	decodeBody(t, resp, &res)
	if !res.WasOverride || !res.LearningQueued || res.JobID == "" {
		t.Errorf("result = %+v", res)
	}

	// The feedback row and a pending job should both exist, and the
	// stored snapshot is the one the client echoed back.
	rec, err := store.GetFeedback(res.FeedbackID)
	if err != nil {
		t.Fatalf("GetFeedback: %v", err)
	}
	if rec.SelectedIntent != "relax" || !rec.WasOverride {
		t.Errorf("record = %+v", rec)
	}
	if !strings.Contains(rec.ContextJSON, `"time_bucket":"morning"`) {
		t.Errorf("echoed snapshot not stored: %s", rec.ContextJSON)
	}
	job, err := store.GetJob(res.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "pending" {
		t.Errorf("job status = %q", job.Status)
	}
}

func TestFeedbackUnknownIntent(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"user_id":"u1","selected_intent":"party"}`
	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/feedback", testToken, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown intent", resp.StatusCode)
	}
}

func TestFeedbackMissingSelected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/feedback", testToken, `{"user_id":"u1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	rec := storage.FeedbackRecord{
		ID: "fb-1", UserID: "u1",
		SelectedIntent: "focus",
		ContextJSON:    "{}",
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.InsertFeedback(rec); err != nil {
		t.Fatalf("InsertFeedback: %v", err)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/stats/u1", testToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st advisor.Stats
	decodeBody(t, resp, &st)
	if st.FeedbackCount != 1 || st.RecentSelections["focus"] != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPatternsEndpointFilters(t *testing.T) {
	srv, store := newTestServer(t)

	now := time.Now().UTC()
	for _, p := range []storage.PatternRow{
		{UserID: "u1", Name: "strong", Label: "strong", Intent: "focus", ConditionsJSON: "[]", Confidence: 0.9, Active: true, UpdatedAt: now},
		{UserID: "u1", Name: "weak", Label: "weak", Intent: "relax", ConditionsJSON: "[]", Confidence: 0.65, Active: true, UpdatedAt: now},
		{UserID: "u1", Name: "off", Label: "off", Intent: "sleep", ConditionsJSON: "[]", Confidence: 0.95, Active: false, UpdatedAt: now},
	} {
		if err := store.UpsertPattern(p); err != nil {
			t.Fatalf("UpsertPattern(%s): %v", p.Name, err)
		}
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/patterns/u1?min_confidence=0.8", testToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	}
	decodeBody(t, resp, &out)
	if len(out) != 1 || out[0].Name != "strong" {
		t.Errorf("patterns = %+v", out)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/jobs/nope", testToken, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
