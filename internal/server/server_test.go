package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"secuflow/internal/logstore"
	"secuflow/internal/metrics"
	"secuflow/internal/service"
	"secuflow/internal/templates"
	"secuflow/pkg/models"
)

type fakeTriage struct {
	analyzeErr  error
	templateErr error
	sampleErr   error
	gotWindow   int
	gotLimit    int
	gotEventID  string
}

func (f *fakeTriage) Analyze(_ context.Context, window int) (models.Report, error) {
	f.gotWindow = window
	if f.analyzeErr != nil {
		return models.Report{}, f.analyzeErr
	}
	if window < 1 {
		return models.Report{}, service.ErrInvalidLimit
	}
	return models.Report{
		Summary: models.Summary{
			TotalEventsAnalyzed: 2,
			TopEventIDs:         []models.EventCount{{EventID: "E1", Count: 2}},
			TopSources:          []models.SourceCount{{Source: "CBS", Count: 2}},
			Notes:               []string{"EventId E1 appears frequently (2 times in the last 2 events)."},
		},
		Incidents: []models.Incident{{
			ID:              1,
			Severity:        models.SeverityMedium,
			Reason:          "EventId E1 accounts for 2 of 2 events (~100%).",
			RelatedEventIDs: []string{"E1"},
		}},
		AIExplanation: "explained",
	}, nil
}

func (f *fakeTriage) Template(eventID string) (models.TemplateMatch, error) {
	f.gotEventID = eventID
	if f.templateErr != nil {
		return models.TemplateMatch{}, f.templateErr
	}
	return models.TemplateMatch{EventID: eventID, TemplatesFound: 1, Templates: []string{"Loaded <*>"}}, nil
}

func (f *fakeTriage) Sample(_ context.Context, limit int) ([]models.LogRecord, error) {
	f.gotLimit = limit
	if f.sampleErr != nil {
		return nil, f.sampleErr
	}
	if limit < 1 {
		return nil, service.ErrInvalidLimit
	}
	return []models.LogRecord{{"event_id": "E1"}}, nil
}

func (f *fakeTriage) DefaultWindow() int { return 200 }

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestServer(t *testing.T) {
	notFound := fmt.Errorf("%w: log file not found at logs/windows_logs.json", logstore.ErrNotFound)
	tplMissing := fmt.Errorf("%w: templates file not found at data/t.csv", templates.ErrNotFound)
	columns := &templates.ColumnsError{Path: "data/t.csv", Columns: []string{"Id", "Text"}}

	tests := []struct {
		name         string
		method       string
		path         string
		triage       *fakeTriage
		expectedCode int
		expectedKey  string
		expectedErr  string
	}{
		{
			name:         "Health check returns ok",
			method:       http.MethodGet,
			path:         "/health",
			expectedCode: http.StatusOK,
			expectedKey:  "status",
		},
		{
			name:         "Analyze returns a report",
			method:       http.MethodPost,
			path:         "/analyze",
			expectedCode: http.StatusOK,
			expectedKey:  "ai_explanation",
		},
		{
			name:         "Analyze with missing logs returns error payload",
			method:       http.MethodPost,
			path:         "/analyze",
			triage:       &fakeTriage{analyzeErr: notFound},
			expectedCode: http.StatusOK,
			expectedErr:  "log file not found at logs/windows_logs.json",
		},
		{
			name:         "Analyze with malformed logs is a server error",
			method:       http.MethodPost,
			path:         "/analyze",
			triage:       &fakeTriage{analyzeErr: errors.New("parse log file logs/windows_logs.json: bad")},
			expectedCode: http.StatusInternalServerError,
			expectedErr:  "parse log file",
		},
		{
			name:         "Analyze with zero limit is a validation error",
			method:       http.MethodPost,
			path:         "/analyze?limit=0",
			expectedCode: http.StatusOK,
			expectedErr:  "limit must be at least 1",
		},
		{
			name:         "Analyze with non-numeric limit",
			method:       http.MethodPost,
			path:         "/analyze?limit=abc",
			expectedCode: http.StatusOK,
			expectedErr:  `limit must be an integer, got "abc"`,
		},
		{
			name:         "Analyze rejects GET",
			method:       http.MethodGet,
			path:         "/analyze",
			expectedCode: http.StatusMethodNotAllowed,
		},
		{
			name:         "Template lookup",
			method:       http.MethodGet,
			path:         "/event/template/E36",
			expectedCode: http.StatusOK,
			expectedKey:  "templates_found",
		},
		{
			name:         "Template file missing",
			method:       http.MethodGet,
			path:         "/event/template/E36",
			triage:       &fakeTriage{templateErr: tplMissing},
			expectedCode: http.StatusOK,
			expectedErr:  "templates file not found",
		},
		{
			name:         "Template columns not detected",
			method:       http.MethodGet,
			path:         "/event/template/E36",
			triage:       &fakeTriage{templateErr: columns},
			expectedCode: http.StatusOK,
			expectedErr:  "Found columns: [Id, Text]",
		},
		{
			name:         "Sample missing logs",
			method:       http.MethodGet,
			path:         "/logs/sample",
			triage:       &fakeTriage{sampleErr: notFound},
			expectedCode: http.StatusOK,
			expectedErr:  "log file not found",
		},
		{
			name:         "Non-existent endpoint returns 404",
			method:       http.MethodGet,
			path:         "/nonexistent",
			expectedCode: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			triage := tc.triage
			if triage == nil {
				triage = &fakeTriage{}
			}
			srv := New(Config{}, triage, nil)

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			resp := w.Result()

			assert.Equal(t, tc.expectedCode, resp.StatusCode)
			if tc.expectedKey == "" && tc.expectedErr == "" {
				return
			}

			assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			body := decodeBody(t, resp)
			if tc.expectedKey != "" {
				assert.Contains(t, body, tc.expectedKey)
			}
			if tc.expectedErr != "" {
				assert.Contains(t, body["error"], tc.expectedErr)
			}
		})
	}
}

func TestSampleReturnsArray(t *testing.T) {
	triage := &fakeTriage{}
	srv := New(Config{}, triage, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logs/sample", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultSampleLimit, triage.gotLimit)
	assert.JSONEq(t, `[{"event_id":"E1"}]`, w.Body.String())

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logs/sample?limit=3", nil))
	assert.Equal(t, 3, triage.gotLimit)
}

func TestAnalyzePassesWindow(t *testing.T) {
	triage := &fakeTriage{}
	srv := New(Config{}, triage, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	assert.Equal(t, 200, triage.gotWindow)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyze?limit=50", nil))
	assert.Equal(t, 50, triage.gotWindow)

	var report models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "explained", report.AIExplanation)
	require.Len(t, report.Incidents, 1)
	assert.Equal(t, models.SeverityMedium, report.Incidents[0].Severity)
}

func TestTemplatePassesEventID(t *testing.T) {
	triage := &fakeTriage{}
	srv := New(Config{}, triage, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/event/template/E36", nil))
	assert.Equal(t, "E36", triage.gotEventID)
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := New(Config{}, &fakeTriage{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	srv := New(Config{
		TokenHashes: []string{"not-a-hash", string(hash)},
		MetricsPath: "/metrics",
	}, &fakeTriage{}, metrics.New())

	tests := []struct {
		name         string
		method       string
		path         string
		header       string
		expectedCode int
	}{
		{"Health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"Metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"Missing token", http.MethodPost, "/analyze", "", http.StatusUnauthorized},
		{"Wrong scheme", http.MethodPost, "/analyze", "Basic s3cret", http.StatusUnauthorized},
		{"Invalid token", http.MethodPost, "/analyze", "Bearer wrong", http.StatusUnauthorized},
		{"Valid token", http.MethodPost, "/analyze", "Bearer s3cret", http.StatusOK},
		{"Valid token on template", http.MethodGet, "/event/template/E1", "Bearer s3cret", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, tc.expectedCode, w.Code)
			if tc.expectedCode == http.StatusUnauthorized {
				assert.Equal(t, `Bearer realm="SecuFlow"`, w.Header().Get("WWW-Authenticate"))
				assert.Contains(t, w.Body.String(), "unauthorized")
			}
		})
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	srv := New(Config{MetricsPath: "/metrics"}, &fakeTriage{}, metrics.New())

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/event/template/E1", nil))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `secuflow_http_requests_total{code="200",route="/event/template/{event_id}"} 1`)
}

func TestMetricsDisabledWithoutCollectors(t *testing.T) {
	srv := New(Config{MetricsPath: "/metrics"}, &fakeTriage{}, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Config{ReadTimeout: time.Second, WriteTimeout: time.Second}, &fakeTriage{}, nil)
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, `{"status":"ok"}`, strings.TrimSpace(string(body)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}
