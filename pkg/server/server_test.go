package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/inference"
	"mercator-hq/callisto/pkg/model"
	"mercator-hq/callisto/pkg/telemetry/audit"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

type fixture struct {
	ts        *httptest.Server
	collector *metrics.Collector
	backend   *model.DemoBackend
}

type fixtureOptions struct {
	apiKey    string
	loadModel bool
	auditOn   bool
	limits    inference.Limits
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Model.Name = "demo-model"
	cfg.Model.Version = "2"
	cfg.Auth.APIKey = opts.apiKey

	backend := model.NewDemoBackend("demo")
	if opts.loadModel {
		if err := backend.Load(); err != nil {
			t.Fatalf("model load failed: %v", err)
		}
	}

	trail := audit.NewTrail(opts.auditOn, nil)
	t.Cleanup(func() { trail.Close() })

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(cfg.Model.Name, cfg.Model.Version, registry)

	limits := opts.limits
	if limits.MaxBatchSize == 0 {
		limits = inference.DefaultLimits()
	}

	gate := inference.NewGate(cfg.Auth.APIKey)
	pipeline := inference.NewPipeline(inference.PipelineOptions{
		Backend:      backend,
		Validator:    inference.NewValidator(limits),
		Collector:    collector,
		Trail:        trail,
		ModelName:    cfg.Model.Name,
		ModelVersion: cfg.Model.Version,
	})

	srv := New(Options{
		Config:   cfg,
		Gate:     gate,
		Pipeline: pipeline,
		Backend:  backend,
		Trail:    trail,
		Registry: registry,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{ts: ts, collector: collector, backend: backend}
}

func (f *fixture) predict(t *testing.T, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/predict", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("response body is not JSON: %v", err)
	}
	return resp, payload
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	resp, body := get(t, f.ts.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"healthy"`) {
		t.Errorf("body = %s, want healthy status", body)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("X-Request-ID must be set on every response")
	}
}

func TestReady(t *testing.T) {
	t.Run("loaded", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{loadModel: true})
		resp, body := get(t, f.ts.URL+"/ready")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatal(err)
		}
		if payload["status"] != "ready" || payload["model"] != "demo-model" || payload["version"] != "2" {
			t.Errorf("payload = %v", payload)
		}
	})

	t.Run("not loaded", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{loadModel: false})
		resp, body := get(t, f.ts.URL+"/ready")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", resp.StatusCode)
		}
		if !strings.Contains(string(body), string(inference.CodeModelNotLoaded)) {
			t.Errorf("body = %s, want %s", body, inference.CodeModelNotLoaded)
		}
	})
}

func TestPredict_SingleInstance(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true, auditOn: true})

	resp, payload := f.predict(t, `{"instances":[[1.0,2.0,3.0,4.0,5.0]]}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, payload)
	}

	preds, ok := payload["predictions"].([]any)
	if !ok || len(preds) != 1 {
		t.Fatalf("predictions = %v, want one element", payload["predictions"])
	}

	first := preds[0].(map[string]any)
	conf := first["confidence"].(float64)
	if conf < 0 || conf > 1 {
		t.Errorf("confidence = %v, want [0,1]", conf)
	}

	var sum float64
	for _, p := range first["probabilities"].([]any) {
		sum += p.(float64)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("probabilities sum = %v, want ~1", sum)
	}

	if payload["model_name"] != "demo-model" || payload["model_version"] != "2" {
		t.Errorf("model identity = %v/%v", payload["model_name"], payload["model_version"])
	}

	// The payload request id matches the response header.
	if payload["request_id"] != resp.Header.Get(RequestIDHeader) {
		t.Errorf("payload request_id %v != header %v",
			payload["request_id"], resp.Header.Get(RequestIDHeader))
	}
}

func TestPredict_BatchLengthMatches(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	resp, payload := f.predict(t,
		`{"instances":[[1,2,3],[4,5,6],[7,8,9],[0.1,0.2,0.3]]}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if preds := payload["predictions"].([]any); len(preds) != 4 {
		t.Errorf("predictions length = %d, want 4", len(preds))
	}
}

func TestPredict_EmptyBatch(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	before := f.collector.Snapshot().ValidationErrors

	resp, payload := f.predict(t, `{"instances":[]}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if payload["error_code"] != string(inference.CodeValidation) {
		t.Errorf("error_code = %v, want VALIDATION_ERROR", payload["error_code"])
	}
	if payload["request_id"] == "" {
		t.Error("error payload must carry the request id")
	}

	after := f.collector.Snapshot().ValidationErrors
	if after != before+1 {
		t.Errorf("validation errors went %d -> %d, want exactly one increment", before, after)
	}
}

func TestPredict_OversizedBatch(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	var sb strings.Builder
	sb.WriteString(`{"instances":[`)
	for i := 0; i < 101; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`[1,2,3]`)
	}
	sb.WriteString(`]}`)

	resp, payload := f.predict(t, sb.String(), nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	details := payload["details"].(map[string]any)
	if details["max_batch_size"] != float64(100) {
		t.Errorf("details.max_batch_size = %v, want 100", details["max_batch_size"])
	}
	if details["actual"] != float64(101) {
		t.Errorf("details.actual = %v, want 101", details["actual"])
	}
}

func TestPredict_NonVectorInstance(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	resp, payload := f.predict(t, `{"instances":[[1,2],"oops"]}`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	details := payload["details"].(map[string]any)
	if details["reason"] != "not_a_vector" || details["index"] != float64(1) {
		t.Errorf("details = %v, want not_a_vector at index 1", details)
	}
}

func TestPredict_MalformedBody(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	resp, payload := f.predict(t, `{"instances": not json`, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if payload["error_code"] != string(inference.CodeValidation) {
		t.Errorf("error_code = %v, want VALIDATION_ERROR", payload["error_code"])
	}
}

func TestPredict_ModelNotLoaded(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: false})

	resp, payload := f.predict(t, `{"instances":[[1,2,3]]}`, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if payload["error_code"] != string(inference.CodeModelNotLoaded) {
		t.Errorf("error_code = %v, want MODEL_NOT_LOADED", payload["error_code"])
	}
}

func TestAuth(t *testing.T) {
	t.Run("open mode never rejects", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{loadModel: true})
		resp, _ := f.predict(t, `{"instances":[[1]]}`, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200 in open mode", resp.StatusCode)
		}
		if f.collector.Snapshot().AuthErrors != 0 {
			t.Error("open mode must never count auth errors")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{loadModel: true, apiKey: "s3cret"})
		resp, payload := f.predict(t, `{"instances":[[1]]}`, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
		if payload["error_code"] != string(inference.CodeAuthentication) {
			t.Errorf("error_code = %v", payload["error_code"])
		}
		if f.collector.Snapshot().AuthErrors != 1 {
			t.Error("auth error must be counted")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{loadModel: true, apiKey: "s3cret"})
		resp, _ := f.predict(t, `{"instances":[[1]]}`, map[string]string{inference.APIKeyHeader: "nope"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("correct key", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{loadModel: true, apiKey: "s3cret"})
		resp, _ := f.predict(t, `{"instances":[[1]]}`, map[string]string{inference.APIKeyHeader: "s3cret"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})
}

func TestModelInfo(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	resp, body := get(t, f.ts.URL+"/model/info")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var info model.Info
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatal(err)
	}
	if info.Name != "demo-model" || info.Version != "2" {
		t.Errorf("info identity = %s/%s", info.Name, info.Version)
	}
	if !info.Loaded {
		t.Error("info.loaded must be true")
	}
	if info.Device != "cpu" {
		t.Errorf("device = %q, want cpu", info.Device)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	// Drive some traffic first.
	f.predict(t, `{"instances":[[1,2,3]]}`, nil)
	f.predict(t, `{"instances":[]}`, nil)

	resp, body := get(t, f.ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q, want text/plain exposition", ct)
	}

	text := string(body)
	for _, family := range []string{
		"inference_requests_total",
		"inference_predictions_total",
		"inference_instances_total",
		"inference_errors_total",
		"inference_validation_errors_total",
		"inference_auth_errors_total",
		"inference_latency_seconds",
		"inference_latency_bucket",
	} {
		if !strings.Contains(text, family) {
			t.Errorf("exposition missing %s", family)
		}
	}

	for _, label := range []string{`model="demo-model"`, `version="2"`} {
		if !strings.Contains(text, label) {
			t.Errorf("exposition missing label %s", label)
		}
	}

	for _, le := range []string{`le="10"`, `le="50"`, `le="100"`, `le="500"`, `le="1000"`, `le="+Inf"`} {
		if !strings.Contains(text, le) {
			t.Errorf("exposition missing histogram bound %s", le)
		}
	}

	if !strings.Contains(text, `inference_requests_total{model="demo-model",version="2"} 2`) {
		t.Errorf("requests_total not 2 after two requests:\n%s", text)
	}
}

func TestMetrics_ScrapeIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})
	f.predict(t, `{"instances":[[1,2,3]]}`, nil)

	_, first := get(t, f.ts.URL+"/metrics")
	_, second := get(t, f.ts.URL+"/metrics")

	if !bytes.Equal(first, second) {
		t.Error("two scrapes with no intervening requests must be byte-identical")
	}
}

func TestHistogramInvariantOverTraffic(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	const n = 20
	for i := 0; i < n; i++ {
		body := fmt.Sprintf(`{"instances":[[%d,2,3]]}`, i)
		if i%4 == 0 {
			body = `{"instances":[]}`
		}
		f.predict(t, body, nil)
	}

	s := f.collector.Snapshot()
	if s.Requests != n {
		t.Fatalf("requests = %d, want %d", s.Requests, n)
	}
	var sum uint64
	for _, b := range s.Buckets {
		sum += b
	}
	if sum != s.Requests {
		t.Errorf("bucket sum = %d, want %d", sum, s.Requests)
	}
}

func TestRequestIDUniqueAcrossRequests(t *testing.T) {
	f := newFixture(t, fixtureOptions{loadModel: true})

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		resp, _ := get(t, f.ts.URL+"/health")
		id := resp.Header.Get(RequestIDHeader)
		if id == "" || seen[id] {
			t.Fatalf("request id %q missing or repeated", id)
		}
		seen[id] = true
	}
}
