package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safelink/safelink/internal/adapters/capture"
	"github.com/safelink/safelink/internal/adapters/storage"
	"github.com/safelink/safelink/internal/adapters/web"
	"github.com/safelink/safelink/internal/adapters/web/handlers"
	"github.com/safelink/safelink/internal/adapters/web/websocket"
	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/services/classifier"
	"github.com/safelink/safelink/internal/core/services/detect"
	"github.com/safelink/safelink/internal/core/services/dispatch"
	"github.com/safelink/safelink/internal/core/services/feature"
	"github.com/safelink/safelink/internal/core/services/learner"
	"github.com/safelink/safelink/internal/core/services/pipeline"
	"github.com/safelink/safelink/internal/core/services/sniffer"
)

// idleSource keeps a capture loop alive without emitting frames.
type idleSource struct{}

func (idleSource) Run(ctx context.Context, emit func(domain.Frame)) error {
	<-ctx.Done()
	return nil
}

func (idleSource) Close() {}

type testEnv struct {
	alerts *storage.AlertRepo
	router http.Handler
}

// setupRouter wires the full stack the way the application does, with a
// synthetic capture source and everything else real on a temp directory.
func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "safelink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close(db) })

	hub := websocket.NewHub(64, 256)
	t.Cleanup(hub.Shutdown)
	alerts := storage.NewAlertRepo(db, hub)
	archive := storage.NewArchiveRepo(db)
	threats := storage.NewThreatRepo(db)

	schemas, err := feature.NewRegistry(filepath.Join(dir, "schemas"))
	require.NoError(t, err)
	schema, err := schemas.Register(feature.DefaultVersion, "arp_default",
		feature.DefaultFeatures, feature.DefaultFeatureTypes(), "")
	require.NoError(t, err)
	extractor := feature.NewExtractor(schema)
	model := classifier.New(schema.Features, []int{8}, 0, filepath.Join(dir, "model.json"))

	dfa := detect.NewDFAFilter(5, 5*time.Second)
	analyzer := detect.NewAnalyzer(1000, 5*time.Minute)
	vendor := detect.NewVendorChecker(64)
	pipe := pipeline.New(dfa, analyzer, vendor, extractor, model, alerts, threats)

	newDisp := func() *dispatch.Dispatcher {
		return dispatch.New(2, 64, dispatch.RoundRobin, time.Second, pipe.Handle)
	}
	captureReg := capture.NewRegistry()
	engine := capture.NewEngine(func(string) (capture.FrameSource, error) {
		return idleSource{}, nil
	}, captureReg, 64)
	supervisor := sniffer.NewSupervisor(engine, newDisp, analyzer, archive, threats,
		sniffer.Config{Interfaces: []string{"test0"}})
	t.Cleanup(func() { supervisor.Stop() })

	learn, err := learner.New(alerts, model, extractor, learner.Options{
		BackupDir: filepath.Join(dir, "backups"),
		StateFile: filepath.Join(dir, "learner.json"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	iface := handlers.NewInterfaceHandler(captureReg)
	iface.Discover = func() ([]capture.InterfaceInfo, error) {
		return []capture.InterfaceInfo{{Name: "test0"}}, nil
	}

	router := web.SetupRoutes(web.Handlers{
		Sniffer:   handlers.NewSnifferHandler(ctx, supervisor),
		Alerts:    handlers.NewAlertHandler(alerts, archive),
		Learning:  handlers.NewLearningHandler(ctx, learn),
		Threats:   handlers.NewThreatHandler(threats),
		Interface: iface,
		LiveFeed:  handlers.NewLiveFeedHandler(alerts),
		WS:        websocket.NewHandler(hub),
	})
	return &testEnv{alerts: alerts, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) raise(t *testing.T, module domain.Module, ip, mac string) {
	t.Helper()
	err := e.alerts.Raise(context.Background(), module, "test alert", ip, mac, nil)
	require.NoError(t, err)
}

func TestSnifferLifecycleOverAPI(t *testing.T) {
	env := setupRouter(t)

	rr := env.do(t, http.MethodPost, "/sniffer/start", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/sniffer/start", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/sniffer/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status struct {
		Sniffer domain.SnifferStatus `json:"sniffer"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.True(t, status.Sniffer.Running)
	assert.Equal(t, []string{"test0"}, status.Sniffer.Interfaces)

	rr = env.do(t, http.MethodPost, "/sniffer/stop", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodPost, "/sniffer/stop", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAlertEndpoints(t *testing.T) {
	env := setupRouter(t)
	env.raise(t, domain.ModuleDFA, "10.0.0.1", "AA:AA:AA:AA:AA:01")
	env.raise(t, domain.ModuleDFA, "10.0.0.1", "AA:AA:AA:AA:AA:01")
	env.raise(t, domain.ModuleANN, "10.0.0.2", "AA:AA:AA:AA:AA:02")

	rr := env.do(t, http.MethodGet, "/alerts/latest?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var latest struct {
		Alerts []domain.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &latest))
	assert.Equal(t, 2, latest.Count)
	assert.Equal(t, domain.ModuleANN, latest.Alerts[0].Module)

	rr = env.do(t, http.MethodGet, "/alerts/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats domain.AlertStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.ActiveAlerts)
	assert.Equal(t, 2, stats.ByModule["DFA"])

	rr = env.do(t, http.MethodGet, "/alerts/attackers", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var attackers struct {
		Attackers []domain.AttackerSummary `json:"attackers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &attackers))
	require.NotEmpty(t, attackers.Attackers)
	assert.Equal(t, "10.0.0.1", attackers.Attackers[0].SrcIP)
	assert.Equal(t, 2, attackers.Attackers[0].AlertCount)

	rr = env.do(t, http.MethodPost, "/alerts/archive", map[string]any{"ids": []uint{latest.Alerts[0].ID}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"archived": 1}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/alerts/archived", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var archived struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &archived))
	assert.Equal(t, 1, archived.Count)
}

func TestAlertDownloadArchivesAfterExport(t *testing.T) {
	env := setupRouter(t)
	env.raise(t, domain.ModuleDFA, "10.0.0.1", "AA:AA:AA:AA:AA:01")
	env.raise(t, domain.ModuleANN, "10.0.0.2", "AA:AA:AA:AA:AA:02")

	rr := env.do(t, http.MethodGet, "/alerts/download?archive_after_download=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "id,timestamp,module,reason,src_ip,src_mac")
	assert.Contains(t, rr.Body.String(), "10.0.0.1")

	// The exported rows moved to the archive.
	rr = env.do(t, http.MethodGet, "/alerts/latest", nil)
	var latest struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &latest))
	assert.Equal(t, 0, latest.Count)
}

func TestThreatIndicatorCRUD(t *testing.T) {
	env := setupRouter(t)

	rr := env.do(t, http.MethodPost, "/threat_intel/indicators", map[string]any{
		"indicator_type": "ip", "indicator_value": "203.0.113.7",
		"severity": "high", "confidence": 0.9, "ttl_hours": 24,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created domain.ThreatIndicator
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotZero(t, created.ID)

	// Bulk import counts failures without aborting the batch.
	rr = env.do(t, http.MethodPost, "/threat_intel/indicators", map[string]any{
		"indicators": []map[string]any{
			{"indicator_type": "mac", "indicator_value": "DE:AD:BE:EF:00:01", "severity": "medium"},
			{"indicator_type": "ip", "indicator_value": "198.51.100.9"},
			{"indicator_type": "bogus", "indicator_value": "x"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"imported": 2, "failed": 1}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/threat_intel/indicators?type=ip", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	path := fmt.Sprintf("/threat_intel/indicators/%d", created.ID)
	created.Description = "escalated"
	rr = env.do(t, http.MethodPut, path, created)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got domain.ThreatIndicator
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "escalated", got.Description)

	rr = env.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/threat_intel/stats", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodPost, "/threat_intel/cleanup", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLearningEndpoints(t *testing.T) {
	env := setupRouter(t)

	rr := env.do(t, http.MethodGet, "/learning/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status domain.LearnerStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.False(t, status.Enabled)
	assert.False(t, status.IsTraining)

	// A forced cycle with nothing to learn from reports a skip.
	rr = env.do(t, http.MethodPost, "/learning/train-now", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec domain.CycleRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, domain.OutcomeSkipped, rec.Outcome)

	rr = env.do(t, http.MethodPost, "/learning/start", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodGet, "/learning/status", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.True(t, status.Enabled)
	rr = env.do(t, http.MethodPost, "/learning/stop", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLiveFeedAndInterfaces(t *testing.T) {
	env := setupRouter(t)
	env.raise(t, domain.ModuleVendorAnomaly, "10.0.0.3", "AA:AA:AA:AA:AA:03")

	rr := env.do(t, http.MethodGet, "/live-feed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var feed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &feed))
	assert.Equal(t, 1, feed.Count)

	rr = env.do(t, http.MethodGet, "/interfaces", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ifaces struct {
		Interfaces []capture.InterfaceInfo `json:"interfaces"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ifaces))
	require.Len(t, ifaces.Interfaces, 1)
	assert.Equal(t, "test0", ifaces.Interfaces[0].Name)

	rr = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
