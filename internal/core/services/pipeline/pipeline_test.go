package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/services/classifier"
	"github.com/safelink/safelink/internal/core/services/detect"
	"github.com/safelink/safelink/internal/core/services/feature"
)

type raisedAlert struct {
	Module  domain.Module
	Reason  string
	SrcIP   string
	SrcMAC  string
	Details map[string]any
}

type fakeAlerter struct {
	mu     sync.Mutex
	raised []raisedAlert
}

func (f *fakeAlerter) Raise(_ context.Context, module domain.Module, reason, srcIP, srcMAC string, details map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, raisedAlert{module, reason, srcIP, srcMAC, details})
	return nil
}

func (f *fakeAlerter) all() []raisedAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]raisedAlert(nil), f.raised...)
}

func testSchema(t *testing.T) feature.Schema {
	t.Helper()
	r, err := feature.NewRegistry(t.TempDir())
	require.NoError(t, err)
	s, err := r.Register(feature.DefaultVersion, "arp_default",
		feature.DefaultFeatures, feature.DefaultFeatureTypes(), "")
	require.NoError(t, err)
	return s
}

func testPipeline(t *testing.T, model *classifier.Classifier) (*Pipeline, *fakeAlerter) {
	t.Helper()
	sink := &fakeAlerter{}
	p := New(
		detect.NewDFAFilter(5, 5*time.Second),
		detect.NewAnalyzer(1000, 5*time.Minute),
		detect.NewVendorChecker(128),
		feature.NewExtractor(testSchema(t)),
		model,
		sink,
		nil,
	)
	return p, sink
}

func request(srcMAC, senderIP, targetIP string, at time.Time) domain.Frame {
	return domain.Frame{
		SrcMAC:    srcMAC,
		DstMAC:    domain.BroadcastMAC,
		SenderIP:  senderIP,
		TargetIP:  targetIP,
		Opcode:    domain.OpRequest,
		Interface: "eth0",
		Captured:  at,
		Ingress:   at,
	}
}

func TestPipelineDFAConflictStopsChain(t *testing.T) {
	p, sink := testPipeline(t, nil)
	ctx := context.Background()
	now := time.Now()

	first := request("00:50:56:00:00:01", "192.168.1.1", "192.168.1.50", now)
	p.Handle(ctx, 0, first)

	second := request("00:0C:29:00:00:02", "192.168.1.1", "192.168.1.50", now.Add(time.Second))
	p.Handle(ctx, 0, second)

	raised := sink.all()
	require.Len(t, raised, 1)
	a := raised[0]
	assert.Equal(t, domain.ModuleDFA, a.Module)
	assert.Equal(t, "IP-MAC conflict: 192.168.1.1 previous 00:50:56:00:00:01 now 00:0C:29:00:00:02", a.Reason)
	assert.Equal(t, "192.168.1.1", a.SrcIP)
	assert.Equal(t, "00:0C:29:00:00:02", a.SrcMAC)
	// DFA details are merged with the per-frame enrichment.
	assert.Equal(t, "192.168.1.1", a.Details["ip"])
	assert.Contains(t, a.Details, "opcode")
	assert.Contains(t, a.Details, "arp_anomaly_severity")
}

func TestPipelineUnsolicitedReplyRaisesAnomaly(t *testing.T) {
	p, sink := testPipeline(t, nil)
	now := time.Now()

	reply := domain.Frame{
		SrcMAC:    "00:0C:29:00:00:07",
		DstMAC:    "00:50:56:00:00:09",
		SenderIP:  "192.168.1.1",
		TargetIP:  "192.168.1.99",
		Opcode:    domain.OpReply,
		Interface: "eth0",
		Captured:  now,
		Ingress:   now,
	}
	p.Handle(context.Background(), 0, reply)

	raised := sink.all()
	require.Len(t, raised, 1)
	a := raised[0]
	assert.Equal(t, domain.ModuleARPAnomaly, a.Module)
	assert.Contains(t, a.Reason, "ARP anomaly: ")
	assert.Contains(t, a.Reason, "Unsolicited ARP reply (no matching request)")
	assert.InDelta(t, 0.5, a.Details["arp_anomaly_severity"], 1e-9)
}

func TestPipelineSolicitedReplyIsQuiet(t *testing.T) {
	p, sink := testPipeline(t, nil)
	now := time.Now()

	// Known-vendor addresses keep the vendor stage quiet.
	req := domain.Frame{
		SrcMAC:    "00:50:56:00:00:01",
		DstMAC:    domain.BroadcastMAC,
		SenderIP:  "192.168.1.10",
		TargetIP:  "192.168.1.20",
		Opcode:    domain.OpRequest,
		Interface: "eth0",
		Captured:  now,
		Ingress:   now,
	}
	p.Handle(context.Background(), 0, req)

	reply := domain.Frame{
		SrcMAC:    "00:0C:29:00:00:02",
		DstMAC:    "00:50:56:00:00:01",
		SenderIP:  "192.168.1.20",
		TargetIP:  "192.168.1.10",
		Opcode:    domain.OpReply,
		Interface: "eth0",
		Captured:  now.Add(time.Second),
		Ingress:   now.Add(time.Second),
	}
	p.Handle(context.Background(), 0, reply)

	assert.Empty(t, sink.all())
}

func TestPipelineVendorAnomaly(t *testing.T) {
	p, sink := testPipeline(t, nil)
	now := time.Now()

	// Locally administered source with an unknown OUI, replying to a known
	// VMware address it was asked by.
	req := domain.Frame{
		SrcMAC:    "00:50:56:00:00:01",
		DstMAC:    domain.BroadcastMAC,
		SenderIP:  "192.168.1.10",
		TargetIP:  "192.168.1.66",
		Opcode:    domain.OpRequest,
		Interface: "eth0",
		Captured:  now,
		Ingress:   now,
	}
	p.Handle(context.Background(), 0, req)

	reply := domain.Frame{
		SrcMAC:    "02:DE:AD:00:00:01",
		DstMAC:    "00:50:56:00:00:01",
		SenderIP:  "192.168.1.66",
		TargetIP:  "192.168.1.10",
		Opcode:    domain.OpReply,
		Interface: "eth0",
		Captured:  now.Add(time.Second),
		Ingress:   now.Add(time.Second),
	}
	p.Handle(context.Background(), 0, reply)

	raised := sink.all()
	require.Len(t, raised, 1)
	a := raised[0]
	assert.Equal(t, domain.ModuleVendorAnomaly, a.Module)
	assert.Contains(t, a.Reason, "MAC vendor anomaly: ")
	conf, ok := a.Details["vendor_anomaly_confidence"].(float64)
	require.True(t, ok)
	assert.Greater(t, conf, 0.4)
}

func TestPipelineClassifierFallback(t *testing.T) {
	model := classifier.New(feature.DefaultFeatures, []int{8}, 0.1, "")
	p, sink := testPipeline(t, model)
	now := time.Now()

	// A clean request reaches the classifier stage. Compute the expected
	// verdict with an identical fresh extractor.
	frame := request("00:50:56:00:00:01", "192.168.1.10", "192.168.1.20", now)

	probe := feature.NewExtractor(testSchema(t))
	info := detect.NewAnalyzer(1000, 5*time.Minute).Analyze(frame)
	pred, err := model.Predict(probe.FromFrame(info))
	require.NoError(t, err)

	p.Handle(context.Background(), 0, frame)

	raised := sink.all()
	if pred.Label == 1 {
		require.Len(t, raised, 1)
		a := raised[0]
		assert.Equal(t, domain.ModuleANN, a.Module)
		assert.Equal(t, fmt.Sprintf("Model predicted spoof (prob=%.4f)", pred.Probability), a.Reason)
		conf, ok := a.Details["confidence"].(float64)
		require.True(t, ok)
		assert.InDelta(t, pred.Probability, conf, 1e-9)
	} else {
		assert.Empty(t, raised)
	}
}
