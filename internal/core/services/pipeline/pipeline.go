// Package pipeline runs the per-frame detection chain: deterministic
// binding checks first, then behavioural scoring, then the classifier as
// the fallback stage. The first stage to fire raises the alert and stops
// the chain.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/ports"
	"github.com/safelink/safelink/internal/core/services/classifier"
	"github.com/safelink/safelink/internal/core/services/detect"
	"github.com/safelink/safelink/internal/core/services/feature"
)

// Alert thresholds for the scoring stages.
const (
	arpSeverityThreshold      = 0.5
	vendorConfidenceThreshold = 0.4
)

// Pipeline wires the detection stages together. The classifier and threat
// store are optional; without a model the chain ends after the vendor check.
type Pipeline struct {
	dfa       *detect.DFAFilter
	analyzer  *detect.Analyzer
	vendor    *detect.VendorChecker
	extractor *feature.Extractor
	model     *classifier.Classifier
	alerts    ports.Alerter
	threats   ports.ThreatIntelStore
}

// New assembles a pipeline. model and threats may be nil.
func New(dfa *detect.DFAFilter, analyzer *detect.Analyzer, vendor *detect.VendorChecker,
	extractor *feature.Extractor, model *classifier.Classifier,
	alerts ports.Alerter, threats ports.ThreatIntelStore) *Pipeline {
	return &Pipeline{
		dfa:       dfa,
		analyzer:  analyzer,
		vendor:    vendor,
		extractor: extractor,
		model:     model,
		alerts:    alerts,
		threats:   threats,
	}
}

// Handle processes one frame through the chain. Errors from the alert sink
// are logged, not propagated: a storage hiccup must not stall the workers.
func (p *Pipeline) Handle(ctx context.Context, workerID int, frame domain.Frame) {
	info := p.analyzer.Analyze(frame)
	score := p.analyzer.Score(info)
	vres := p.vendor.Check(frame)

	details := map[string]any{
		"opcode":                    frame.Opcode,
		"is_gratuitous":             info.Gratuitous,
		"is_probe":                  info.Probe,
		"inter_arrival_time":        info.InterArrival.Seconds(),
		"src_vendor":                vres.SrcVendor,
		"dst_vendor":                vres.DstVendor,
		"arp_anomaly_severity":      score.Severity,
		"vendor_anomaly_confidence": vres.Confidence,
	}

	if res := p.dfa.Check(frame); res.Suspicious {
		ip, _ := res.Details["ip"].(string)
		mac, _ := res.Details["new_mac"].(string)
		if mac == "" {
			mac, _ = res.Details["mac"].(string)
		}
		for k, v := range details {
			res.Details[k] = v
		}
		p.raise(ctx, domain.ModuleDFA, res.Reason, ip, mac, res.Details)
		return
	}

	if score.HasAnomaly && score.Severity >= arpSeverityThreshold {
		details["arp_anomalies"] = score.Anomalies
		reason := "ARP anomaly: " + strings.Join(score.Anomalies, ", ")
		p.raise(ctx, domain.ModuleARPAnomaly, reason, frame.SenderIP, frame.SrcMAC, details)
		return
	}

	if vres.HasAnomaly && vres.Confidence > vendorConfidenceThreshold {
		details["vendor_anomalies"] = vres.Anomalies
		reason := "MAC vendor anomaly: " + strings.Join(vres.Anomalies, ", ")
		p.raise(ctx, domain.ModuleVendorAnomaly, reason, frame.SenderIP, frame.SrcMAC, details)
		return
	}

	if p.model == nil {
		return
	}
	vec := p.extractor.FromFrame(info)
	pred, err := p.model.Predict(vec)
	if err != nil {
		log.Println("Classifier predict error:", err)
		return
	}
	if pred.Label == 1 {
		details["ann_prob"] = pred.Probability
		details["confidence"] = pred.Probability
		reason := fmt.Sprintf("Model predicted spoof (prob=%.4f)", pred.Probability)
		p.raise(ctx, domain.ModuleANN, reason, frame.SenderIP, frame.SrcMAC, details)
	}
}

// raise annotates the alert with its originating module and any matching
// threat indicator, then hands it to the sink. The labeler reads these
// structured fields back out, so they must be set on every alert.
func (p *Pipeline) raise(ctx context.Context, module domain.Module, reason, srcIP, srcMAC string, details map[string]any) {
	details["source"] = string(module)
	if p.threats != nil {
		if match, ok := p.lookupThreat(ctx, srcIP, srcMAC); ok {
			details["threat_match"] = map[string]any{
				"type":     string(match.Type),
				"value":    match.Value,
				"severity": string(match.Severity),
				"source":   match.Source,
			}
		}
	}
	if err := p.alerts.Raise(ctx, module, reason, srcIP, srcMAC, details); err != nil {
		log.Printf("Alert raise failed (%s): %v", module, err)
	}
}

func (p *Pipeline) lookupThreat(ctx context.Context, srcIP, srcMAC string) (domain.ThreatIndicator, bool) {
	for _, value := range []string{srcIP, srcMAC} {
		if value == "" {
			continue
		}
		ind, found, err := p.threats.Search(ctx, value)
		if err != nil {
			log.Println("Threat intel lookup error:", err)
			continue
		}
		if found {
			return ind, true
		}
	}
	return domain.ThreatIndicator{}, false
}
