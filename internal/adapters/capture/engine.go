package capture

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/telemetry"
)

// ErrCaptureUnavailable is returned when an interface cannot be opened for
// ARP capture.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// FrameSource is one open capture handle. Run blocks, emitting frames until
// the context is canceled or the handle dies.
type FrameSource interface {
	Run(ctx context.Context, emit func(domain.Frame)) error
	Close()
}

// Opener opens a FrameSource for an interface. Production wiring uses
// OpenLive; tests substitute synthetic sources.
type Opener func(iface string) (FrameSource, error)

// Sink receives frames leaving the engine buffer. A false return means the
// receiver had no room.
type Sink func(domain.Frame) bool

// Engine fans per-interface capture goroutines into a single bounded buffer.
// When the buffer fills, the oldest frame is discarded first.
type Engine struct {
	open     Opener
	registry *Registry
	buffer   chan domain.Frame

	mu      sync.Mutex
	bufMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pumpWG  sync.WaitGroup
}

// NewEngine builds an engine over the given opener and registry.
func NewEngine(open Opener, registry *Registry, bufferSize int) *Engine {
	if bufferSize < 1 {
		bufferSize = 4096
	}
	return &Engine{
		open:     open,
		registry: registry,
		buffer:   make(chan domain.Frame, bufferSize),
	}
}

// Start opens every interface and begins capturing into sink. An interface
// that cannot be opened is logged and skipped; Start fails only when no
// interface could be opened.
func (e *Engine) Start(ctx context.Context, interfaces []string, sink Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("capture engine already running")
	}

	ctx, cancel := context.WithCancel(ctx)

	opened := 0
	for _, iface := range interfaces {
		e.registry.Register(iface)
		src, err := e.open(iface)
		if err != nil {
			log.Printf("Capture open failed on %s: %v", iface, err)
			e.registry.MarkError(iface)
			continue
		}
		opened++
		e.registry.SetActive(iface, true)

		e.wg.Add(1)
		go func(iface string, src FrameSource) {
			defer e.wg.Done()
			defer src.Close()
			if err := src.Run(ctx, e.push); err != nil {
				log.Printf("Capture loop ended on %s: %v", iface, err)
				e.registry.MarkError(iface)
			}
			e.registry.SetActive(iface, false)
		}(iface, src)
	}
	if opened == 0 {
		cancel()
		return ErrCaptureUnavailable
	}

	e.pumpWG.Add(1)
	go func() {
		defer e.pumpWG.Done()
		for frame := range e.buffer {
			if sink(frame) {
				e.registry.MarkProcessed(frame.Interface)
			} else {
				e.registry.MarkDropped(frame.Interface)
			}
		}
	}()

	e.running = true
	e.cancel = cancel
	return nil
}

// push buffers one captured frame, discarding the oldest buffered frame when
// full.
func (e *Engine) push(frame domain.Frame) {
	e.registry.MarkCaptured(frame.Interface, frame.Captured)
	telemetry.PacketsCaptured.WithLabelValues(frame.Interface).Inc()

	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	for {
		select {
		case e.buffer <- frame:
			return
		default:
		}
		select {
		case old := <-e.buffer:
			e.registry.MarkDropped(old.Interface)
			telemetry.PacketsDropped.WithLabelValues(old.Interface, "buffer_full").Inc()
		default:
		}
	}
}

// Stop cancels the capture loops, drains the buffer into the sink and
// returns once everything has wound down.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.cancel()
	e.wg.Wait()

	e.bufMu.Lock()
	close(e.buffer)
	e.bufMu.Unlock()
	e.pumpWG.Wait()

	// Fresh buffer so the engine can be started again.
	e.bufMu.Lock()
	e.buffer = make(chan domain.Frame, cap(e.buffer))
	e.bufMu.Unlock()

	e.running = false
}
