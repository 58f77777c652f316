// Package moinject implements the mobile-originated message injector: a
// periodic source table walker plus an on-demand API hook, both feeding
// deliver_sm PDUs to bound receivers of a target system_id.
package moinject

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbusgw/smppsim/internal/registry"
	"github.com/nimbusgw/smppsim/pdu"
)

// Config is the environment-driven tunable surface for the injector
// (spec §6: MO_INTERVAL_MS).
type Config struct {
	IntervalMS int `env:"MO_INTERVAL_MS" envDefault:"5000"`
}

// Record is one mobile-originated message, either loaded into the
// periodic source table or submitted on demand via POST /api/mo.
type Record struct {
	SourceAddr     string `json:"source_addr"`
	DestAddr       string `json:"dest_addr"`
	ShortMessage   string `json:"short_message"`
	TargetSystemID string `json:"target_system_id"`
}

// ErrNoTarget is returned by InjectOnDemand when the record names no
// target_system_id.
var ErrNoTarget = errors.New("moinject: record has no target_system_id")

// Injector periodically walks a wraparound source table and also accepts
// on-demand records from the Observability API. Every injected MO is
// delivered with no receipt bit set (spec §4.7); a target with no bound
// RX/TRX receiver drops the MO and increments DroppedTotal.
type Injector struct {
	cfg Config
	reg *registry.Registry
	log *logrus.Entry

	mu     sync.Mutex
	source []Record
	cursor int

	onDemand   chan Record
	intervalCh chan time.Duration

	DroppedTotal  uint64
	InjectedTotal uint64
}

// New creates an Injector around the given periodic source table (may be
// empty; periodic injection is then a no-op until reloaded).
func New(cfg Config, source []Record, reg *registry.Registry, log *logrus.Entry) *Injector {
	if cfg.IntervalMS <= 0 {
		cfg.IntervalMS = 5000
	}
	return &Injector{
		cfg:        cfg,
		reg:        reg,
		log:        log,
		source:     source,
		onDemand:   make(chan Record, 64),
		intervalCh: make(chan time.Duration, 1),
	}
}

// SetIntervalMS changes the periodic injection cadence, applied the next
// time the ticker fires or is rescheduled ("mo.interval_ms").
func (inj *Injector) SetIntervalMS(ms int) {
	if ms <= 0 {
		ms = 1
	}
	d := time.Duration(ms) * time.Millisecond
	for {
		select {
		case inj.intervalCh <- d:
			return
		default:
			// Replace an update Run has not picked up yet.
			select {
			case <-inj.intervalCh:
			default:
			}
		}
	}
}

// SetSource replaces the periodic source table and resets the cursor.
func (inj *Injector) SetSource(records []Record) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.source = records
	inj.cursor = 0
}

// InjectOnDemand enqueues a single record for immediate delivery, called
// from the Observability API's POST /api/mo handler. Returns ErrNoTarget
// synchronously if the record is unusable; otherwise the actual delivery
// happens asynchronously on the Injector's own goroutine. If the on-demand
// queue is full, the record is dropped, counted in DroppedTotal, and nil is
// returned.
func (inj *Injector) InjectOnDemand(r Record) error {
	if r.TargetSystemID == "" {
		return ErrNoTarget
	}
	select {
	case inj.onDemand <- r:
		return nil
	default:
		atomic.AddUint64(&inj.DroppedTotal, 1)
		return nil
	}
}

// Run drives the periodic ticker and on-demand channel until ctx is
// cancelled.
func (inj *Injector) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(inj.cfg.IntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-inj.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			if rec, ok := inj.nextPeriodic(); ok {
				inj.deliver(rec)
			}
		case rec := <-inj.onDemand:
			inj.deliver(rec)
		}
	}
}

func (inj *Injector) nextPeriodic() (Record, bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.source) == 0 {
		return Record{}, false
	}
	rec := inj.source[inj.cursor]
	inj.cursor = (inj.cursor + 1) % len(inj.source)
	return rec, true
}

func (inj *Injector) deliver(rec Record) {
	mo := &pdu.DeliverSm{
		SourceAddr:      rec.SourceAddr,
		DestinationAddr: rec.DestAddr,
		ShortMessage:    rec.ShortMessage,
	}

	if !inj.reg.HasBoundReceiver(rec.TargetSystemID) {
		atomic.AddUint64(&inj.DroppedTotal, 1)
		if inj.log != nil {
			inj.log.WithField("target_system_id", rec.TargetSystemID).Debug("mo dropped, no bound receiver")
		}
		return
	}

	delivered := inj.reg.RouteToSystemID(rec.TargetSystemID, mo)
	if delivered == 0 {
		atomic.AddUint64(&inj.DroppedTotal, 1)
		return
	}
	atomic.AddUint64(&inj.InjectedTotal, uint64(delivered))
	if inj.log != nil {
		inj.log.WithFields(logrus.Fields{
			"target_system_id": rec.TargetSystemID,
			"receivers":        delivered,
		}).Info("mo injected")
	}
}
