// Package coway discovers the purifiers of an IoCare account, keeps one accessory per
// device, and drives the poll loop which reconciles them with the cloud.
package coway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/action"
	"github.com/cloudkucooland/cowaybridge/airpurifier"
	"github.com/cloudkucooland/cowaybridge/iocare"
	"github.com/cloudkucooland/cowaybridge/runner"
	"github.com/cloudkucooland/cowaybridge/store"
	"github.com/cloudkucooland/cowaybridge/waterpurifier"

	"github.com/rs/zerolog/log"
)

// Session is what the orchestrator needs from the IoCare client
type Session interface {
	accessory.Session
	Devices(ctx context.Context) ([]iocare.Device, error)
	Connections(ctx context.Context, devs []iocare.Device) (map[string]bool, error)
}

// Cache persists accessory contexts between runs
type Cache interface {
	Save(id string, c accessory.Context) error
	Load() ([]store.Entry, error)
	Delete(id string) error
}

// Host is where accessories are shown, the HomeKit bridge
type Host interface {
	AddAccessory(*accessory.Accessory)
	RemoveAccessory(*accessory.Accessory)
}

// Mirror receives the state of every accessory after each refresh
type Mirror interface {
	Publish(a *accessory.Accessory, c accessory.Context) error
}

// Factories maps IoCare device type codes to the variant which serves them
var Factories = map[string]accessory.Factory{
	airpurifier.TypeCode:   airpurifier.New,
	waterpurifier.TypeCode: waterpurifier.New,
}

// Options wire the orchestrator; everything but the session is optional
type Options struct {
	Cache        Cache
	Host         Host
	Mirror       Mirror
	Metrics      *Metrics
	PollInterval time.Duration
	Concurrency  int // cap on calls in flight per cycle, 0 for none
	Accessory    accessory.Options
}

type Orchestrator struct {
	session   Session
	opts      Options
	factories map[string]accessory.Factory

	mu          sync.Mutex
	accessories []*accessory.Accessory // discovery order
}

func New(s Session, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Orchestrator{
		session:   s,
		opts:      opts,
		factories: Factories,
	}
}

// Accessories returns the current accessories in discovery order
func (o *Orchestrator) Accessories() []*accessory.Accessory {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*accessory.Accessory, len(o.accessories))
	copy(out, o.accessories)
	return out
}

func (o *Orchestrator) find(barcode string) *accessory.Accessory {
	id := accessory.ID(barcode)
	for _, a := range o.accessories {
		if a.UUID == id {
			return a
		}
	}
	return nil
}

// Restore rebuilds the cached accessories. They stay unconfigured until Discover finds them.
func (o *Orchestrator) Restore() error {
	if o.opts.Cache == nil {
		return nil
	}
	entries, err := o.opts.Cache.Load()
	if err != nil {
		return fmt.Errorf("loading accessory cache: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range entries {
		f, ok := o.factories[e.Context.DeviceType]
		if !ok {
			log.Warn().Str("uuid", e.UUID).Str("type", e.Context.DeviceType).Msg("failed to reconfigure cached accessory")
			continue
		}
		if o.find(e.Context.Device.Barcode) != nil {
			continue
		}
		a, err := accessory.Restore(e.Context, o.session, f, o.opts.Accessory)
		if err != nil {
			log.Warn().Err(err).Msg("cached state dropped")
		}
		o.accessories = append(o.accessories, a)
		log.Info().Str("name", a.Name()).Msg("configuring cached accessory")
	}
	return nil
}

// Discover lists the account's devices, configures new and known ones,
// and drops cached accessories the account no longer has
func (o *Orchestrator) Discover(ctx context.Context) error {
	devs, err := o.session.Devices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	if len(devs) == 0 {
		log.Warn().Msg("no coway devices in your account")
	}

	online, err := o.session.Connections(ctx, devs)
	if err != nil {
		log.Warn().Err(err).Msg("unable to check device connections")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, dev := range devs {
		if v, ok := online[dev.Barcode]; ok {
			dev.NetStatus = iocare.Flag(v)
		}
		o.add(ctx, dev)
	}
	o.removeUnconfigured()
	return nil
}

func (o *Orchestrator) add(ctx context.Context, dev iocare.Device) {
	l := log.With().Str("name", dev.Name()).Str("product", dev.ProductName).Str("barcode", dev.Barcode).Logger()

	f, ok := o.factories[dev.TypeCode]
	if !ok {
		l.Info().Str("type", dev.TypeCode).Msg("unsupported device type, skipping")
		return
	}
	if !dev.NetStatus {
		l.Warn().Msg("device reports itself offline")
	}

	if a := o.find(dev.Barcode); a != nil {
		l.Info().Msg("restoring existing accessory")
		a.Reinject(dev, o.session)
		if err := a.Configure(ctx); err != nil {
			l.Error().Err(err).Msg("unable to configure accessory")
			return
		}
		o.persist(a)
		return
	}

	l.Info().Msg("adding new accessory")
	a := accessory.New(dev, o.session, f, o.opts.Accessory)
	if err := a.Configure(ctx); err != nil {
		l.Error().Err(err).Msg("unable to configure accessory")
		return
	}
	o.accessories = append(o.accessories, a)
	o.persist(a)
}

func (o *Orchestrator) removeUnconfigured() {
	kept := o.accessories[:0]
	for _, a := range o.accessories {
		if a.Configured() {
			kept = append(kept, a)
			continue
		}
		log.Info().Str("name", a.Name()).Msg("removing accessory")
		if o.opts.Host != nil {
			o.opts.Host.RemoveAccessory(a)
		}
		if o.opts.Cache != nil {
			if err := o.opts.Cache.Delete(a.UUID.String()); err != nil {
				log.Warn().Err(err).Str("name", a.Name()).Msg("unable to forget accessory")
			}
		}
	}
	for i := len(kept); i < len(o.accessories); i++ {
		o.accessories[i] = nil
	}
	o.accessories = kept
}

// Register hands every accessory to the host
func (o *Orchestrator) Register() {
	if o.opts.Host == nil {
		return
	}
	for _, a := range o.Accessories() {
		o.opts.Host.AddAccessory(a)
	}
}

// PollOnce fetches every endpoint of every accessory concurrently, waits for all of
// them, then refreshes the accessories one by one in discovery order
func (o *Orchestrator) PollOnce(ctx context.Context) error {
	start := time.Now()
	accs := o.Accessories()

	var jobs []runner.Job[*iocare.Response]
	for _, a := range accs {
		a := a
		for _, ep := range a.Endpoints() {
			ep := ep
			jobs = append(jobs, func(ctx context.Context) *iocare.Response {
				return a.RetrieveDeviceState(ctx, ep)
			})
		}
	}
	rs := runner.Gather(ctx, o.opts.Concurrency, jobs)
	if err := ctx.Err(); err != nil {
		return err
	}

	if m := o.opts.Metrics; m != nil {
		for _, r := range rs {
			if r != nil && !r.OK() {
				m.remoteFailures.WithLabelValues(r.Endpoint.Code).Inc()
			}
		}
	}

	offset := 0
	for _, a := range accs {
		end := min(offset+len(a.Endpoints()), len(rs))
		r, err := a.Zip(rs[offset:end])
		if err != nil {
			if o.opts.Metrics != nil {
				o.opts.Metrics.pollErrors.Inc()
			}
			return fmt.Errorf("poll aborted at %s: %w", a.Name(), err)
		}
		offset = end
		a.Refresh(r)
		o.refreshed(a)
	}

	if m := o.opts.Metrics; m != nil {
		m.pollDuration.Observe(time.Since(start).Seconds())
		m.lastPoll.SetToCurrentTime()
	}
	return nil
}

func (o *Orchestrator) refreshed(a *accessory.Accessory) {
	c := o.persist(a)
	if m := o.opts.Metrics; m != nil {
		dev := a.Device()
		m.connected.WithLabelValues(dev.Barcode, dev.TypeCode).Set(boolGauge(a.Connected()))
		m.pending.WithLabelValues(dev.Barcode, dev.TypeCode).Set(float64(len(a.Pending())))
	}
	if o.opts.Mirror != nil && c != nil {
		if err := o.opts.Mirror.Publish(a, *c); err != nil {
			log.Debug().Err(err).Str("name", a.Name()).Msg("mirror publish failed")
		}
	}
}

func (o *Orchestrator) persist(a *accessory.Accessory) *accessory.Context {
	c, err := a.Context()
	if err != nil {
		log.Error().Err(err).Str("name", a.Name()).Msg("unable to snapshot accessory")
		return nil
	}
	if o.opts.Cache != nil {
		if err := o.opts.Cache.Save(a.UUID.String(), c); err != nil {
			log.Warn().Err(err).Str("name", a.Name()).Msg("unable to cache accessory")
		}
	}
	return &c
}

// Run polls until ctx is done
func (o *Orchestrator) Run(ctx context.Context) {
	t := time.NewTicker(o.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := o.PollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("poll cycle failed")
			}
		}
	}
}

// AccessoryStatus is the summary served on the status page
type AccessoryStatus struct {
	UUID       string             `json:"uuid"`
	Name       string             `json:"name"`
	Barcode    string             `json:"barcode"`
	Type       string             `json:"type"`
	Connected  bool               `json:"connected"`
	Configured bool               `json:"configured"`
	Pending    []action.Expirable `json:"pending"`
}

func (o *Orchestrator) Status() []AccessoryStatus {
	accs := o.Accessories()
	out := make([]AccessoryStatus, 0, len(accs))
	for _, a := range accs {
		dev := a.Device()
		out = append(out, AccessoryStatus{
			UUID:       a.UUID.String(),
			Name:       dev.Name(),
			Barcode:    dev.Barcode,
			Type:       dev.TypeCode,
			Connected:  a.Connected(),
			Configured: a.Configured(),
			Pending:    a.Pending(),
		})
	}
	return out
}
