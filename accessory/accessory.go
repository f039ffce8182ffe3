package accessory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudkucooland/cowaybridge/action"
	"github.com/cloudkucooland/cowaybridge/iocare"
	"github.com/cloudkucooland/cowaybridge/runner"

	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Manufacturer is shown in the accessory information of every device
const Manufacturer = "Coway Co.,Ltd."

var (
	// ErrCommunicationFailure is reported by gated get/set handlers while the device is offline
	ErrCommunicationFailure = errors.New("accessory: communication failure")
	// ErrEndpointMismatch means a poll returned a different number of responses than endpoints
	ErrEndpointMismatch = errors.New("accessory: response count does not match endpoint set")
	// ErrCommandFailed wraps the failure of a remote control call
	ErrCommandFailed = errors.New("accessory: control call failed")
	// ErrUnknownEndpoint is carried on the response when no request can be built for an endpoint
	ErrUnknownEndpoint = errors.New("accessory: no request for endpoint")
)

// Session is the part of the IoCare client an accessory talks to
type Session interface {
	Get(ctx context.Context, ep iocare.Endpoint, params map[string]string) *iocare.Response
	Control(ctx context.Context, dev iocare.Device, cmds []action.Command) *iocare.Response
}

// Responses maps each endpoint of the set (unsubstituted) to what the poll returned
type Responses map[iocare.Endpoint]*iocare.Response

// Options tune every accessory the same way
type Options struct {
	MaximumSkips int
	Timeout      time.Duration // bound on a set handler's control call
}

// Accessory is one Coway device: the endpoints it polls, the commands it is waiting on,
// and the HomeKit accessory its derived state is pushed to.
// Refresh, Configure and every gated handler hold the same lock, so they never interleave.
type Accessory struct {
	UUID     uuid.UUID
	Platform string

	session   Session
	variant   Variant
	endpoints []iocare.Endpoint
	queue     *action.Queue
	timeout   time.Duration

	mu         sync.Mutex
	device     iocare.Device
	connected  bool
	init       bool
	configured bool
	fault      *characteristic.StatusFault
	gen        uint64 // bumped whenever the characteristics may be written locally
}

// ID derives the stable accessory identifier from the device barcode
func ID(barcode string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(barcode))
}

// New builds the accessory and lets f attach the device family's services
func New(dev iocare.Device, s Session, f Factory, opts Options) *Accessory {
	a := &Accessory{
		UUID:     ID(dev.Barcode),
		Platform: "Coway",
		session:  s,
		device:   dev,
		queue:    action.NewQueue(opts.MaximumSkips),
		timeout:  opts.Timeout,
		init:     true,
	}
	if a.timeout <= 0 {
		a.timeout = 15 * time.Second
	}
	a.variant = f(a)
	a.endpoints = a.variant.Endpoints()
	return a
}

// Info is the hc accessory information for this device
func (a *Accessory) Info() hcaccessory.Info {
	dev := a.Device()
	model := dev.Model
	if model == "" {
		model = dev.ProductName
	}
	return hcaccessory.Info{
		Name:         dev.Name(),
		SerialNumber: dev.Barcode,
		Manufacturer: Manufacturer,
		Model:        model,
		ID:           hcID(a.UUID),
	}
}

// hc reserves aid 1 for the bridge; keep ids well inside 53 bits for controllers
func hcID(id uuid.UUID) uint64 {
	v := binary.BigEndian.Uint64(id[:8]) >> 12
	if v < 2 {
		v += 2
	}
	return v
}

// Name is the display name
func (a *Accessory) Name() string {
	return a.Device().Name()
}

// Device returns the device metadata
func (a *Accessory) Device() iocare.Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

// Type is the IoCare device type code
func (a *Accessory) Type() string {
	return a.Device().TypeCode
}

// Endpoints is the ordered endpoint set polled for this device
func (a *Accessory) Endpoints() []iocare.Endpoint {
	return a.endpoints
}

// Connected reports the last known network status
func (a *Accessory) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Configured is false for accessories restored from the cache until discovery finds them again
func (a *Accessory) Configured() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configured
}

// HC is the hc accessory to register with the host
func (a *Accessory) HC() *hcaccessory.Accessory {
	return a.variant.HC()
}

// Pending lists the commands still waiting for the device to converge
func (a *Accessory) Pending() []action.Expirable {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queue.Pending()
}

// SetFault registers the characteristic that mirrors connectivity
func (a *Accessory) SetFault(c *characteristic.StatusFault) {
	a.fault = c
}

// Reinject replaces the session and device metadata, for a cached accessory found again
func (a *Accessory) Reinject(dev iocare.Device, s Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.device = dev
	a.session = s
	a.init = false
}

// RequestParams builds the request of one endpoint from the device metadata
func (a *Accessory) RequestParams(ep iocare.Endpoint) map[string]string {
	dev := a.Device()
	switch ep {
	case iocare.DevicesControl:
		return map[string]string{
			"devId":      dev.Barcode,
			"mqttDevice": "true",
			"dvcBrandCd": dev.BrandCode,
			"dvcTypeCd":  dev.TypeCode,
			"prodName":   dev.ProductName,
		}
	case iocare.AirDevicesHome:
		return map[string]string{
			"admdongCd":    dev.AdmDongCode,
			"barcode":      dev.Barcode,
			"dvcBrandCd":   dev.BrandCode,
			"prodName":     dev.ProductName,
			"stationCd":    dev.StationCode,
			"zipCode":      dev.ZipCode,
			"resetDttm":    dev.ResetDate,
			"deviceType":   dev.TypeCode,
			"mqttDevice":   "true",
			"orderNo":      dev.OrderNo,
			"membershipYn": dev.Membership,
			"selfYn":       dev.SelfManaged,
		}
	case iocare.AirDevicesFilterInfo:
		return map[string]string{
			"devId":        dev.Barcode,
			"orderNo":      dev.OrderNo,
			"sellTypeCd":   dev.SellTypeCode,
			"prodName":     dev.ProductName,
			"membershipYn": dev.Membership,
			"mqttDevice":   "true",
			"selfYn":       dev.SelfManaged,
		}
	}
	return nil
}

// RetrieveDeviceState fetches one endpoint; a failure comes back on the response
func (a *Accessory) RetrieveDeviceState(ctx context.Context, ep iocare.Endpoint) *iocare.Response {
	params := a.RequestParams(ep)
	if params == nil {
		return &iocare.Response{Endpoint: ep, Err: ErrUnknownEndpoint}
	}
	a.mu.Lock()
	s, barcode := a.session, a.device.Barcode
	a.mu.Unlock()
	return s.Get(ctx, ep.For(barcode), params)
}

// Fetch polls the whole endpoint set of this accessory concurrently
func (a *Accessory) Fetch(ctx context.Context) []*iocare.Response {
	jobs := make([]runner.Job[*iocare.Response], 0, len(a.endpoints))
	for _, ep := range a.endpoints {
		ep := ep
		jobs = append(jobs, func(ctx context.Context) *iocare.Response {
			return a.RetrieveDeviceState(ctx, ep)
		})
	}
	return runner.Gather(ctx, 0, jobs)
}

// Zip pairs responses with the endpoint set, in order. A count mismatch is a
// protocol error and no partial map is returned.
func (a *Accessory) Zip(rs []*iocare.Response) (Responses, error) {
	if len(rs) != len(a.endpoints) {
		return nil, fmt.Errorf("%w: %d responses for %d endpoints", ErrEndpointMismatch, len(rs), len(a.endpoints))
	}
	out := make(Responses, len(rs))
	for i, ep := range a.endpoints {
		out[ep] = rs[i]
	}
	return out, nil
}

// Refresh reconciles one poll's responses into the accessory state
func (a *Accessory) Refresh(r Responses) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refresh(r)
}

func (a *Accessory) refresh(r Responses) {
	l := log.With().Str("device", a.device.Barcode).Logger()

	status, online, err := decodeControl(r[iocare.DevicesControl])
	if err != nil {
		if a.connected {
			l.Warn().Err(err).Msg("device unreachable")
		}
		a.setConnected(false)
		return
	}

	out := a.queue.Reconcile(status)
	if out.Flushed > 0 {
		l.Debug().Int("count", out.Flushed).Msg("pending commands flushed")
	}
	if out.Purged > 0 {
		l.Debug().Int("count", out.Purged).Msg("pending commands purged")
	}
	if out.Kept > 0 {
		l.Debug().Int("count", out.Kept).Msg("fetched values overlaid")
	}

	if !online && a.connected {
		l.Info().Msg("device went offline")
	}
	a.setConnected(online)

	if err := a.derive(status, r); err != nil {
		l.Error().Err(err).Msg("unable to derive device state")
		for ep, res := range r {
			ev := l.Debug().Str("endpoint", ep.String())
			if res.OK() {
				ev = ev.RawJSON("payload", res.Data)
			} else if res != nil {
				ev = ev.AnErr("failure", res.Err)
			}
			ev.Msg("offending response")
		}
	}
	a.init = false

	if a.connected {
		a.apply()
		if a.fault != nil {
			a.fault.SetValue(characteristic.StatusFaultNoFault)
		}
	}
}

func (a *Accessory) derive(status action.Status, r Responses) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("derivation panic: %v", p)
		}
	}()
	return a.variant.Derive(status, r)
}

func (a *Accessory) apply() {
	a.gen++
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("device", a.device.Barcode).Interface("panic", p).Msg("unable to update characteristics")
		}
	}()
	a.variant.Apply()
}

func (a *Accessory) setConnected(v bool) {
	a.connected = v
	if !v && a.fault != nil {
		a.fault.SetValue(characteristic.StatusFaultGeneralFault)
	}
}

// Configure writes the accessory information, fetches and applies the current state,
// and marks the accessory as configured
func (a *Accessory) Configure(ctx context.Context) error {
	r, err := a.Zip(a.Fetch(ctx))
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if hc := a.variant.HC(); hc != nil && hc.Info != nil {
		model := a.device.Model
		if model == "" {
			model = a.device.ProductName
		}
		hc.Info.Name.SetValue(a.device.Name())
		hc.Info.Manufacturer.SetValue(Manufacturer)
		hc.Info.Model.SetValue(model)
		hc.Info.SerialNumber.SetValue(a.device.Barcode)
	}

	a.refresh(r)
	a.init = false
	a.configured = true
	return nil
}

// MarkUnconfigured flags the accessory for removal unless discovery configures it again
func (a *Accessory) MarkUnconfigured() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configured = false
}

// Execute enqueues cmds and sends them to the device. It is a no-op while disconnected.
// Only call it from a handler run through Set, which holds the lock.
func (a *Accessory) Execute(ctx context.Context, cmds ...action.Command) error {
	if !a.connected || len(cmds) == 0 {
		return nil
	}
	if n := a.queue.Enqueue(cmds...); n > 0 {
		log.Debug().Str("device", a.device.Barcode).Int("count", n).Msg("pending commands overridden")
	}
	res := a.session.Control(ctx, a.device, cmds)
	if res == nil {
		return ErrCommandFailed
	}
	if res.Err != nil && !errors.Is(res.Err, iocare.ErrNoData) {
		return fmt.Errorf("%w: %v", ErrCommandFailed, res.Err)
	}
	log.Info().Str("device", a.device.Barcode).Interface("commands", cmds).Msg("sent")
	return nil
}

// Get runs fn under the accessory lock, or reports ErrCommunicationFailure without
// running it when the device is disconnected
func (a *Accessory) Get(fn func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.get(fn)
}

func (a *Accessory) get(fn func()) error {
	if !a.connected {
		a.setConnected(false)
		return ErrCommunicationFailure
	}
	fn()
	return nil
}

// Set runs fn under the accessory lock, or reports ErrCommunicationFailure without
// running it when the device is disconnected. When the set does not go through, the
// characteristics are put back to the derived state.
func (a *Accessory) Set(fn func(ctx context.Context) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if !a.connected {
		a.apply()
		a.setConnected(false)
		return ErrCommunicationFailure
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		a.apply()
		return err
	}
	return nil
}
