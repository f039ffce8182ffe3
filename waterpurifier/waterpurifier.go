// Package waterpurifier exposes Coway DRIVER water purifiers as a faucet valve plus
// one lock mechanism per dispensing circuit.
package waterpurifier

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/action"
	"github.com/cloudkucooland/cowaybridge/devices"
	"github.com/cloudkucooland/cowaybridge/iocare"

	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
)

// TypeCode is the IoCare device type of water purifiers
const TypeCode = "001"

const (
	FieldColdWaterLock     action.Field = "0002"
	FieldHotWaterLock      action.Field = "0003"
	FieldButtonLock        action.Field = "0005"
	FieldFaucetState       action.Field = "0008"
	FieldFlowingMilliliter action.Field = "0009"
)

const (
	FaucetIdle            = "0"
	FaucetUnknown         = "1"
	FaucetUVSterilization = "2"
)

// ErrNotSupported is returned for writes the device cannot act on
var ErrNotSupported = errors.New("waterpurifier: not supported")

// Circuit is one lockable part of the purifier. The lock codes differ per circuit.
type Circuit struct {
	Name     string
	Field    action.Field
	Locked   string
	Unlocked string
}

var (
	ColdWater = Circuit{Name: "Cold Water", Field: FieldColdWaterLock, Locked: "0", Unlocked: "1"}
	HotWater  = Circuit{Name: "Hot Water", Field: FieldHotWaterLock, Locked: "2", Unlocked: "1"}
	Buttons   = Circuit{Name: "Buttons", Field: FieldButtonLock, Locked: "1", Unlocked: "0"}

	Circuits = []Circuit{ColdWater, HotWater, Buttons}
)

// Code is the control value which locks or unlocks the circuit
func (c Circuit) Code(locked bool) string {
	if locked {
		return c.Locked
	}
	return c.Unlocked
}

// ControlInfo is the typed control status
type ControlInfo struct {
	Locks             map[action.Field]string `json:"locks"`
	FaucetState       string                  `json:"faucetState"`
	FlowingMilliliter int                     `json:"flowingMilliliter"`
}

// State is everything derived for one water purifier
type State struct {
	Control ControlInfo `json:"controlInfo"`
}

// ParseControl reads the control status, already overlaid with pending commands
func ParseControl(s action.Status) ControlInfo {
	c := ControlInfo{
		Locks:       make(map[action.Field]string, len(Circuits)),
		FaucetState: s[FieldFaucetState],
	}
	for _, circuit := range Circuits {
		c.Locks[circuit.Field] = s[circuit.Field]
	}
	if n, err := strconv.Atoi(s[FieldFlowingMilliliter]); err == nil {
		c.FlowingMilliliter = n
	}
	return c
}

// Dispensing reports water running from an idle faucet
func Dispensing(c ControlInfo) bool {
	return c.FaucetState == FaucetIdle && c.FlowingMilliliter > 0
}

// Locked reports whether the circuit is locked
func Locked(c ControlInfo, circuit Circuit) bool {
	return c.Locks[circuit.Field] == circuit.Locked
}

func lockStates(c ControlInfo, circuit Circuit) (current, target int) {
	if Locked(c, circuit) {
		return characteristic.LockCurrentStateSecured, characteristic.LockTargetStateSecured
	}
	return characteristic.LockCurrentStateUnsecured, characteristic.LockTargetStateUnsecured
}

// Purifier is the accessory variant of a water purifier
type Purifier struct {
	acc   *accessory.Accessory
	hc    *devices.WaterPurifier
	locks map[action.Field]*devices.LockSvc
	state State
}

// New builds the services of a water purifier and binds their handlers to a
func New(a *accessory.Accessory) accessory.Variant {
	p := &Purifier{
		acc:   a,
		hc:    devices.NewWaterPurifier(a.Info()),
		locks: make(map[action.Field]*devices.LockSvc, len(Circuits)),
		state: State{Control: ControlInfo{Locks: map[action.Field]string{}}},
	}

	valve := p.hc.Valve
	a.SetFault(valve.StatusFault)
	accessory.Handle(a, valve.Active, p.active, func(context.Context, int) error { return ErrNotSupported })
	accessory.HandleGet(a, valve.InUse, func() int { return p.inUse() })

	for _, circuit := range Circuits {
		circuit := circuit
		l := p.hc.AddLock(circuit.Name)
		p.locks[circuit.Field] = l

		accessory.HandleGet(a, l.LockCurrentState, func() int {
			cur, _ := lockStates(p.state.Control, circuit)
			return cur
		})
		accessory.Handle(a, l.LockTargetState, func() int {
			_, tgt := lockStates(p.state.Control, circuit)
			return tgt
		}, func(ctx context.Context, v int) error {
			return p.setLock(ctx, circuit, v == characteristic.LockTargetStateSecured)
		})
	}
	return p
}

func (p *Purifier) active() int {
	if Dispensing(p.state.Control) {
		return characteristic.ActiveActive
	}
	return characteristic.ActiveInactive
}

func (p *Purifier) inUse() int {
	if Dispensing(p.state.Control) {
		return characteristic.InUseInUse
	}
	return characteristic.InUseNotInUse
}

func (p *Purifier) Endpoints() []iocare.Endpoint {
	return []iocare.Endpoint{iocare.DevicesControl}
}

func (p *Purifier) Derive(status action.Status, _ accessory.Responses) error {
	p.state.Control = ParseControl(status)
	return nil
}

func (p *Purifier) Apply() {
	p.hc.Valve.Active.SetValue(p.active())
	p.hc.Valve.InUse.SetValue(p.inUse())

	for _, circuit := range Circuits {
		l := p.locks[circuit.Field]
		cur, tgt := lockStates(p.state.Control, circuit)
		l.LockTargetState.SetValue(tgt)
		l.LockCurrentState.SetValue(cur)
	}
}

func (p *Purifier) State() interface{} {
	return p.state
}

func (p *Purifier) Restore(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &p.state); err != nil {
		return err
	}
	if p.state.Control.Locks == nil {
		p.state.Control.Locks = map[action.Field]string{}
	}
	return nil
}

func (p *Purifier) HC() *hcaccessory.Accessory {
	return p.hc.Accessory
}

func (p *Purifier) setLock(ctx context.Context, circuit Circuit, locked bool) error {
	code := circuit.Code(locked)
	prev := p.state.Control.Locks[circuit.Field]
	if prev == code {
		return nil
	}
	p.state.Control.Locks[circuit.Field] = code
	if err := p.acc.Execute(ctx, action.Command{Field: circuit.Field, Value: code}); err != nil {
		p.state.Control.Locks[circuit.Field] = prev
		return err
	}
	cur, _ := lockStates(p.state.Control, circuit)
	p.locks[circuit.Field].LockCurrentState.SetValue(cur)
	return nil
}
