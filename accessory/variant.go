package accessory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cloudkucooland/cowaybridge/action"
	"github.com/cloudkucooland/cowaybridge/iocare"

	hcaccessory "github.com/brutella/hc/accessory"
)

// Variant is what a device family adds on top of the common accessory: its endpoint set,
// how the responses become typed state, and how that state is shown in HomeKit
type Variant interface {
	// Endpoints is the ordered set polled every cycle
	Endpoints() []iocare.Endpoint
	// Derive rebuilds the typed state from the overlaid control status and the other responses
	Derive(status action.Status, r Responses) error
	// Apply pushes the typed state into the characteristics
	Apply()
	// State is the typed state, persisted with the accessory context
	State() interface{}
	// Restore loads a persisted state
	Restore(json.RawMessage) error
	HC() *hcaccessory.Accessory
}

// Factory builds the variant of one device family and binds its handlers to a
type Factory func(a *Accessory) Variant

// Context is the persisted form of an accessory
type Context struct {
	DeviceType string          `json:"deviceType"`
	Device     iocare.Device   `json:"deviceInfo"`
	Init       bool            `json:"init"`
	Configured bool            `json:"configured"`
	State      json.RawMessage `json:"state,omitempty"`
}

// Context snapshots the accessory for the cache
func (a *Accessory) Context() (Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, err := json.Marshal(a.variant.State())
	if err != nil {
		return Context{}, err
	}
	return Context{
		DeviceType: a.device.TypeCode,
		Device:     a.device,
		Init:       a.init,
		Configured: a.configured,
		State:      state,
	}, nil
}

// Restore rebuilds an accessory from the cache. It stays unconfigured, and offline,
// until discovery finds the device again.
func Restore(c Context, s Session, f Factory, opts Options) (*Accessory, error) {
	a := New(c.Device, s, f, opts)
	a.init = c.Init
	a.configured = false
	if len(c.State) > 0 && string(c.State) != "null" {
		if err := a.variant.Restore(c.State); err != nil {
			return a, fmt.Errorf("restoring %s: %w", c.Device.Barcode, err)
		}
	}
	return a, nil
}

type controlPayload struct {
	ControlStatus map[string]interface{} `json:"controlStatus"`
	NetStatus     iocare.Flag            `json:"netStatus"`
}

var errNoControlStatus = errors.New("control response carries no status")

// decodeControl reads the raw status map and the network flag from the control response
func decodeControl(r *iocare.Response) (action.Status, bool, error) {
	var p controlPayload
	if err := r.Decode(&p); err != nil {
		return nil, false, err
	}
	if p.ControlStatus == nil {
		return nil, false, errNoControlStatus
	}

	status := make(action.Status, len(p.ControlStatus))
	for k, v := range p.ControlStatus {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			status[action.Field(k)] = t
		case float64:
			status[action.Field(k)] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			status[action.Field(k)] = strconv.FormatBool(t)
		default:
			status[action.Field(k)] = fmt.Sprint(t)
		}
	}
	return status, bool(p.NetStatus), nil
}
