package tfhc

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/config"
	"github.com/cloudkucooland/cowaybridge/platform"

	"github.com/brutella/hc"
	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/brutella/hc/util"
	"github.com/rs/zerolog/log"
)

// HCPlatform is the platform handle
type HCPlatform struct {
	Running bool
}

var (
	mu        sync.Mutex
	hcs       []*accessory.Accessory // registration order, which is discovery order
	transport hc.Transport
)

// Startup is called by the platform bootstrap
func (h HCPlatform) Startup(c *config.Config) platform.Control {
	h.Running = true
	return h
}

// StartHC is called after all devices are discovered/registered to start operation
func StartHC(c *config.Config) error {
	storage, err := util.NewFileStorage(filepath.Join(c.HomeKit.StoragePath, "serials"))
	if err != nil {
		return fmt.Errorf("unable to get serial storage: %w", err)
	}
	serial := c.HomeKit.ID
	if serial == "" {
		serial = util.GetSerialNumberForAccessoryName("CowayBridgeRoot", storage)
	}

	root := hcaccessory.NewBridge(hcaccessory.Info{
		Name:             c.HomeKit.Name,
		ID:               1,
		SerialNumber:     serial,
		Manufacturer:     "cowaybridge",
		Model:            "Coway Bridge",
		FirmwareRevision: "1.0.0",
	})
	root.Accessory.OnIdentify(func() {
		log.Info().Str("name", c.HomeKit.Name).Msg("bridge root identify called")
	})

	mu.Lock()
	values := make([]*hcaccessory.Accessory, 0, len(hcs))
	for _, a := range hcs {
		values = append(values, a.HC())
	}
	mu.Unlock()

	t, err := hc.NewIPTransport(c.HomeKit.HC(), root.Accessory, values...)
	if err != nil {
		return fmt.Errorf("unable to create transport: %w", err)
	}

	mu.Lock()
	transport = t
	mu.Unlock()

	go t.Start()
	if uri, err := t.XHMURI(); err == nil {
		log.Info().Str("uri", uri).Int("accessories", len(values)).Msg("add this bridge with")
	}
	return nil
}

// Shutdown is called at process teardown
func (h HCPlatform) Shutdown() platform.Control {
	mu.Lock()
	t := transport
	transport = nil
	mu.Unlock()
	if t != nil {
		<-t.Stop()
	}
	h.Running = false
	return h
}

// AddAccessory registers a device with HC
func (h HCPlatform) AddAccessory(a *accessory.Accessory) {
	// catch devices whose variant never built services
	if a.HC() == nil {
		log.Warn().Str("name", a.Name()).Msg("accessory unset")
		return
	}

	a.HC().OnIdentify(func() {
		l := log.Info().Str("name", a.Name()).Str("uuid", a.UUID.String())
		for _, service := range a.HC().GetServices() {
			l = l.Str(fmt.Sprintf("service.%d", service.ID), service.Type)
		}
		l.Msg("identify called")
	})

	mu.Lock()
	defer mu.Unlock()
	for i, known := range hcs {
		if known.UUID == a.UUID {
			hcs[i] = a
			return
		}
	}
	hcs = append(hcs, a)
}

// RemoveAccessory unregisters a device
func (h HCPlatform) RemoveAccessory(a *accessory.Accessory) {
	mu.Lock()
	defer mu.Unlock()
	for i, known := range hcs {
		if known.UUID == a.UUID {
			hcs = append(hcs[:i], hcs[i+1:]...)
			return
		}
	}
}

// GetAccessory looks up a device by name or uuid -- you probably want the Coway platform's version, not this
func (h HCPlatform) GetAccessory(name string) (*accessory.Accessory, bool) {
	mu.Lock()
	defer mu.Unlock()
	for _, a := range hcs {
		if a.Name() == name || a.UUID.String() == name {
			return a, true
		}
	}
	return nil, false
}

// Accessories lists the registered devices in registration order
func Accessories() []*accessory.Accessory {
	mu.Lock()
	defer mu.Unlock()
	out := make([]*accessory.Accessory, len(hcs))
	copy(out, hcs)
	return out
}

// Background runs the various background tasks: none for HC
func (h HCPlatform) Background() {}
