package airpurifier

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
	"github.com/rs/zerolog/log"
)

// Purifier is the accessory variant of an air purifier
type Purifier struct {
	acc     *accessory.Accessory
	hc      *devices.AirPurifier
	state   State
	filters map[string]*devices.FilterSvc
}

// New builds the services of an air purifier and binds their handlers to a
func New(a *accessory.Accessory) accessory.Variant {
	p := &Purifier{
		acc:     a,
		hc:      devices.NewAirPurifier(a.Info()),
		filters: make(map[string]*devices.FilterSvc),
	}
	p.state.Control.FanSpeed = FanShutdown

	svc := p.hc.Purifier
	svc.RotationSpeed.SetMinValue(0)
	svc.RotationSpeed.SetMaxValue(100)
	svc.RotationSpeed.SetStepValue(RotationUnit)
	a.SetFault(svc.StatusFault)

	accessory.Handle(a, svc.Active, func() int { return Active(p.state.Control) }, keep(p, p.setActive))
	accessory.HandleGet(a, svc.CurrentAirPurifierState, func() int { return CurrentState(p.state.Control) })
	accessory.Handle(a, svc.TargetAirPurifierState, func() int { return TargetState(p.state.Control) }, keep(p, p.setTargetState))
	accessory.Handle(a, svc.RotationSpeed, func() float64 { return RotationPercent(p.state.Control) }, keep(p, p.setRotationSpeed))

	lb := p.hc.Light
	accessory.Handle(a, lb.On, func() bool { return p.state.Control.On && p.state.Control.LightOn }, keep(p, p.setLight))
	accessory.Handle(a, lb.Brightness, func() int { return BrightnessPercent(p.state.Control) }, keep(p, p.setBrightness))

	aq := p.hc.AirQuality
	accessory.HandleGet(a, aq.AirQuality, func() int { return AirQuality(p.state.Control.On, p.state.IndoorAir) })
	accessory.HandleGet(a, aq.PM10Density, func() float64 { return p.state.IndoorAir.PM10 })
	accessory.HandleGet(a, aq.PM2_5Density, func() float64 { return p.state.IndoorAir.PM25 })
	accessory.HandleGet(a, aq.VOCDensity, func() float64 { return p.state.IndoorAir.VOC })
	accessory.HandleGet(a, p.hc.Humidity.CurrentRelativeHumidity, func() float64 { return p.state.IndoorAir.Humidity })
	accessory.HandleGet(a, p.hc.Temperature.CurrentTemperature, func() float64 { return p.state.IndoorAir.Temperature })

	return p
}

func (p *Purifier) Endpoints() []iocare.Endpoint {
	return []iocare.Endpoint{iocare.DevicesControl, iocare.AirDevicesHome, iocare.AirDevicesFilterInfo}
}

// Derive rebuilds the state. The control status always applies; a failed indoor air or
// filter payload keeps the previous values of that part and is reported.
func (p *Purifier) Derive(status action.Status, r accessory.Responses) error {
	p.state.Control = ParseControl(status)

	var errs []error
	if air, err := ParseIndoorAir(r[iocare.AirDevicesHome]); err != nil {
		errs = append(errs, err)
	} else {
		p.state.IndoorAir = air
	}
	if filters, err := ParseFilters(r[iocare.AirDevicesFilterInfo]); err != nil {
		errs = append(errs, err)
	} else {
		p.state.Filters = filters
		p.addFilters()
	}
	return errors.Join(errs...)
}

func (p *Purifier) addFilters() {
	for _, f := range p.state.Filters {
		if _, ok := p.filters[f.Name]; ok || f.Name == "" {
			continue
		}
		p.filters[f.Name] = p.hc.AddFilter(f.Name)
		log.Debug().Str("device", p.acc.UUID.String()).Str("filter", f.Name).Msg("filter service added")
	}
}

func (p *Purifier) Apply() {
	c := p.state.Control

	svc := p.hc.Purifier
	svc.Active.SetValue(Active(c))
	svc.CurrentAirPurifierState.SetValue(CurrentState(c))
	svc.TargetAirPurifierState.SetValue(TargetState(c))
	svc.RotationSpeed.SetValue(RotationPercent(c))

	p.hc.Light.On.SetValue(c.On && c.LightOn)
	p.hc.Light.Brightness.SetValue(BrightnessPercent(c))

	air := p.state.IndoorAir
	p.hc.AirQuality.AirQuality.SetValue(AirQuality(c.On, air))
	p.hc.AirQuality.PM10Density.SetValue(air.PM10)
	p.hc.AirQuality.PM2_5Density.SetValue(air.PM25)
	p.hc.AirQuality.VOCDensity.SetValue(air.VOC)
	p.hc.Humidity.CurrentRelativeHumidity.SetValue(air.Humidity)
	p.hc.Temperature.CurrentTemperature.SetValue(air.Temperature)

	for _, f := range p.state.Filters {
		svc, ok := p.filters[f.Name]
		if !ok {
			continue
		}
		svc.FilterLifeLevel.SetValue(f.Percentage)
		svc.FilterChangeIndication.SetValue(FilterChange(f.Percentage))
	}
}

func (p *Purifier) State() interface{} {
	return p.state
}

func (p *Purifier) Restore(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &p.state); err != nil {
		return err
	}
	p.addFilters()
	return nil
}

func (p *Purifier) HC() *hcaccessory.Accessory {
	return p.hc.Accessory
}

func (p *Purifier) setActive(ctx context.Context, v int) error {
	c := &p.state.Control
	on := v == characteristic.ActiveActive
	if on == c.On {
		return nil
	}
	c.On = on
	if !on {
		c.LightOn = false
		c.Brightness = 0
	}
	if err := p.acc.Execute(ctx, action.Command{Field: FieldPower, Value: power(on)}); err != nil {
		return err
	}
	p.Apply()
	return nil
}

func (p *Purifier) setLight(ctx context.Context, on bool) error {
	c := &p.state.Control
	if c.LightOn == on {
		return nil
	}
	// the light comes up with the purifier
	if !c.On && on {
		return p.acc.Execute(ctx, action.Command{Field: FieldPower, Value: PowerOn})
	}
	c.LightOn = on
	return p.acc.Execute(ctx, action.Command{Field: FieldLight, Value: light(on)})
}

func (p *Purifier) setBrightness(ctx context.Context, pct int) error {
	c := &p.state.Control
	level := BrightnessLevel(pct)
	if c.Brightness == level {
		return nil
	}
	c.Brightness = level

	if level == 0 {
		c.LightOn = false
		return p.acc.Execute(ctx, action.Command{Field: FieldLight, Value: LightOff})
	}

	var cmds []action.Command
	if !c.On {
		cmds = append(cmds, action.Command{Field: FieldPower, Value: PowerOn})
		c.On = true
	}
	c.LightOn = true
	cmds = append(cmds, action.Command{Field: FieldLightBrightness, Value: strconv.Itoa(level)})
	return p.acc.Execute(ctx, cmds...)
}

func (p *Purifier) setTargetState(ctx context.Context, v int) error {
	c := &p.state.Control
	if !c.On || c.FanSpeed == FanShutdown {
		return nil
	}
	auto := v == characteristic.TargetAirPurifierStateAuto
	if auto == (c.Mode == ModeAuto) {
		return nil
	}

	if auto {
		c.Mode = ModeAuto
		return p.acc.Execute(ctx, action.Command{Field: FieldMode, Value: string(ModeAuto)})
	}

	// manual keeps the speed auto mode was running at
	cmd, err := RotationCommand(RotationSpeed(c.FanSpeed))
	if err != nil {
		log.Error().Err(err).Str("fanSpeed", string(c.FanSpeed)).Msg("cannot drive manually")
		return err
	}
	p.rotate(cmd)
	return p.acc.Execute(ctx, cmd)
}

func (p *Purifier) setRotationSpeed(ctx context.Context, pct float64) error {
	c := &p.state.Control
	speed := RotationOrdinal(pct)
	if RotationSpeed(c.FanSpeed) == speed {
		return nil
	}

	var cmds []action.Command
	if !c.On {
		cmds = append(cmds, action.Command{Field: FieldPower, Value: PowerOn})
	} else if speed == 0 {
		return nil
	}

	cmd, err := RotationCommand(speed)
	if err != nil {
		log.Error().Err(err).Str("fanSpeed", string(c.FanSpeed)).Msg("cannot set rotation speed")
		return err
	}
	c.On = true
	p.rotate(cmd)
	return p.acc.Execute(ctx, append(cmds, cmd)...)
}

// keep rolls the optimistic state change of a handler back when it fails
func keep[T any](p *Purifier, fn func(context.Context, T) error) func(context.Context, T) error {
	return func(ctx context.Context, v T) error {
		prev := p.state.Control
		err := fn(ctx, v)
		if err != nil {
			p.state.Control = prev
		}
		return err
	}
}

func (p *Purifier) rotate(cmd action.Command) {
	switch cmd.Field {
	case FieldMode:
		p.state.Control.Mode = Mode(cmd.Value)
	case FieldFanSpeed:
		// a fan speed takes the purifier out of auto
		if p.state.Control.Mode == ModeAuto {
			p.state.Control.Mode = ModeDisabled
		}
		p.state.Control.FanSpeed = FanSpeed(cmd.Value)
	}
}
