package airpurifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cloudkucooland/cowaybridge/accessory"
	"github.com/cloudkucooland/cowaybridge/action"
	"github.com/cloudkucooland/cowaybridge/iocare"

	"github.com/brutella/hc/characteristic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseControl(t *testing.T) {
	c := ParseControl(action.Status{
		FieldPower:           "1",
		FieldMode:            "1",
		FieldFanSpeed:        "2",
		FieldLight:           "0",
		FieldAirQuality:      "2",
		FieldLightBrightness: "3",
	})
	assert.Equal(t, ControlInfo{On: true, LightOn: true, Brightness: 3, AirQuality: 2, Mode: ModeAuto, FanSpeed: FanMedium}, c)

	c = ParseControl(action.Status{FieldPower: "0", FieldLight: "3", FieldLightBrightness: "x"})
	assert.False(t, c.On)
	assert.False(t, c.LightOn)
	assert.Zero(t, c.Brightness)
}

func TestRotation(t *testing.T) {
	speeds := []struct {
		fan  FanSpeed
		want int
	}{
		{FanMinimum, 1},
		{FanWeak, 2},
		{FanMedium, 3},
		{FanStrong, 4},
		{FanTurbo, 5},
		{FanMyPet, 6},
		{FanShutdown, 0},
		{"", 0},
		{"42", 0},
	}
	for _, tt := range speeds {
		assert.Equal(t, tt.want, RotationSpeed(tt.fan), "fan speed %q", tt.fan)
	}

	commands := []struct {
		speed int
		want  action.Command
	}{
		{1, action.Command{Field: FieldMode, Value: "2"}},
		{2, action.Command{Field: FieldFanSpeed, Value: "1"}},
		{3, action.Command{Field: FieldFanSpeed, Value: "2"}},
		{4, action.Command{Field: FieldFanSpeed, Value: "3"}},
		{5, action.Command{Field: FieldMode, Value: "5"}},
		{6, action.Command{Field: FieldMode, Value: "9"}},
	}
	for _, tt := range commands {
		cmd, err := RotationCommand(tt.speed)
		require.NoError(t, err)
		assert.Equal(t, tt.want, cmd)
	}
	for _, bad := range []int{-1, 0, 7, 99} {
		_, err := RotationCommand(bad)
		assert.ErrorIs(t, err, ErrInvalidRotationSpeed)
	}

	assert.InDelta(t, 50.0, RotationPercent(ControlInfo{FanSpeed: FanMedium}), 0.001)
	assert.Equal(t, 3, RotationOrdinal(50))
	assert.Equal(t, 6, RotationOrdinal(100))
}

func TestBrightness(t *testing.T) {
	assert.Equal(t, 67, BrightnessPercent(ControlInfo{On: true, Brightness: 2}))
	assert.Equal(t, 0, BrightnessPercent(ControlInfo{On: false, Brightness: 2}))
	assert.Equal(t, 100, BrightnessPercent(ControlInfo{On: true, Brightness: 3}))
	assert.Equal(t, 2, BrightnessLevel(67))
	assert.Equal(t, 1, BrightnessLevel(20))
	assert.Equal(t, 0, BrightnessLevel(10))
}

func TestAirQuality(t *testing.T) {
	tests := []struct {
		name string
		on   bool
		air  IndoorAir
		want int
	}{
		{"off", false, IndoorAir{PM10: 5, PM25: 2}, characteristic.AirQualityUnknown},
		{"excellent", true, IndoorAir{PM10: 10, PM25: 5}, characteristic.AirQualityExcellent},
		{"pm25 worse", true, IndoorAir{PM10: 10, PM25: 30}, characteristic.AirQualityFair},
		{"pm10 worse", true, IndoorAir{PM10: 151, PM25: 1}, characteristic.AirQualityPoor},
		{"pm10 unknown", true, IndoorAir{PM10: -1, PM25: 12}, characteristic.AirQualityGood},
		{"both unknown", true, IndoorAir{PM10: -1, PM25: -1}, characteristic.AirQualityUnknown},
		{"inferior", true, IndoorAir{PM10: 100, PM25: 70}, characteristic.AirQualityInferior},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AirQuality(tt.on, tt.air))
		})
	}
}

func TestStates(t *testing.T) {
	assert.Equal(t, characteristic.CurrentAirPurifierStateInactive, CurrentState(ControlInfo{Mode: ModeSilent}))
	assert.Equal(t, characteristic.CurrentAirPurifierStateIdle, CurrentState(ControlInfo{On: true, Mode: ModeSilent}))
	assert.Equal(t, characteristic.CurrentAirPurifierStatePurifyingAir, CurrentState(ControlInfo{On: true, Mode: ModeTurbo}))
	assert.Equal(t, characteristic.TargetAirPurifierStateAuto, TargetState(ControlInfo{Mode: ModeAuto}))
	assert.Equal(t, characteristic.TargetAirPurifierStateManual, TargetState(ControlInfo{Mode: ModeMyPet}))
	assert.Equal(t, characteristic.FilterChangeIndicationChangeFilter, FilterChange(20))
	assert.Equal(t, characteristic.FilterChangeIndicationFilterOK, FilterChange(21))
}

func TestParsePayloads(t *testing.T) {
	air, err := ParseIndoorAir(&iocare.Response{Data: json.RawMessage(
		`{"IAQ":[{"humidity":"41","dustpm25":"7","dustpm10":12,"temperature":"22.5","vocs":""}]}`)})
	require.NoError(t, err)
	assert.Equal(t, IndoorAir{Humidity: 41, PM25: 7, PM10: 12, Temperature: 22.5}, air)

	_, err = ParseIndoorAir(&iocare.Response{Data: json.RawMessage(`{"IAQ":[]}`)})
	assert.Error(t, err)
	_, err = ParseIndoorAir(&iocare.Response{Err: iocare.ErrNoData})
	assert.ErrorIs(t, err, iocare.ErrNoData)

	filters, err := ParseFilters(&iocare.Response{Data: json.RawMessage(
		`{"filterList":[{"filterName":"Pre-Filter","filterCode":"3-00-0","filterPer":15},{"filterName":"Max2","filterCode":"3-01-0","filterPer":"80"}]}`)})
	require.NoError(t, err)
	assert.Equal(t, []Filter{{"Pre-Filter", "3-00-0", 15}, {"Max2", "3-01-0", 80}}, filters)
}

type fakeSession struct {
	sent [][]action.Command
}

func (s *fakeSession) Get(_ context.Context, ep iocare.Endpoint, _ map[string]string) *iocare.Response {
	return &iocare.Response{Endpoint: ep, Err: errors.New("not wired")}
}

func (s *fakeSession) Control(_ context.Context, _ iocare.Device, cmds []action.Command) *iocare.Response {
	s.sent = append(s.sent, cmds)
	return &iocare.Response{Data: json.RawMessage(`{}`)}
}

func (s *fakeSession) last() []action.Command {
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

const (
	home    = `{"IAQ":[{"humidity":"40","dustpm25":"4","dustpm10":"9","temperature":"21","vocs":"1"}]}`
	filters = `{"filterList":[{"filterName":"Pre-Filter","filterCode":"3-00-0","filterPer":15}]}`
)

func newPurifier(t *testing.T, status string) (*accessory.Accessory, *Purifier, *fakeSession) {
	t.Helper()
	s := &fakeSession{}
	var p *Purifier
	a := accessory.New(iocare.Device{Barcode: "AP1", TypeCode: TypeCode, ProductName: "AIRMEGA"}, s,
		func(a *accessory.Accessory) accessory.Variant {
			v := New(a)
			p = v.(*Purifier)
			return v
		}, accessory.Options{})
	a.Refresh(poll(status))
	require.True(t, a.Connected())
	return a, p, s
}

func poll(status string) accessory.Responses {
	return accessory.Responses{
		iocare.DevicesControl:       {Data: json.RawMessage(`{"controlStatus":` + status + `,"netStatus":true}`)},
		iocare.AirDevicesHome:       {Data: json.RawMessage(home)},
		iocare.AirDevicesFilterInfo: {Data: json.RawMessage(filters)},
	}
}

func set[T any](a *accessory.Accessory, p *Purifier, fn func(context.Context, T) error, v T) error {
	return a.Set(func(ctx context.Context) error { return keep(p, fn)(ctx, v) })
}

const running = `{"0001":"1","0002":"1","0003":"2","0007":"0","0031":"2","002F":"1"}`

func TestDeriveAndApply(t *testing.T) {
	_, p, _ := newPurifier(t, running)

	assert.True(t, p.state.Control.On)
	assert.Equal(t, 9.0, p.state.IndoorAir.PM10)
	require.Len(t, p.hc.Filters, 1)
	assert.Equal(t, "Pre-Filter", p.hc.Filters[0].Name.GetValue())

	assert.Equal(t, characteristic.ActiveActive, p.hc.Purifier.Active.Value)
	assert.Equal(t, characteristic.TargetAirPurifierStateAuto, p.hc.Purifier.TargetAirPurifierState.Value)
	assert.Equal(t, characteristic.AirQualityExcellent, p.hc.AirQuality.AirQuality.Value)
	assert.Equal(t, characteristic.FilterChangeIndicationChangeFilter, p.hc.Filters[0].FilterChangeIndication.Value)
}

func TestDeriveKeepsIndoorAirOnFailure(t *testing.T) {
	_, p, _ := newPurifier(t, running)

	r := poll(`{"0001":"0"}`)
	r[iocare.AirDevicesHome] = &iocare.Response{Err: iocare.ErrNoData}
	err := p.Derive(action.Status{FieldPower: "0"}, r)
	assert.Error(t, err)
	assert.False(t, p.state.Control.On)
	assert.Equal(t, 40.0, p.state.IndoorAir.Humidity)
}

func TestSetActive(t *testing.T) {
	a, p, s := newPurifier(t, running)

	require.NoError(t, set(a, p, p.setActive, characteristic.ActiveInactive))
	assert.Equal(t, action.Commands("0001", "0"), s.last())
	assert.False(t, p.state.Control.LightOn)
	assert.Zero(t, p.state.Control.Brightness)

	require.NoError(t, set(a, p, p.setActive, characteristic.ActiveInactive))
	assert.Len(t, s.sent, 1)

	// the device has not caught up yet, the pending command wins
	a.Refresh(poll(running))
	assert.False(t, p.state.Control.On)
}

func TestSetLight(t *testing.T) {
	a, p, s := newPurifier(t, `{"0001":"0","0007":"3"}`)
	require.NoError(t, set(a, p, p.setLight, true))
	assert.Equal(t, action.Commands("0001", "1"), s.last())

	a, p, s = newPurifier(t, running)
	require.NoError(t, set(a, p, p.setLight, false))
	assert.Equal(t, action.Commands("0007", "3"), s.last())
	require.NoError(t, set(a, p, p.setLight, false))
	assert.Len(t, s.sent, 1)
}

func TestSetBrightness(t *testing.T) {
	a, p, s := newPurifier(t, running)
	require.NoError(t, set(a, p, p.setBrightness, 0))
	assert.Equal(t, action.Commands("0007", "3"), s.last())

	a, p, s = newPurifier(t, `{"0001":"0","0031":"0"}`)
	require.NoError(t, set(a, p, p.setBrightness, 67))
	assert.Equal(t, action.Commands("0001", "1", "0031", "2"), s.last())
}

func TestSetTargetState(t *testing.T) {
	a, p, s := newPurifier(t, `{"0001":"0","0002":"1","0003":"2"}`)
	require.NoError(t, set(a, p, p.setTargetState, characteristic.TargetAirPurifierStateManual))
	assert.Empty(t, s.sent)

	a, p, s = newPurifier(t, running)
	require.NoError(t, set(a, p, p.setTargetState, characteristic.TargetAirPurifierStateManual))
	assert.Equal(t, action.Commands("0003", "2"), s.last())

	require.NoError(t, set(a, p, p.setTargetState, characteristic.TargetAirPurifierStateAuto))
	assert.Equal(t, action.Commands("0002", "1"), s.last())

	a, p, s = newPurifier(t, `{"0001":"1","0002":"1","0003":"99"}`)
	require.NoError(t, set(a, p, p.setTargetState, characteristic.TargetAirPurifierStateManual))
	assert.Empty(t, s.sent)
}

func TestSetRotationSpeed(t *testing.T) {
	a, p, s := newPurifier(t, running)

	require.NoError(t, set(a, p, p.setRotationSpeed, 100.0))
	assert.Equal(t, action.Commands("0002", "9"), s.last())

	require.NoError(t, set(a, p, p.setRotationSpeed, 0.0))
	assert.Len(t, s.sent, 1)

	a, p, s = newPurifier(t, `{"0001":"0","0003":"99"}`)
	require.NoError(t, set(a, p, p.setRotationSpeed, 66.7))
	assert.Equal(t, action.Commands("0001", "1", "0003", "3"), s.last())
	assert.True(t, p.state.Control.On)

	a, p, s = newPurifier(t, `{"0001":"0","0003":"1"}`)
	err := set(a, p, p.setRotationSpeed, 0.0)
	assert.ErrorIs(t, err, ErrInvalidRotationSpeed)
	assert.Empty(t, s.sent)
	assert.False(t, p.state.Control.On)
}

func TestStateRoundTrip(t *testing.T) {
	a, _, _ := newPurifier(t, running)
	c, err := a.Context()
	require.NoError(t, err)

	var p *Purifier
	b, err := accessory.Restore(c, &fakeSession{}, func(a *accessory.Accessory) accessory.Variant {
		v := New(a)
		p = v.(*Purifier)
		return v
	}, accessory.Options{})
	require.NoError(t, err)
	assert.False(t, b.Configured())
	assert.Equal(t, ModeAuto, p.state.Control.Mode)
	assert.Len(t, p.hc.Filters, 1)
}
