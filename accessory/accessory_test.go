package accessory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/cloudkucooland/cowaybridge/action"
	"github.com/cloudkucooland/cowaybridge/iocare"

	hcaccessory "github.com/brutella/hc/accessory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	gets     []iocare.Endpoint
	controls [][]action.Command
	byPath   map[string]*iocare.Response
	ctrlErr  error
}

func (s *fakeSession) Get(_ context.Context, ep iocare.Endpoint, _ map[string]string) *iocare.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets = append(s.gets, ep)
	if r, ok := s.byPath[ep.Path]; ok {
		return r
	}
	return &iocare.Response{Endpoint: ep, Err: iocare.ErrNoData}
}

func (s *fakeSession) Control(_ context.Context, _ iocare.Device, cmds []action.Command) *iocare.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, cmds)
	return &iocare.Response{Err: s.ctrlErr}
}

type fakeState struct {
	Power string `json:"power"`
}

type fakeVariant struct {
	derived action.Status
	derives int
	applied int
	panics  bool
	state   fakeState
}

func (v *fakeVariant) Endpoints() []iocare.Endpoint {
	return []iocare.Endpoint{iocare.DevicesControl, iocare.AirDevicesHome}
}

func (v *fakeVariant) Derive(status action.Status, _ Responses) error {
	v.derives++
	if v.panics {
		var m map[string]int
		m["boom"] = 1
	}
	v.derived = status.Clone()
	v.state.Power = status["0001"]
	return nil
}

func (v *fakeVariant) Apply()                           { v.applied++ }
func (v *fakeVariant) State() interface{}               { return v.state }
func (v *fakeVariant) Restore(raw json.RawMessage) error { return json.Unmarshal(raw, &v.state) }
func (v *fakeVariant) HC() *hcaccessory.Accessory       { return nil }

var testDevice = iocare.Device{
	Barcode:     "B1",
	BrandCode:   "MG",
	TypeCode:    "004",
	ProductName: "AIRMEGA",
	Model:       "AP-1512HHS",
	OrderNo:     "ORD1",
}

func newTestAccessory(s *fakeSession) (*Accessory, *fakeVariant) {
	v := &fakeVariant{}
	a := New(testDevice, s, func(*Accessory) Variant { return v }, Options{})
	return a, v
}

func control(status string, online bool) *iocare.Response {
	net := "false"
	if online {
		net = "true"
	}
	return &iocare.Response{Data: json.RawMessage(`{"controlStatus":` + status + `,"netStatus":` + net + `}`)}
}

func responses(ctrl *iocare.Response) Responses {
	return Responses{
		iocare.DevicesControl: ctrl,
		iocare.AirDevicesHome: {Data: json.RawMessage(`{}`)},
	}
}

func TestZipRejectsCountMismatch(t *testing.T) {
	a, _ := newTestAccessory(&fakeSession{})

	r, err := a.Zip([]*iocare.Response{{}})
	assert.ErrorIs(t, err, ErrEndpointMismatch)
	assert.Nil(t, r)

	r, err = a.Zip([]*iocare.Response{{Status: 1}, {Status: 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, r[iocare.DevicesControl].Status)
	assert.Equal(t, 2, r[iocare.AirDevicesHome].Status)
}

func TestRefreshOverlaysPendingCommands(t *testing.T) {
	s := &fakeSession{}
	a, v := newTestAccessory(s)
	a.Refresh(responses(control(`{"0001":"0","0002":"1"}`, true)))
	require.True(t, a.Connected())

	err := a.Set(func(ctx context.Context) error {
		return a.Execute(ctx, action.Commands("0001", "1")...)
	})
	require.NoError(t, err)
	require.Len(t, s.controls, 1)

	a.Refresh(responses(control(`{"0001":"0","0002":"1"}`, true)))
	assert.Equal(t, "1", v.derived["0001"])
	assert.Equal(t, "1", v.derived["0002"])
	require.Len(t, a.Pending(), 1)
	assert.Equal(t, 1, a.Pending()[0].Skips)

	a.Refresh(responses(control(`{"0001":"1","0002":"1"}`, true)))
	assert.Empty(t, a.Pending())
}

func TestOfflineDeviceIsGated(t *testing.T) {
	s := &fakeSession{}
	a, v := newTestAccessory(s)
	a.Refresh(responses(control(`{"0001":"1"}`, false)))
	assert.False(t, a.Connected())
	assert.Equal(t, 1, v.derives)
	assert.Zero(t, v.applied)

	called := false
	err := a.Set(func(ctx context.Context) error {
		called = true
		return a.Execute(ctx, action.Commands("0001", "0")...)
	})
	assert.ErrorIs(t, err, ErrCommunicationFailure)
	assert.False(t, called)
	assert.Empty(t, s.controls)

	assert.ErrorIs(t, a.Get(func() { called = true }), ErrCommunicationFailure)
	assert.False(t, called)
}

func TestMissingControlResponseDisconnects(t *testing.T) {
	a, v := newTestAccessory(&fakeSession{})
	a.Refresh(responses(control(`{"0001":"1"}`, true)))
	require.True(t, a.Connected())

	a.Refresh(responses(&iocare.Response{Err: errors.New("timeout")}))
	assert.False(t, a.Connected())
	assert.Equal(t, 1, v.derives)

	a.Refresh(responses(&iocare.Response{Data: json.RawMessage(`{"netStatus":true}`)}))
	assert.False(t, a.Connected())
}

func TestDerivationPanicIsContained(t *testing.T) {
	a, v := newTestAccessory(&fakeSession{})
	v.panics = true

	assert.NotPanics(t, func() {
		a.Refresh(responses(control(`{"0001":"1"}`, true)))
	})
	assert.True(t, a.Connected())
	assert.Equal(t, 1, v.applied)
}

func TestFailedControlRevertsCharacteristics(t *testing.T) {
	s := &fakeSession{ctrlErr: &iocare.StatusError{Status: 500}}
	a, v := newTestAccessory(s)
	a.Refresh(responses(control(`{"0001":"1"}`, true)))
	applied := v.applied

	err := a.Set(func(ctx context.Context) error {
		return a.Execute(ctx, action.Commands("0001", "0")...)
	})
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, applied+1, v.applied)
}

func TestEmptyControlAnswerIsSuccess(t *testing.T) {
	s := &fakeSession{ctrlErr: iocare.ErrNoData}
	a, _ := newTestAccessory(s)
	a.Refresh(responses(control(`{}`, true)))

	err := a.Set(func(ctx context.Context) error {
		return a.Execute(ctx, action.Commands("0007", "3")...)
	})
	assert.NoError(t, err)
}

func TestRequestParams(t *testing.T) {
	a, _ := newTestAccessory(&fakeSession{})

	p := a.RequestParams(iocare.DevicesControl)
	assert.Equal(t, map[string]string{
		"devId":      "B1",
		"mqttDevice": "true",
		"dvcBrandCd": "MG",
		"dvcTypeCd":  "004",
		"prodName":   "AIRMEGA",
	}, p)

	p = a.RequestParams(iocare.AirDevicesFilterInfo)
	assert.Equal(t, "ORD1", p["orderNo"])
	assert.Equal(t, "B1", p["devId"])

	p = a.RequestParams(iocare.AirDevicesHome)
	assert.Equal(t, "B1", p["barcode"])
	assert.Equal(t, "004", p["deviceType"])

	assert.Nil(t, a.RequestParams(iocare.TokenEndpoint))
}

func TestRetrieveDeviceState(t *testing.T) {
	s := &fakeSession{}
	a, _ := newTestAccessory(s)

	a.RetrieveDeviceState(context.Background(), iocare.AirDevicesHome)
	require.Len(t, s.gets, 1)
	assert.Equal(t, "/air/devices/B1/home", s.gets[0].Path)
	assert.Equal(t, "CWIA0120", s.gets[0].Code)

	r := a.RetrieveDeviceState(context.Background(), iocare.UserDevicesEndpoint)
	assert.ErrorIs(t, r.Err, ErrUnknownEndpoint)
	assert.Len(t, s.gets, 1)
}

func TestConfigure(t *testing.T) {
	s := &fakeSession{byPath: map[string]*iocare.Response{
		"/com/devices/B1/control": control(`{"0001":"1"}`, true),
		"/air/devices/B1/home":    {Data: json.RawMessage(`{}`)},
	}}
	a, v := newTestAccessory(s)
	assert.False(t, a.Configured())

	require.NoError(t, a.Configure(context.Background()))
	assert.True(t, a.Configured())
	assert.True(t, a.Connected())
	assert.Equal(t, "1", v.state.Power)
	assert.Len(t, s.gets, 2)
}

func TestContextRoundTrip(t *testing.T) {
	a, _ := newTestAccessory(&fakeSession{})
	a.Refresh(responses(control(`{"0001":"1"}`, true)))
	a.configured = true

	c, err := a.Context()
	require.NoError(t, err)
	assert.Equal(t, "004", c.DeviceType)
	assert.True(t, c.Configured)
	assert.False(t, c.Init)

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	var back Context
	require.NoError(t, json.Unmarshal(raw, &back))

	v := &fakeVariant{}
	b, err := Restore(back, &fakeSession{}, func(*Accessory) Variant { return v }, Options{})
	require.NoError(t, err)
	assert.Equal(t, a.UUID, b.UUID)
	assert.False(t, b.Configured())
	assert.False(t, b.Connected())
	assert.Equal(t, "1", v.state.Power)
	assert.Equal(t, "AP-1512HHS", b.Device().Model)
}

func TestIDIsStable(t *testing.T) {
	assert.Equal(t, ID("B1"), ID("B1"))
	assert.NotEqual(t, ID("B1"), ID("B2"))

	a, _ := newTestAccessory(&fakeSession{})
	info := a.Info()
	assert.Equal(t, "Coway Co.,Ltd.", info.Manufacturer)
	assert.Equal(t, "B1", info.SerialNumber)
	assert.Greater(t, info.ID, uint64(1))
}
