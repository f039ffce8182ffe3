package iocare

import (
	"strings"
)

// Endpoint is one IoCare API operation: a path plus the opaque transaction code
// which the API expects in the trcode header
type Endpoint struct {
	Path string
	Code string
}

// account level endpoints
var (
	TokenEndpoint             = Endpoint{Path: "/com/token", Code: "CWCC0009"}
	RefreshTokenEndpoint      = Endpoint{Path: "/com/refresh-token", Code: "CWCC0010"}
	UserDevicesEndpoint       = Endpoint{Path: "/com/user-devices", Code: "CWIG0304"}
	DeviceConnectionsEndpoint = Endpoint{Path: "/com/devices-conn", Code: "CWIG0607"}
	ControlDeviceEndpoint     = Endpoint{Path: "/com/control-device", Code: "CWIG0603"}
)

// per device endpoints, {deviceId} is replaced by the barcode
var (
	DevicesControl       = Endpoint{Path: "/com/devices/{deviceId}/control", Code: "CWIG0602"}
	AirDevicesHome       = Endpoint{Path: "/air/devices/{deviceId}/home", Code: "CWIA0120"}
	AirDevicesFilterInfo = Endpoint{Path: "/air/devices/{deviceId}/filter-info", Code: "CWIA0500"}
)

// For substitutes the device id into the path
func (e Endpoint) For(deviceID string) Endpoint {
	return Endpoint{Path: strings.ReplaceAll(e.Path, "{deviceId}", deviceID), Code: e.Code}
}

func (e Endpoint) String() string {
	return e.Path + "::" + e.Code
}
