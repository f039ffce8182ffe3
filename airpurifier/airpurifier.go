// Package airpurifier derives HomeKit state for Coway MARVEL air purifiers from the
// control status, indoor air and filter payloads, and turns characteristic writes
// into control commands.
package airpurifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/cloudkucooland/cowaybridge/action"
	"github.com/cloudkucooland/cowaybridge/iocare"

	"github.com/brutella/hc/characteristic"
)

// TypeCode is the IoCare device type of air purifiers
const TypeCode = "004"

const (
	FieldPower           action.Field = "0001"
	FieldMode            action.Field = "0002"
	FieldFanSpeed        action.Field = "0003"
	FieldLight           action.Field = "0007"
	FieldAirQuality      action.Field = "002F"
	FieldLightBrightness action.Field = "0031"
)

const (
	PowerOn  = "1"
	PowerOff = "0"
	LightOn  = "0"
	LightOff = "3"
)

type Mode string

const (
	ModeDisabled Mode = "0"
	ModeAuto     Mode = "1"
	ModeSilent   Mode = "2"
	ModeTurbo    Mode = "5"
	ModeMyPet    Mode = "9"
)

type FanSpeed string

const (
	FanMinimum  FanSpeed = "0"
	FanWeak     FanSpeed = "1"
	FanMedium   FanSpeed = "2"
	FanStrong   FanSpeed = "3"
	FanTurbo    FanSpeed = "5"
	FanMyPet    FanSpeed = "6"
	FanShutdown FanSpeed = "99"
)

// fan speeds in rotation order, position+1 is the rotation ordinal
var fanSpeeds = []FanSpeed{FanMinimum, FanWeak, FanMedium, FanStrong, FanTurbo, FanMyPet}

const (
	// BrightnessUnit is the percentage of one light level, levels run 0 to 3
	BrightnessUnit = 100.0 / 3
	// RotationUnit is the percentage of one rotation ordinal, ordinals run 0 to 6
	RotationUnit = 100.0 / 6
	// FilterChangeThreshold is the remaining percentage at which a filter wants changing
	FilterChangeThreshold = 20
)

// ErrInvalidRotationSpeed is returned for a rotation ordinal with no command
var ErrInvalidRotationSpeed = errors.New("airpurifier: invalid rotation speed")

// ControlInfo is the typed control status
type ControlInfo struct {
	On         bool     `json:"on"`
	LightOn    bool     `json:"lightOn"`
	Brightness int      `json:"brightness"`
	AirQuality int      `json:"airQuality"`
	Mode       Mode     `json:"mode"`
	FanSpeed   FanSpeed `json:"fanSpeed"`
}

// IndoorAir is the first indoor air reading of the home payload
type IndoorAir struct {
	Humidity    float64 `json:"humidity"`
	PM25        float64 `json:"pm25Density"`
	PM10        float64 `json:"pm10Density"`
	Temperature float64 `json:"temperature"`
	VOC         float64 `json:"vocDensity"`
}

type Filter struct {
	Name       string  `json:"filterName"`
	Code       string  `json:"filterCode"`
	Percentage float64 `json:"filterPer"`
}

// State is everything derived for one purifier, persisted with the accessory
type State struct {
	Control   ControlInfo `json:"controlInfo"`
	IndoorAir IndoorAir   `json:"indoorAirQuality"`
	Filters   []Filter    `json:"filterInfos"`
}

// ParseControl reads the control status, already overlaid with pending commands
func ParseControl(s action.Status) ControlInfo {
	return ControlInfo{
		On:         s[FieldPower] == PowerOn,
		LightOn:    s[FieldLight] == LightOn,
		Brightness: atoi(s[FieldLightBrightness]),
		AirQuality: atoi(s[FieldAirQuality]),
		Mode:       Mode(s[FieldMode]),
		FanSpeed:   FanSpeed(s[FieldFanSpeed]),
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// number accepts both 12.5 and "12.5"; an empty string is 0
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		b = []byte(s)
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", b)
	}
	*n = number(v)
	return nil
}

type homePayload struct {
	IAQ []struct {
		Humidity    number `json:"humidity"`
		DustPM25    number `json:"dustpm25"`
		DustPM10    number `json:"dustpm10"`
		Temperature number `json:"temperature"`
		VOCs        number `json:"vocs"`
	} `json:"IAQ"`
}

// ParseIndoorAir reads IAQ[0] from the air home response
func ParseIndoorAir(r *iocare.Response) (IndoorAir, error) {
	var p homePayload
	if err := r.Decode(&p); err != nil {
		return IndoorAir{}, fmt.Errorf("indoor air: %w", err)
	}
	if len(p.IAQ) == 0 {
		return IndoorAir{}, errors.New("indoor air: no reading")
	}
	q := p.IAQ[0]
	return IndoorAir{
		Humidity:    float64(q.Humidity),
		PM25:        float64(q.DustPM25),
		PM10:        float64(q.DustPM10),
		Temperature: float64(q.Temperature),
		VOC:         float64(q.VOCs),
	}, nil
}

type filterPayload struct {
	FilterList []struct {
		Name       string `json:"filterName"`
		Code       string `json:"filterCode"`
		Percentage number `json:"filterPer"`
	} `json:"filterList"`
}

// ParseFilters reads the filter list from the filter info response
func ParseFilters(r *iocare.Response) ([]Filter, error) {
	var p filterPayload
	if err := r.Decode(&p); err != nil {
		return nil, fmt.Errorf("filters: %w", err)
	}
	out := make([]Filter, 0, len(p.FilterList))
	for _, f := range p.FilterList {
		out = append(out, Filter{Name: f.Name, Code: f.Code, Percentage: float64(f.Percentage)})
	}
	return out, nil
}

// RotationSpeed is the rotation ordinal of a fan speed: 1 to 6, 0 for shutdown or unknown
func RotationSpeed(f FanSpeed) int {
	for i, s := range fanSpeeds {
		if s == f {
			return i + 1
		}
	}
	return 0
}

// RotationCommand is the command which drives the purifier at a rotation ordinal
func RotationCommand(speed int) (action.Command, error) {
	switch speed {
	case 1:
		return action.Command{Field: FieldMode, Value: string(ModeSilent)}, nil
	case 2:
		return action.Command{Field: FieldFanSpeed, Value: string(FanWeak)}, nil
	case 3:
		return action.Command{Field: FieldFanSpeed, Value: string(FanMedium)}, nil
	case 4:
		return action.Command{Field: FieldFanSpeed, Value: string(FanStrong)}, nil
	case 5:
		return action.Command{Field: FieldMode, Value: string(ModeTurbo)}, nil
	case 6:
		return action.Command{Field: FieldMode, Value: string(ModeMyPet)}, nil
	}
	return action.Command{}, fmt.Errorf("%w: %d", ErrInvalidRotationSpeed, speed)
}

// RotationPercent is the rotation speed characteristic value
func RotationPercent(c ControlInfo) float64 {
	return float64(RotationSpeed(c.FanSpeed)) * RotationUnit
}

// BrightnessPercent is the light brightness characteristic value, 0 while off
func BrightnessPercent(c ControlInfo) int {
	if !c.On {
		return 0
	}
	return int(math.Round(float64(c.Brightness) * BrightnessUnit))
}

// BrightnessLevel converts a brightness percentage back to a light level
func BrightnessLevel(pct int) int {
	return int(math.Round(float64(pct) / BrightnessUnit))
}

// RotationOrdinal converts a rotation speed percentage back to an ordinal
func RotationOrdinal(pct float64) int {
	return int(math.Round(pct / RotationUnit))
}

func pm10Band(v float64) int {
	switch {
	case v < 0:
		return characteristic.AirQualityUnknown
	case v <= 10:
		return characteristic.AirQualityExcellent
	case v <= 30:
		return characteristic.AirQualityGood
	case v <= 80:
		return characteristic.AirQualityFair
	case v <= 150:
		return characteristic.AirQualityInferior
	}
	return characteristic.AirQualityPoor
}

func pm25Band(v float64) int {
	switch {
	case v < 0:
		return characteristic.AirQualityUnknown
	case v <= 5:
		return characteristic.AirQualityExcellent
	case v <= 15:
		return characteristic.AirQualityGood
	case v <= 35:
		return characteristic.AirQualityFair
	case v <= 75:
		return characteristic.AirQualityInferior
	}
	return characteristic.AirQualityPoor
}

// AirQuality is the worse of the PM10 and PM2.5 bands, unknown while the purifier is off
func AirQuality(on bool, air IndoorAir) int {
	if !on {
		return characteristic.AirQualityUnknown
	}
	pm10, pm25 := pm10Band(air.PM10), pm25Band(air.PM25)
	if pm25 > pm10 {
		return pm25
	}
	return pm10
}

func CurrentState(c ControlInfo) int {
	switch {
	case !c.On:
		return characteristic.CurrentAirPurifierStateInactive
	case c.Mode == ModeSilent:
		return characteristic.CurrentAirPurifierStateIdle
	}
	return characteristic.CurrentAirPurifierStatePurifyingAir
}

func TargetState(c ControlInfo) int {
	if c.Mode == ModeAuto {
		return characteristic.TargetAirPurifierStateAuto
	}
	return characteristic.TargetAirPurifierStateManual
}

func Active(c ControlInfo) int {
	if c.On {
		return characteristic.ActiveActive
	}
	return characteristic.ActiveInactive
}

// FilterChange is the change indication for a remaining percentage
func FilterChange(pct float64) int {
	if pct <= FilterChangeThreshold {
		return characteristic.FilterChangeIndicationChangeFilter
	}
	return characteristic.FilterChangeIndicationFilterOK
}

func power(on bool) string {
	if on {
		return PowerOn
	}
	return PowerOff
}

func light(on bool) string {
	if on {
		return LightOn
	}
	return LightOff
}
