package devices

import (
	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
)

// AirPurifier is a Coway air purifier: the purifier itself, its mood light,
// the indoor air sensors and one maintenance service per filter
type AirPurifier struct {
	*accessory.Accessory

	Purifier    *AirPurifierSvc
	Light       *PurifierLightSvc
	AirQuality  *AirQualitySvc
	Humidity    *HumiditySvc
	Temperature *TemperatureSvc
	Filters     []*FilterSvc
}

func NewAirPurifier(info accessory.Info) *AirPurifier {
	acc := AirPurifier{}
	acc.Accessory = accessory.New(info, accessory.TypeAirPurifier)

	acc.Purifier = NewAirPurifierSvc()
	acc.AddService(acc.Purifier.Service)

	acc.Light = NewPurifierLightSvc()
	acc.AddService(acc.Light.Service)

	acc.AirQuality = NewAirQualitySvc()
	acc.AddService(acc.AirQuality.Service)

	acc.Humidity = NewHumiditySvc()
	acc.AddService(acc.Humidity.Service)

	acc.Temperature = NewTemperatureSvc()
	acc.AddService(acc.Temperature.Service)

	return &acc
}

// AddFilter adds a maintenance service for one filter
func (a *AirPurifier) AddFilter(name string) *FilterSvc {
	f := NewFilterSvc(name)
	a.Filters = append(a.Filters, f)
	a.AddService(f.Service)
	return f
}

type AirPurifierSvc struct {
	*service.Service

	Active                  *characteristic.Active
	CurrentAirPurifierState *characteristic.CurrentAirPurifierState
	TargetAirPurifierState  *characteristic.TargetAirPurifierState
	RotationSpeed           *characteristic.RotationSpeed
	StatusFault             *characteristic.StatusFault
}

func NewAirPurifierSvc() *AirPurifierSvc {
	svc := AirPurifierSvc{}
	svc.Service = service.New(service.TypeAirPurifier)

	svc.Active = characteristic.NewActive()
	svc.AddCharacteristic(svc.Active.Characteristic)

	svc.CurrentAirPurifierState = characteristic.NewCurrentAirPurifierState()
	svc.AddCharacteristic(svc.CurrentAirPurifierState.Characteristic)

	svc.TargetAirPurifierState = characteristic.NewTargetAirPurifierState()
	svc.AddCharacteristic(svc.TargetAirPurifierState.Characteristic)

	svc.RotationSpeed = characteristic.NewRotationSpeed()
	svc.AddCharacteristic(svc.RotationSpeed.Characteristic)

	svc.StatusFault = characteristic.NewStatusFault()
	svc.StatusFault.SetValue(characteristic.StatusFaultNoFault)
	svc.AddCharacteristic(svc.StatusFault.Characteristic)

	return &svc
}

type PurifierLightSvc struct {
	*service.Service

	On         *characteristic.On
	Brightness *characteristic.Brightness
}

func NewPurifierLightSvc() *PurifierLightSvc {
	svc := PurifierLightSvc{}
	svc.Service = service.New(service.TypeLightbulb)

	svc.On = characteristic.NewOn()
	svc.AddCharacteristic(svc.On.Characteristic)

	svc.Brightness = characteristic.NewBrightness()
	svc.AddCharacteristic(svc.Brightness.Characteristic)

	return &svc
}

type AirQualitySvc struct {
	*service.Service

	AirQuality   *characteristic.AirQuality
	PM10Density  *characteristic.PM10Density
	PM2_5Density *characteristic.PM2_5Density
	VOCDensity   *characteristic.VOCDensity
}

func NewAirQualitySvc() *AirQualitySvc {
	svc := AirQualitySvc{}
	svc.Service = service.New(service.TypeAirQualitySensor)

	svc.AirQuality = characteristic.NewAirQuality()
	svc.AddCharacteristic(svc.AirQuality.Characteristic)

	svc.PM10Density = characteristic.NewPM10Density()
	svc.AddCharacteristic(svc.PM10Density.Characteristic)

	svc.PM2_5Density = characteristic.NewPM2_5Density()
	svc.AddCharacteristic(svc.PM2_5Density.Characteristic)

	svc.VOCDensity = characteristic.NewVOCDensity()
	svc.AddCharacteristic(svc.VOCDensity.Characteristic)

	return &svc
}

type HumiditySvc struct {
	*service.Service

	CurrentRelativeHumidity *characteristic.CurrentRelativeHumidity
}

func NewHumiditySvc() *HumiditySvc {
	svc := HumiditySvc{}
	svc.Service = service.New(service.TypeHumiditySensor)

	svc.CurrentRelativeHumidity = characteristic.NewCurrentRelativeHumidity()
	svc.AddCharacteristic(svc.CurrentRelativeHumidity.Characteristic)

	return &svc
}

type TemperatureSvc struct {
	*service.Service

	CurrentTemperature *characteristic.CurrentTemperature
}

func NewTemperatureSvc() *TemperatureSvc {
	svc := TemperatureSvc{}
	svc.Service = service.New(service.TypeTemperatureSensor)

	svc.CurrentTemperature = characteristic.NewCurrentTemperature()
	svc.AddCharacteristic(svc.CurrentTemperature.Characteristic)

	return &svc
}

type FilterSvc struct {
	*service.Service

	FilterChangeIndication *characteristic.FilterChangeIndication
	FilterLifeLevel        *characteristic.FilterLifeLevel
	Name                   *characteristic.Name
}

func NewFilterSvc(name string) *FilterSvc {
	svc := FilterSvc{}
	svc.Service = service.New(service.TypeFilterMaintenance)

	svc.FilterChangeIndication = characteristic.NewFilterChangeIndication()
	svc.AddCharacteristic(svc.FilterChangeIndication.Characteristic)

	svc.FilterLifeLevel = characteristic.NewFilterLifeLevel()
	svc.AddCharacteristic(svc.FilterLifeLevel.Characteristic)

	svc.Name = characteristic.NewName()
	svc.Name.SetValue(name)
	svc.AddCharacteristic(svc.Name.Characteristic)

	return &svc
}
