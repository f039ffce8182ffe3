package devices

import (
	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
)

// WaterPurifier is a Coway water purifier: the dispensing valve plus a lock per circuit
type WaterPurifier struct {
	*accessory.Accessory

	Valve *ValveSvc
	Locks []*LockSvc
}

func NewWaterPurifier(info accessory.Info) *WaterPurifier {
	acc := WaterPurifier{}
	acc.Accessory = accessory.New(info, accessory.TypeFaucets)

	acc.Valve = NewValveSvc()
	acc.AddService(acc.Valve.Service)

	return &acc
}

// AddLock adds a lock mechanism named after the circuit it guards
func (w *WaterPurifier) AddLock(name string) *LockSvc {
	l := NewLockSvc(name)
	w.Locks = append(w.Locks, l)
	w.AddService(l.Service)
	return l
}

type ValveSvc struct {
	*service.Service

	Active      *characteristic.Active
	InUse       *characteristic.InUse
	ValveType   *characteristic.ValveType
	StatusFault *characteristic.StatusFault
}

func NewValveSvc() *ValveSvc {
	svc := ValveSvc{}
	svc.Service = service.New(service.TypeValve)

	svc.Active = characteristic.NewActive()
	svc.AddCharacteristic(svc.Active.Characteristic)

	svc.InUse = characteristic.NewInUse()
	svc.AddCharacteristic(svc.InUse.Characteristic)

	svc.ValveType = characteristic.NewValveType()
	svc.ValveType.SetValue(characteristic.ValveTypeWaterFaucet)
	svc.AddCharacteristic(svc.ValveType.Characteristic)

	svc.StatusFault = characteristic.NewStatusFault()
	svc.StatusFault.SetValue(characteristic.StatusFaultNoFault)
	svc.AddCharacteristic(svc.StatusFault.Characteristic)

	return &svc
}

type LockSvc struct {
	*service.Service

	LockCurrentState *characteristic.LockCurrentState
	LockTargetState  *characteristic.LockTargetState
	Name             *characteristic.Name
}

func NewLockSvc(name string) *LockSvc {
	svc := LockSvc{}
	svc.Service = service.New(service.TypeLockMechanism)

	svc.LockCurrentState = characteristic.NewLockCurrentState()
	svc.AddCharacteristic(svc.LockCurrentState.Characteristic)

	svc.LockTargetState = characteristic.NewLockTargetState()
	svc.AddCharacteristic(svc.LockTargetState.Characteristic)

	svc.Name = characteristic.NewName()
	svc.Name.SetValue(name)
	svc.AddCharacteristic(svc.Name.Characteristic)

	return &svc
}
