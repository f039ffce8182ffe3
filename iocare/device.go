package iocare

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cloudkucooland/cowaybridge/action"
)

// Device is what the account device listing reports about one purifier
type Device struct {
	Barcode      string `json:"barcode"`
	BrandCode    string `json:"dvcBrandCd"`
	TypeCode     string `json:"dvcTypeCd"`
	ProductName  string `json:"prodName"`
	Model        string `json:"dvcModel"`
	Nickname     string `json:"dvcNick"`
	NetStatus    Flag   `json:"netStatus"`
	OrderNo      string `json:"orderNo,omitempty"`
	SellTypeCode string `json:"sellTypeCd,omitempty"`
	Membership   string `json:"membershipYn,omitempty"`
	SelfManaged  string `json:"selfYn,omitempty"`
	AdmDongCode  string `json:"admdongCd,omitempty"`
	StationCode  string `json:"stationCd,omitempty"`
	ZipCode      string `json:"zipCode,omitempty"`
	ResetDate    string `json:"resetDttm,omitempty"`
}

// Name is what the accessory shows as
func (d Device) Name() string {
	if d.Nickname != "" {
		return d.Nickname
	}
	if d.ProductName != "" {
		return d.ProductName
	}
	return d.Barcode
}

// Flag decodes the several ways the API spells a boolean: true, "true", "Y", 1, "1"
type Flag bool

// UnmarshalJSON implements json.Unmarshaler
func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = false
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch s {
		case "true", "TRUE", "Y", "y", "1":
			*f = true
		default:
			*f = false
		}
		return nil
	}
	if v, err := strconv.ParseBool(string(b)); err == nil {
		*f = Flag(v)
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = n != 0
	return nil
}

type deviceList struct {
	DeviceInfos []Device `json:"deviceInfos"`
}

type connection struct {
	DeviceID  string `json:"devId"`
	NetStatus Flag   `json:"netStatus"`
}

type connectionList struct {
	Devices []connection `json:"devices"`
}

type token struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type controlRequest struct {
	DeviceID       string           `json:"devId"`
	FuncList       []action.Command `json:"funcList"`
	DeviceTypeCode string           `json:"dvcTypeCd"`
	IsMultiControl bool             `json:"isMultiControl"`
}
