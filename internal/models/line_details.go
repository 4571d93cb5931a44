package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
)

// Capability is the set of line-specific features a policy carries.
type Capability uint8

const (
	HasVehicle Capability = 1 << iota
	HasProperty
	HasMarineVoyage
	HasBeneficiaries
)

func (c Capability) Has(flag Capability) bool {
	return c&flag != 0
}

// LineKind tags the detail variant of a policy.
type LineKind string

const (
	LineKindNone     LineKind = ""
	LineKindVehicle  LineKind = "vehicle"
	LineKindProperty LineKind = "property"
	LineKindMarine   LineKind = "marine"
	LineKindLife     LineKind = "life"
)

// ExpectedLineKind returns the only detail variant an insurance type may carry.
func ExpectedLineKind(t InsuranceType) LineKind {
	switch t {
	case InsuranceMotor:
		return LineKindVehicle
	case InsuranceFire:
		return LineKindProperty
	case InsuranceMarine:
		return LineKindMarine
	case InsuranceLife:
		return LineKindLife
	}
	return LineKindNone
}

// LineDetails is one of VehicleDetails, PropertyDetails, MarineDetails or
// LifeDetails.
type LineDetails interface {
	Kind() LineKind
	Capabilities() Capability
	clone() LineDetails
}

type VehicleDetails struct {
	RegistrationNumber string `json:"registrationNumber"`
	Make               string `json:"make"`
	Model              string `json:"model"`
	Year               int    `json:"year"`
	ChassisNumber      string `json:"chassisNumber,omitempty"`
	EngineNumber       string `json:"engineNumber,omitempty"`
	Color              string `json:"color,omitempty"`
	Usage              string `json:"usage,omitempty"`
}

func (VehicleDetails) Kind() LineKind { return LineKindVehicle }
func (VehicleDetails) Capabilities() Capability { return HasVehicle }
func (d VehicleDetails) clone() LineDetails { return d }

type PropertyDetails struct {
	Address          string `json:"address"`
	PropertyType     string `json:"propertyType"`
	ConstructionType string `json:"constructionType,omitempty"`
	YearBuilt        int    `json:"yearBuilt,omitempty"`
	Occupancy        string `json:"occupancy,omitempty"`
}

func (PropertyDetails) Kind() LineKind { return LineKindProperty }
func (PropertyDetails) Capabilities() Capability { return HasProperty }
func (d PropertyDetails) clone() LineDetails { return d }

type MarineDetails struct {
	VesselName     string `json:"vesselName"`
	VoyageFrom     string `json:"voyageFrom"`
	VoyageTo       string `json:"voyageTo"`
	CargoType      string `json:"cargoType,omitempty"`
	ConveyanceMode string `json:"conveyanceMode,omitempty"`
	BillOfLading   string `json:"billOfLading,omitempty"`
}

func (MarineDetails) Kind() LineKind { return LineKindMarine }
func (MarineDetails) Capabilities() Capability { return HasMarineVoyage }
func (d MarineDetails) clone() LineDetails { return d }

type Beneficiary struct {
	Name         string  `json:"name"`
	Relationship string  `json:"relationship"`
	Percentage   float64 `json:"percentage"`
}

type Rider struct {
	Name       string `json:"name"`
	SumAssured string `json:"sumAssured,omitempty"`
	Premium    string `json:"premium,omitempty"`
}

type LifeDetails struct {
	Beneficiaries []Beneficiary `json:"beneficiaries"`
	Riders        []Rider       `json:"riders,omitempty"`
}

func (LifeDetails) Kind() LineKind { return LineKindLife }
func (LifeDetails) Capabilities() Capability { return HasBeneficiaries }
func (d LifeDetails) clone() LineDetails {
	return LifeDetails{
		Beneficiaries: slices.Clone(d.Beneficiaries),
		Riders:        slices.Clone(d.Riders),
	}
}

// Details holds the detail variant of a policy and persists it as a
// {"kind": ..., "data": ...} JSON column.
type Details struct {
	LineDetails
}

func (d Details) Kind() LineKind {
	if d.LineDetails == nil {
		return LineKindNone
	}
	return d.LineDetails.Kind()
}

func (d Details) Capabilities() Capability {
	if d.LineDetails == nil {
		return 0
	}
	return d.LineDetails.Capabilities()
}

func (d Details) Clone() Details {
	if d.LineDetails == nil {
		return Details{}
	}
	return Details{LineDetails: d.LineDetails.clone()}
}

type detailsEnvelope struct {
	Kind LineKind        `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (d Details) Value() (driver.Value, error) {
	if d.LineDetails == nil {
		return nil, nil
	}
	data, err := json.Marshal(d.LineDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal line details: %w", err)
	}
	b, err := json.Marshal(detailsEnvelope{Kind: d.LineDetails.Kind(), Data: data})
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *Details) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		d.LineDetails = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("Details: Scan failed, expected []byte or string but got %T", value)
	}
	if len(b) == 0 {
		d.LineDetails = nil
		return nil
	}

	var env detailsEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("failed to unmarshal line details envelope: %w", err)
	}
	details, err := decodeLineDetails(env.Kind, env.Data)
	if err != nil {
		return err
	}
	d.LineDetails = details
	return nil
}

func decodeLineDetails(kind LineKind, data json.RawMessage) (LineDetails, error) {
	var (
		details LineDetails
		err     error
	)
	switch kind {
	case LineKindNone:
		return nil, nil
	case LineKindVehicle:
		var v VehicleDetails
		err = json.Unmarshal(data, &v)
		details = v
	case LineKindProperty:
		var v PropertyDetails
		err = json.Unmarshal(data, &v)
		details = v
	case LineKindMarine:
		var v MarineDetails
		err = json.Unmarshal(data, &v)
		details = v
	case LineKindLife:
		var v LifeDetails
		err = json.Unmarshal(data, &v)
		details = v
	default:
		return nil, fmt.Errorf("unknown line details kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s details: %w", kind, err)
	}
	return details, nil
}
