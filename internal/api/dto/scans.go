package dto

import "github.com/google/uuid"

type ScanUnitDTO struct {
	Service string `json:"service" validate:"required"`
	Region  string `json:"region" validate:"required,awsregion"`
}

// CreateScanRequest names the units to scan either explicitly or as the
// cross product of services and regions.
type CreateScanRequest struct {
	AccountID uuid.UUID     `json:"account_id" validate:"required"`
	Units     []ScanUnitDTO `json:"units,omitempty" validate:"omitempty,max=200,dive"`
	Services  []string      `json:"services,omitempty" validate:"omitempty,max=20,dive,required"`
	Regions   []string      `json:"regions,omitempty" validate:"omitempty,max=40,dive,awsregion"`
}

// Expand returns Units, or services × regions when no units were given.
func (r CreateScanRequest) Expand() []ScanUnitDTO {
	if len(r.Units) > 0 {
		return r.Units
	}
	units := make([]ScanUnitDTO, 0, len(r.Services)*len(r.Regions))
	for _, s := range r.Services {
		for _, region := range r.Regions {
			units = append(units, ScanUnitDTO{Service: s, Region: region})
		}
	}
	return units
}
