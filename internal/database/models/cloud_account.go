package models

import "slices"

// CloudAccount is a connected AWS account reached through an assumable role.
// Scans reference it and never modify it.
type CloudAccount struct {
	Base
	Name      string `gorm:"size:255;not null" json:"name"`
	AccountID string `gorm:"size:12;index;not null" json:"account_id"`
	RoleARN   string `gorm:"not null" json:"role_arn"`

	// age-sealed, see pkg/crypto
	ExternalIDSealed string `gorm:"type:text" json:"-"`
	HasExternalID    bool   `gorm:"default:false" json:"has_external_id"`

	AuthorizedRegions []string `gorm:"type:jsonb;serializer:json" json:"authorized_regions"`

	CreatedBy      string `json:"created_by"`
	LastVerifiedAt int64  `json:"last_verified_at,omitempty"`
}

func (CloudAccount) TableName() string {
	return "cloud_accounts"
}

func (a *CloudAccount) Authorizes(region string) bool {
	return slices.Contains(a.AuthorizedRegions, region)
}
