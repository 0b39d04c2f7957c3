package dto

type CreateAccountRequest struct {
	Name       string   `json:"name" validate:"required,max=255"`
	AccountID  string   `json:"account_id" validate:"required,awsaccount"`
	RoleARN    string   `json:"role_arn" validate:"required,rolearn"`
	ExternalID string   `json:"external_id,omitempty" validate:"max=1224"`
	Regions    []string `json:"regions" validate:"required,min=1,max=40,dive,awsregion"`
}
