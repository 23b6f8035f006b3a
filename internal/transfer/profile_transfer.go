package transfer

type CreateProfileRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	Color     string `json:"color" validate:"omitempty,hexcolor"`
	IsDefault bool   `json:"is_default"`
}
