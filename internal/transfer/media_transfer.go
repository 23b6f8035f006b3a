package transfer

type UploadURLRequest struct {
	FileName string `json:"file_name" validate:"required,max=255"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
}

type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	Key       string `json:"key"`
}
