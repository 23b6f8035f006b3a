package transfer

type LinkedInUserInfo struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

type LinkedInOrganizationAcls struct {
	Elements []struct {
		Organization string `json:"organization"`
		Role         string `json:"role"`
		State        string `json:"state"`
	} `json:"elements"`
}

type LinkedInOrganization struct {
	ID            int64  `json:"id"`
	LocalizedName string `json:"localizedName"`
	VanityName    string `json:"vanityName"`
}

type LinkedInRegisterUploadRequest struct {
	RegisterUploadRequest struct {
		Recipes              []string `json:"recipes"`
		Owner                string   `json:"owner"`
		ServiceRelationships []struct {
			RelationshipType string `json:"relationshipType"`
			Identifier       string `json:"identifier"`
		} `json:"serviceRelationships"`
	} `json:"registerUploadRequest"`
}

type LinkedInRegisterUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism   struct {
			Request struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}
