package transfer

// GraphError is the error envelope shared by the Facebook and Instagram
// Graph APIs.
type GraphError struct {
	Error struct {
		Message        string `json:"message"`
		Type           string `json:"type"`
		Code           int    `json:"code"`
		ErrorSubcode   int    `json:"error_subcode"`
		IsTransient    bool   `json:"is_transient"`
		ErrorUserTitle string `json:"error_user_title"`
		ErrorUserMsg   string `json:"error_user_msg"`
		FbtraceID      string `json:"fbtrace_id"`
	} `json:"error"`
}

type GraphID struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
}

type GraphAccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type FacebookUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type FacebookPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	Category    string `json:"category"`
	AccessToken string `json:"access_token"`
	Picture     struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

type FacebookPages struct {
	Data   []FacebookPage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type InstagramUserInfo struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	AccountType    string `json:"account_type"`
	ProfilePicture string `json:"profile_picture_url"`
}

type InstagramContainerStatus struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

type InstagramMedia struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
}
