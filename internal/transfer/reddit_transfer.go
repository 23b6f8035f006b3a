package transfer

type RedditUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IconImg string `json:"icon_img"`
}

// RedditSubmitResponse is the api_type=json envelope of /api/submit.
type RedditSubmitResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"data"`
	} `json:"json"`
}
