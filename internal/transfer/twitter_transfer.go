package transfer

type TwitterUser struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

type TwitterMediaUpload struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	MediaIDString string `json:"media_id_string"`
}

type TwitterCreateTweet struct {
	Text  string             `json:"text"`
	Media *TwitterTweetMedia `json:"media,omitempty"`
}

type TwitterTweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type TwitterTweet struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type TwitterProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	Status int    `json:"status"`
}
