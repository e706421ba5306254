package types

// EnqueueCommandRequest is the mobile app's command body. Text is used by
// display_text, Password by change_password.
type EnqueueCommandRequest struct {
	Command  string `json:"command"`
	Text     string `json:"text,omitempty"`
	Password string `json:"password,omitempty"`
}

type EnqueueCommandResponse struct {
	Status  string `json:"status"`
	Command string `json:"command"`
	Evicted bool   `json:"evicted,omitempty"`
}

// TakePhotoResponse carries an immediate capture back to the app.
type TakePhotoResponse struct {
	Status      string `json:"status"`
	Command     string `json:"command"`
	ImageBase64 string `json:"image_base64"`
	ImageSize   int    `json:"image_size"`
	SourceURL   string `json:"source_url,omitempty"`
}

type PollCommandResponse struct {
	HasCommand bool   `json:"has_command"`
	Command    string `json:"command,omitempty"`
	EnqueuedAt string `json:"enqueued_at,omitempty"`
}
