package api

// Message is one pending notification as returned by the service.
//
// Messages are immutable once fetched: the processor enriches IconPath and
// hands the value to the delivery callback, after which the core never
// references it again.
type Message struct {
	// ID is the server-assigned, monotonically increasing message id.
	ID int64 `json:"id"`

	Title    string `json:"title,omitempty"`
	App      string `json:"app,omitempty"`
	Text     string `json:"message"`
	URL      string `json:"url,omitempty"`
	URLTitle string `json:"url_title,omitempty"`

	// Icon names a cacheable icon asset; empty means no icon.
	Icon string `json:"icon,omitempty"`

	// Priority: negative = low, zero = normal, positive = critical.
	Priority int `json:"priority,omitempty"`

	// IconPath is the local file the icon was resolved to, when present.
	// Filled by the batch processor, never by the service.
	IconPath string `json:"-"`
}

// DisplayTitle returns the best available title for rendering.
func (m Message) DisplayTitle() string {
	if m.Title != "" {
		return m.Title
	}
	return m.App
}

type messagesResponse struct {
	Status   int       `json:"status"`
	Messages []Message `json:"messages"`
	Errors   []string  `json:"errors,omitempty"`
}

type statusResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

type loginResponse struct {
	Status int      `json:"status"`
	Secret string   `json:"secret"`
	Errors []string `json:"errors,omitempty"`
}

type registerResponse struct {
	Status int      `json:"status"`
	ID     string   `json:"id"`
	Errors []string `json:"errors,omitempty"`
}
