// Package har turns an HTTP Archive (HAR 1.2) capture into a scenario
// definition that replays the recorded requests as one HTTP dialog.
package har

// HAR is the root of an archive. Only the fields a replay needs are decoded.
type HAR struct {
	Log *Log `json:"log"`
}

// Log holds the recorded entries in capture order.
type Log struct {
	Version string   `json:"version"`
	Creator *Creator `json:"creator"`
	Entries []*Entry `json:"entries"`
}

// Creator names the tool that produced the archive.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Entry is one request/response exchange.
type Entry struct {
	StartedDateTime string    `json:"startedDateTime"`
	Time            float64   `json:"time"`
	Request         *Request  `json:"request"`
	Response        *Response `json:"response"`
}

// Request is the recorded request.
type Request struct {
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Headers  []*Header `json:"headers"`
	PostData *PostData `json:"postData,omitempty"`
}

// Response is the recorded response.
type Response struct {
	Status  int      `json:"status"`
	Content *Content `json:"content"`
}

// Header is a name/value pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PostData is the recorded request body.
type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

// Content is the recorded response body.
type Content struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}
