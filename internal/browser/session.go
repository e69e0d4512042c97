package browser

import "context"

// Element is a snapshot of one DOM node located by a selector query
type Element interface {
	// Text returns the node's combined text content
	Text() string
	// Attr returns the value of the named attribute
	Attr(name string) (string, bool)
	// HTML returns the node's inner HTML
	HTML() string
}

// DownloadResult describes one completed file download
type DownloadResult struct {
	URL   string
	Path  string
	Bytes int64
}

// Session is a stateful handle to an automated browsing context. The engine
// drives every site through this interface; adapters for remote WebDriver
// sessions live outside this module, the in-repo adapter is HTTPSession.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL() (string, error)
	FindElement(selector string) (Element, error)
	FindElements(selector string) ([]Element, error)
	Click(ctx context.Context, selector string) error
	FillInput(selector, value string) error
	SubmitForm(ctx context.Context, selector string) error
	DownloadFile(ctx context.Context, url, path string) (*DownloadResult, error)
	Close() error
}

// Factory constructs a fresh session. The recovery controller uses it both
// for the initial session and for replacements after a crash.
type Factory func(ctx context.Context) (Session, error)
