package scrape

import "context"

// Session is one browser tab bound to one document. Every method blocks until
// ctx is done or the operation completes.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor returns once an element matching the CSS selector is present.
	WaitFor(ctx context.Context, selector string) error
	// Text returns the rendered text of the first element matching selector.
	Text(ctx context.Context, selector string) (string, error)
	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Browser opens sessions.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}
