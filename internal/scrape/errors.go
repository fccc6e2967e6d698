package scrape

import "fmt"

// FetchError means the page could not be retrieved: non-retryable status or
// network failure after the retry budget ran out.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError means neither a product code nor a name could be derived
// from the page.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
