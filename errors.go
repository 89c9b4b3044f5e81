package mangarag

import "fmt"

// ErrHTTP is a non-2xx response from the embedding service.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrEmbedding is any failure to obtain vectors from the embedding
// service: network errors, non-2xx responses, and malformed or
// vector-less bodies all surface as one type so policy code upstream can
// treat them uniformly. Cause carries the underlying error when there is
// one.
type ErrEmbedding struct {
	Provider string
	Message  string
	Cause    error
}

func (e *ErrEmbedding) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ErrEmbedding) Unwrap() error { return e.Cause }
