package mediator

type storeOptions struct {
	allowPlaceholder bool
}

// StoreOption adjusts a single Store call.
type StoreOption func(*storeOptions)

// AllowPlaceholderEmbedding lets Store fall back to a zero vector when the
// embedder fails. The record is flagged and stays out of similarity search
// until an update supplies a real vector.
func AllowPlaceholderEmbedding() StoreOption {
	return func(o *storeOptions) { o.allowPlaceholder = true }
}
