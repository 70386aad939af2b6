package domain

import "context"

// ObjectWriter stores whole objects in blob storage. Implementations choose
// the upload strategy from the payload size.
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}
