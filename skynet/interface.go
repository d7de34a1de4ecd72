package skynet

import "context"

// ClientAPI defines the methods required to upload to a Skynet portal.
// It mirrors the concrete client so it can be mocked in tests.
type ClientAPI interface {
	UploadFile(ctx context.Context, file File) (*Response, error)
	SkylinkURL(skylink Skylink) string
	Close() error
}
