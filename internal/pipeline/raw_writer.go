package pipeline

import "encoding/json"

// RawWriter archives raw input rows for replay.
type RawWriter interface {
	Write(messages []json.RawMessage) error
	Close() error
}
