package uploader

// EventType enumerates emitted upload events.
type EventType string

const (
	EventMessageDone EventType = "message_done"
	EventRunDone     EventType = "run_done"
)

// Event reports progress on one message, or the end of the run.
type Event struct {
	Type     EventType
	Path     string
	Index    int
	Uploaded bool
}
