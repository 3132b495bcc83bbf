// ABOUTME: Event variants emitted by a streaming generation request
// ABOUTME: Sealed interface so consumers can switch over a closed set

package provider

// Event is one parsed occurrence on a generation stream. The set of
// variants is closed: ContentEvent, DoneEvent and ErrorEvent.
type Event interface {
	isEvent()
}

// ContentEvent carries one delta of answer text and/or reasoning text.
// At least one of the two fields is non-empty.
type ContentEvent struct {
	Content  string
	Thinking string
}

// DoneEvent marks normal end of stream. Usage holds the upstream
// token-usage object as raw JSON, empty when the model sent none.
type DoneEvent struct {
	Usage string
}

// ErrorEvent reports an upstream or transport failure. The stream ends
// after an ErrorEvent.
type ErrorEvent struct {
	Message string
}

func (ContentEvent) isEvent() {}
func (DoneEvent) isEvent()    {}
func (ErrorEvent) isEvent()   {}
