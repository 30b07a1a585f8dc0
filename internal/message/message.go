// Package message defines the chat payload exchanged between relay clients:
// a closed set of message variants, the input parser that produces them from
// terminal lines, and their wire encodings.
package message

// Kind identifies the active variant of a Message.
type Kind uint8

// Message variants. The numeric values are part of the wire format.
const (
	KindText Kind = iota + 1
	KindFile
	KindPhoto
	KindSetUser
	KindStop
)

// String returns the lower-case name of the kind, used for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	case KindPhoto:
		return "photo"
	case KindSetUser:
		return "set_user"
	case KindStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Message is one chat payload. The concrete types Text, File, Photo, SetUser
// and Stop are the only implementations; consumers switch on the concrete
// type.
type Message interface {
	Kind() Kind
	isMessage()
}

// Text is a plain chat line.
type Text struct {
	Body string
}

// File carries the contents of a file. Name is a basename without any
// directory component.
type File struct {
	Name string
	Data []byte
}

// Photo carries a PNG-encoded image.
type Photo struct {
	Data []byte
}

// SetUser associates a username with the sending connection. A nil Username
// clears it.
type SetUser struct {
	Username *string
}

// Stop asks the local client to shut down. It is never relayed.
type Stop struct{}

func (Text) Kind() Kind    { return KindText }
func (File) Kind() Kind    { return KindFile }
func (Photo) Kind() Kind   { return KindPhoto }
func (SetUser) Kind() Kind { return KindSetUser }
func (Stop) Kind() Kind    { return KindStop }

func (Text) isMessage()    {}
func (File) isMessage()    {}
func (Photo) isMessage()   {}
func (SetUser) isMessage() {}
func (Stop) isMessage()    {}

// AnonymousUser is the display name used when no username has been set.
const AnonymousUser = "Anonymous"

// UserMessage pairs a Message with the username of its author, if known.
// It is the unit handed to the persistence sink and exchanged over the web relay.
type UserMessage struct {
	Username *string
	Message  Message
}

// DisplayName returns the author's username or AnonymousUser.
func (um UserMessage) DisplayName() string {
	if um.Username == nil || *um.Username == "" {
		return AnonymousUser
	}
	return *um.Username
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
