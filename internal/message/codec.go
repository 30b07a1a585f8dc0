package message

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrUnknownKind is returned when a payload names a variant this build does not know.
var ErrUnknownKind = errors.New("message: unknown kind")

// envelope is the CBOR shape of a Message. Integer keys keep frames compact
// and stable across field renames.
type envelope struct {
	Kind     Kind    `cbor:"1,keyasint"`
	Body     string  `cbor:"2,keyasint,omitempty"`
	Name     string  `cbor:"3,keyasint,omitempty"`
	Data     []byte  `cbor:"4,keyasint,omitempty"`
	Username *string `cbor:"5,keyasint,omitempty"`
}

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Marshal serialises m into its CBOR payload.
func Marshal(m Message) ([]byte, error) {
	var env envelope
	switch v := m.(type) {
	case Text:
		env = envelope{Kind: KindText, Body: v.Body}
	case File:
		env = envelope{Kind: KindFile, Name: v.Name, Data: v.Data}
	case Photo:
		env = envelope{Kind: KindPhoto, Data: v.Data}
	case SetUser:
		env = envelope{Kind: KindSetUser, Username: v.Username}
	case Stop:
		env = envelope{Kind: KindStop}
	case nil:
		return nil, errors.New("message: marshal nil message")
	default:
		return nil, fmt.Errorf("message: marshal %T: %w", m, ErrUnknownKind)
	}
	return encMode.Marshal(env)
}

// Unmarshal parses a CBOR payload produced by Marshal.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("message: unmarshal: %w", err)
	}
	switch env.Kind {
	case KindText:
		return Text{Body: env.Body}, nil
	case KindFile:
		return File{Name: env.Name, Data: env.Data}, nil
	case KindPhoto:
		return Photo{Data: env.Data}, nil
	case KindSetUser:
		return SetUser{Username: env.Username}, nil
	case KindStop:
		return Stop{}, nil
	default:
		return nil, fmt.Errorf("message: kind %d: %w", env.Kind, ErrUnknownKind)
	}
}
