package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON form used by the web relay. Variants are externally tagged:
//
//	{"username": "alice", "message": {"Text": "hello"}}
//	{"username": null, "message": {"File": {"name": "a.txt", "data": "aGk="}}}
//	{"username": null, "message": "Stop"}
//
// Byte fields are base64 strings.

type jsonUserMessage struct {
	Username *string         `json:"username"`
	Message  json.RawMessage `json:"message"`
}

type jsonFile struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

type jsonPhoto struct {
	Data []byte `json:"data"`
}

type jsonSetUser struct {
	Username *string `json:"username"`
}

// MarshalJSON implements json.Marshaler.
func (um UserMessage) MarshalJSON() ([]byte, error) {
	raw, err := marshalVariant(um.Message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonUserMessage{Username: um.Username, Message: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (um *UserMessage) UnmarshalJSON(data []byte) error {
	var wire jsonUserMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Message) == 0 {
		return errors.New("message: missing message field")
	}
	m, err := unmarshalVariant(wire.Message)
	if err != nil {
		return err
	}
	um.Username = wire.Username
	um.Message = m
	return nil
}

func marshalVariant(m Message) (json.RawMessage, error) {
	var tagged map[string]any
	switch v := m.(type) {
	case Text:
		tagged = map[string]any{"Text": v.Body}
	case File:
		tagged = map[string]any{"File": jsonFile{Name: v.Name, Data: v.Data}}
	case Photo:
		tagged = map[string]any{"Photo": jsonPhoto{Data: v.Data}}
	case SetUser:
		tagged = map[string]any{"SetUser": jsonSetUser{Username: v.Username}}
	case Stop:
		return json.RawMessage(`"Stop"`), nil
	default:
		return nil, fmt.Errorf("message: marshal %T: %w", m, ErrUnknownKind)
	}
	return json.Marshal(tagged)
}

func unmarshalVariant(raw json.RawMessage) (Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var tag string
		if err := json.Unmarshal(raw, &tag); err != nil {
			return nil, err
		}
		if tag == "Stop" {
			return Stop{}, nil
		}
		return nil, fmt.Errorf("message: variant %q: %w", tag, ErrUnknownKind)
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, err
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("message: expected exactly one variant, got %d", len(tagged))
	}

	for tag, body := range tagged {
		switch tag {
		case "Text":
			var text string
			if err := json.Unmarshal(body, &text); err != nil {
				return nil, err
			}
			return Text{Body: text}, nil
		case "File":
			var f jsonFile
			if err := json.Unmarshal(body, &f); err != nil {
				return nil, err
			}
			return File(f), nil
		case "Photo":
			var p jsonPhoto
			if err := json.Unmarshal(body, &p); err != nil {
				return nil, err
			}
			return Photo(p), nil
		case "SetUser":
			var s jsonSetUser
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, err
			}
			return SetUser(s), nil
		case "Stop":
			return Stop{}, nil
		default:
			return nil, fmt.Errorf("message: variant %q: %w", tag, ErrUnknownKind)
		}
	}
	return nil, ErrUnknownKind
}
