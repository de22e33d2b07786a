package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types exchanged over the sync websocket. Binary fields ride inside
// the JSON envelope base64-encoded.
type Type string

const (
	// Client -> server: first message on a connection.
	TypeJoin Type = "join"

	// Server -> client: full document state plus the current roster.
	TypeState Type = "state"

	// Bidirectional: one binary CRDT delta.
	TypeUpdate Type = "update"

	// Server -> room: best-effort presence notifications.
	TypeParticipantJoined Type = "participant-joined"
	TypeParticipantLeft   Type = "participant-left"

	// Server -> client: join failure or dropped-message notice.
	TypeError Type = "error"
)

var ErrMalformed = errors.New("malformed protocol message")

type Participant struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Envelope is the single wire frame; which fields are populated depends on
// Type.
type Envelope struct {
	Type         Type          `json:"type"`
	DocumentID   string        `json:"documentId,omitempty"`
	AuthToken    string        `json:"authToken,omitempty"`
	Update       []byte        `json:"update,omitempty"`
	State        []byte        `json:"state,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	FromUserID   string        `json:"fromUserId,omitempty"`
	FromName     string        `json:"fromName,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// Decode parses and structurally validates an incoming frame. Only frame
// shape is checked here; whether the update payload is a valid CRDT delta is
// the document's concern.
func Decode(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeJoin:
		if env.DocumentID == "" {
			return nil, fmt.Errorf("%w: join without documentId", ErrMalformed)
		}
	case TypeUpdate:
		if env.DocumentID == "" {
			return nil, fmt.Errorf("%w: update without documentId", ErrMalformed)
		}
		if len(env.Update) == 0 {
			return nil, fmt.Errorf("%w: update without payload", ErrMalformed)
		}
	case TypeState, TypeParticipantJoined, TypeParticipantLeft, TypeError:
		// Server-originated types; accepted for symmetry.
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return &env, nil
}

// Encode serializes an envelope for the wire.
func Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// MustEncode is Encode for server-built envelopes, which cannot fail to
// marshal.
func MustEncode(env *Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return data
}

func NewError(message string) *Envelope {
	return &Envelope{Type: TypeError, Message: message}
}

func NewState(documentID string, state []byte, roster []Participant) *Envelope {
	return &Envelope{
		Type:         TypeState,
		DocumentID:   documentID,
		State:        state,
		Participants: roster,
	}
}

func NewUpdate(documentID string, update []byte, fromUserID, fromName string) *Envelope {
	return &Envelope{
		Type:       TypeUpdate,
		DocumentID: documentID,
		Update:     update,
		FromUserID: fromUserID,
		FromName:   fromName,
	}
}

func NewPresence(t Type, userID, name string) *Envelope {
	return &Envelope{Type: t, FromUserID: userID, FromName: name}
}
