// Package protocol decodes push frames into typed events and encodes the
// client's outbound messages.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quiz-sync-client/internal/domain"
)

var (
	// ErrUnknownType is returned for frames whose type is outside the inbound set.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformedFrame is returned for frames that are not valid envelopes or payloads.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Envelope is the wire shape shared by every push message in both directions.
type Envelope struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type decodeFunc func(json.RawMessage) (Event, error)

var decoders = map[Type]decodeFunc{
	TypeQuestionStart: func(data json.RawMessage) (Event, error) {
		var ev QuestionStart
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.Question.ID == "" {
			return nil, errors.New("question id missing")
		}
		return ev, nil
	},
	TypeQuestionEnd: func(data json.RawMessage) (Event, error) {
		var ev QuestionEnd
		err := json.Unmarshal(data, &ev)
		return ev, err
	},
	TypeAnswerSubmitted: func(data json.RawMessage) (Event, error) {
		var ev AnswerSubmitted
		err := json.Unmarshal(data, &ev)
		return ev, err
	},
	TypeRoundResult: func(data json.RawMessage) (Event, error) {
		var ev RoundResult
		err := json.Unmarshal(data, &ev)
		return ev, err
	},
	TypeParticipantJoin: func(data json.RawMessage) (Event, error) {
		var ev ParticipantJoin
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.UserID == "" {
			return nil, errors.New("user id missing")
		}
		return ev, nil
	},
	TypeParticipantLeave: func(data json.RawMessage) (Event, error) {
		var ev ParticipantLeave
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.UserID == "" {
			return nil, errors.New("user id missing")
		}
		return ev, nil
	},
	TypeSessionUpdate: func(data json.RawMessage) (Event, error) {
		var ev SessionUpdate
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		if ev.Status != "" {
			if _, ok := domain.ParsePhase(ev.Status); !ok {
				return nil, fmt.Errorf("unknown status %q", ev.Status)
			}
		}
		return ev, nil
	},
	TypeRevivalStart: decodeRevivalStart,
	TypeRevivalResult: func(data json.RawMessage) (Event, error) {
		var wire struct {
			Revived refList `json:"revived"`
		}
		err := json.Unmarshal(data, &wire)
		return RevivalResult{Revived: wire.Revived}, err
	},
	TypeRevivalTimeout: func(data json.RawMessage) (Event, error) {
		var ev RevivalTimeout
		err := json.Unmarshal(data, &ev)
		return ev, err
	},
	TypeError: func(data json.RawMessage) (Event, error) {
		var wire struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		if wire.Error == "" {
			wire.Error = wire.Message
		}
		return ServerError{Message: wire.Error}, nil
	},
	TypePing: func(json.RawMessage) (Event, error) { return Ping{}, nil },
	TypePong: func(json.RawMessage) (Event, error) { return Pong{}, nil },
}

// revival_start names its candidate list either "candidates" or "eligibleUsers",
// the latter sometimes as bare user ids. The question itself may be inline or
// follow as a question_start naming questionId.
func decodeRevivalStart(data json.RawMessage) (Event, error) {
	var wire struct {
		Candidates    refList          `json:"candidates"`
		EligibleUsers refList          `json:"eligibleUsers"`
		QuestionID    string           `json:"questionId"`
		Question      *domain.Question `json:"question"`
		TimeLimit     int              `json:"timeLimit"`
		Deadline      Instant          `json:"deadline"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	candidates := wire.Candidates
	if len(candidates) == 0 {
		candidates = wire.EligibleUsers
	}
	if wire.QuestionID == "" && wire.Question != nil {
		wire.QuestionID = wire.Question.ID
	}
	return RevivalStart{
		Candidates: candidates,
		QuestionID: wire.QuestionID,
		Question:   wire.Question,
		TimeLimit:  wire.TimeLimit,
		Deadline:   wire.Deadline,
	}, nil
}

// Decode parses one inbound frame.
func Decode(frame []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: type missing", ErrMalformedFrame)
	}
	ev, err := DecodeEvent(env.Type, env.Data)
	if err != nil {
		return nil, err
	}
	msg := &Message{
		Type:      env.Type,
		SessionID: env.SessionID,
		Data:      env.Data,
		Event:     ev,
	}
	if env.Timestamp > 0 {
		msg.SentAt = time.UnixMilli(env.Timestamp)
	}
	return msg, nil
}

// DecodeEvent decodes a payload of a known type. It is used directly when
// replaying recorded payloads.
func DecodeEvent(t Type, data json.RawMessage) (Event, error) {
	decode, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = json.RawMessage("{}")
	}
	ev, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, t, err)
	}
	return ev, nil
}

// Encode builds an outbound frame.
func Encode(t Type, sessionID string, data any, now time.Time) ([]byte, error) {
	env := Envelope{Type: t, SessionID: sessionID, Timestamp: now.UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// JoinSession is the payload of the outbound join_session message.
type JoinSession struct {
	SessionID string `json:"sessionId"`
}

// Instant accepts either an RFC 3339 string or Unix milliseconds. The zero
// value means the field was absent.
type Instant struct {
	time.Time
}

func (i *Instant) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		i.Time = t
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	if ms > 0 {
		i.Time = time.UnixMilli(ms)
	}
	return nil
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if i.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(i.Time.Format(time.RFC3339Nano))
}

// refList decodes a participant list whose entries may be objects or bare ids.
type refList []ParticipantRef

func (l *refList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(refList, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var id string
			if err := json.Unmarshal(item, &id); err != nil {
				return err
			}
			out = append(out, ParticipantRef{UserID: id})
			continue
		}
		var ref ParticipantRef
		if err := json.Unmarshal(item, &ref); err != nil {
			return err
		}
		out = append(out, ref)
	}
	*l = out
	return nil
}
