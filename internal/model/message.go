package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type MessageKind string

const (
	KindText    MessageKind = "text"
	KindImage   MessageKind = "image"
	KindVideo   MessageKind = "video"
	KindFile    MessageKind = "file"
	KindAudio   MessageKind = "audio"
	KindPoll    MessageKind = "poll"
	KindEvent   MessageKind = "event"
	KindContact MessageKind = "contact"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindFile, KindAudio, KindPoll, KindEvent, KindContact:
		return true
	}
	return false
}

// DeletedPlaceholder заменяет текст удалённого сообщения.
const DeletedPlaceholder = "This message was deleted"

type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type Message struct {
	ID             string       `json:"_id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	SenderName     string       `json:"sender_name"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	Kind           MessageKind  `json:"message_type"`
	Metadata       *Metadata    `json:"metadata"`
	Timestamp      time.Time    `json:"timestamp"`
	ReadBy         []string     `json:"read_by"`
	Edited         bool         `json:"edited"`
	Deleted        bool         `json:"deleted"`
}

// IsReadBy: прочитал ли userID сообщение.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Metadata: размеченное объединение по типу сообщения, задан не больше чем один вариант.
// В JSON это сам объект варианта, например {"question": ..., "options": [...]}.
type Metadata struct {
	Poll    *PollMetadata
	Event   *EventMetadata
	Contact *ContactMetadata
	AI      *AIMetadata
}

type PollOption struct {
	ID    int      `json:"id"`
	Text  string   `json:"text"`
	Votes []string `json:"votes"`
}

type PollMetadata struct {
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
}

// VotesOf: индекс варианта с голосом voter или -1.
func (p *PollMetadata) VotesOf(voter string) int {
	for i, o := range p.Options {
		for _, v := range o.Votes {
			if v == voter {
				return i
			}
		}
	}
	return -1
}

type EventMetadata struct {
	Title       string     `json:"title"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
}

type ContactCard struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

type ContactMetadata struct {
	Contact ContactCard `json:"contact"`
}

type AIMetadata struct {
	IsAI bool `json:"is_ai"`
}

func (m Metadata) variant() any {
	switch {
	case m.Poll != nil:
		return m.Poll
	case m.Event != nil:
		return m.Event
	case m.Contact != nil:
		return m.Contact
	case m.AI != nil:
		return m.AI
	}
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	v := m.variant()
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON выбирает вариант по набору ключей. Строки из БД читаются через
// LoadMetadata, которому тип известен.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{}
	if isEmptyJSON(data) {
		return nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	switch {
	case keys["options"] != nil:
		m.Poll = &PollMetadata{}
		return json.Unmarshal(data, m.Poll)
	case keys["contact"] != nil:
		m.Contact = &ContactMetadata{}
		return json.Unmarshal(data, m.Contact)
	case keys["is_ai"] != nil:
		m.AI = &AIMetadata{}
		return json.Unmarshal(data, m.AI)
	case keys["title"] != nil:
		m.Event = &EventMetadata{}
		return json.Unmarshal(data, m.Event)
	}
	return errors.New("unrecognised metadata shape")
}

var ErrBadMetadata = errors.New("invalid metadata")

func isEmptyJSON(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte("{}"))
}

// DecodeMetadata разбирает metadata от клиента для типа kind и нормализует её.
// Типы без схемы принимают только пустую metadata.
func DecodeMetadata(kind MessageKind, raw json.RawMessage) (*Metadata, error) {
	switch kind {
	case KindPoll:
		if isEmptyJSON(raw) {
			return nil, fmt.Errorf("%w: poll requires options", ErrBadMetadata)
		}
		var p PollMetadata
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
		}
		if len(p.Options) < 2 {
			return nil, fmt.Errorf("%w: poll needs at least two options", ErrBadMetadata)
		}
		for i := range p.Options {
			p.Options[i].Text = strings.TrimSpace(p.Options[i].Text)
			if p.Options[i].Text == "" {
				return nil, fmt.Errorf("%w: empty poll option %d", ErrBadMetadata, i)
			}
			p.Options[i].ID = i
			p.Options[i].Votes = []string{}
		}
		p.Question = strings.TrimSpace(p.Question)
		return &Metadata{Poll: &p}, nil
	case KindEvent:
		if isEmptyJSON(raw) {
			return nil, fmt.Errorf("%w: event requires details", ErrBadMetadata)
		}
		var e EventMetadata
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
		}
		e.Title = strings.TrimSpace(e.Title)
		if e.Title == "" || e.StartsAt.IsZero() {
			return nil, fmt.Errorf("%w: event needs title and starts_at", ErrBadMetadata)
		}
		if e.EndsAt != nil && e.EndsAt.Before(e.StartsAt) {
			return nil, fmt.Errorf("%w: event ends before it starts", ErrBadMetadata)
		}
		return &Metadata{Event: &e}, nil
	case KindContact:
		if isEmptyJSON(raw) {
			return nil, fmt.Errorf("%w: contact requires a card", ErrBadMetadata)
		}
		var c ContactMetadata
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
		}
		if c.Contact.ID == "" && c.Contact.Email == "" {
			return nil, fmt.Errorf("%w: contact needs id or email", ErrBadMetadata)
		}
		return &Metadata{Contact: &c}, nil
	}
	if !isEmptyJSON(raw) {
		return nil, fmt.Errorf("%w: %s messages carry no metadata", ErrBadMetadata, kind)
	}
	return nil, nil
}

// LoadMetadata читает сохранённую metadata без проверок создания.
func LoadMetadata(kind MessageKind, raw []byte) (*Metadata, error) {
	if isEmptyJSON(raw) {
		return nil, nil
	}
	md := &Metadata{}
	var err error
	switch kind {
	case KindPoll:
		md.Poll = &PollMetadata{}
		err = json.Unmarshal(raw, md.Poll)
	case KindEvent:
		md.Event = &EventMetadata{}
		err = json.Unmarshal(raw, md.Event)
	case KindContact:
		md.Contact = &ContactMetadata{}
		err = json.Unmarshal(raw, md.Contact)
	default:
		err = md.UnmarshalJSON(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return md, nil
}
