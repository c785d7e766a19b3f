package model

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusIdle    Status = "idle"
	StatusInCall  Status = "in-call"
)

// Valid: может ли клиент выставить такой статус.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusIdle, StatusInCall:
		return true
	}
	return false
}

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	Role          string    `json:"role"`
	ProfilePhoto  *string   `json:"profile_photo"`
	IsOnline      bool      `json:"is_online"`
	CurrentStatus Status    `json:"current_status"`
	LastSeen      time.Time `json:"last_seen"`
	CreatedAt     time.Time `json:"created_at"`
}

// DisplayName: полное имя, иначе e-mail, иначе заглушка.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	if u.Email != "" {
		return u.Email
	}
	return "Unknown"
}

// Participant: данные пользователя, которые показываются рядом с беседой.
type Participant struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	ProfilePhoto  *string    `json:"profile_photo"`
	IsOnline      bool       `json:"is_online"`
	CurrentStatus Status     `json:"current_status"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

func (u *User) ToParticipant() Participant {
	p := Participant{
		ID:            u.ID,
		Name:          u.DisplayName(),
		Email:         u.Email,
		Role:          u.Role,
		ProfilePhoto:  u.ProfilePhoto,
		IsOnline:      u.IsOnline,
		CurrentStatus: u.CurrentStatus,
	}
	if p.Role == "" {
		p.Role = "Employee"
	}
	if p.CurrentStatus == "" {
		p.CurrentStatus = StatusOffline
	}
	if !u.LastSeen.IsZero() {
		ls := u.LastSeen
		p.LastSeen = &ls
	}
	return p
}

// Отправитель сгенерированных ответов.
const (
	AIUserID = "YS_AI_BOT"
	AIName   = "YS AI"
	AIEmail  = "ai@yshr.com"
)

// AIParticipant: синтетический участник ai-бесед.
func AIParticipant() Participant {
	return Participant{
		ID:            AIUserID,
		Name:          AIName,
		Email:         AIEmail,
		Role:          "AI Assistant",
		IsOnline:      true,
		CurrentStatus: StatusOnline,
	}
}
