package domain

import "errors"

const (
	MaxUserIDLen   = 36
	MaxNicknameLen = 36
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrNicknameEmpty   = errors.New("nickname empty")
	ErrNicknameTooLong = errors.New("nickname too long")
)

type UserID string

type User struct {
	ID       UserID `json:"userId"`
	Nickname string `json:"nickname"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id, nickname string) (*User, error) {
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if nickname == "" {
		return nil, ErrNicknameEmpty
	}
	if len(nickname) > MaxNicknameLen {
		return nil, ErrNicknameTooLong
	}
	return &User{ID: UserID(id), Nickname: nickname}, nil
}
