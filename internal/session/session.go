// Package session expone la identidad del asesor logueado. El login vive
// fuera del motor; aquí solo se leen los ids ya resueltos.
package session

import (
	"strings"

	"github.com/xumingyi/offline-shop-ionic3/internal/config"
)

type Session struct {
	advisorID   string
	advisorName string
	userID      string
	userEmail   string
}

func New(advisorID, advisorName, userID, userEmail string) *Session {
	return &Session{
		advisorID:   strings.TrimSpace(advisorID),
		advisorName: strings.TrimSpace(advisorName),
		userID:      strings.TrimSpace(userID),
		userEmail:   strings.TrimSpace(userEmail),
	}
}

// FromConfig toma la sección session.
func FromConfig(cfg *config.Config) *Session {
	s := cfg.Session
	return New(s.AdvisorID, s.AdvisorName, s.UserID, s.UserEmail)
}

func (s *Session) AdvisorID() string   { return s.advisorID }
func (s *Session) AdvisorName() string { return s.advisorName }
func (s *Session) UserID() string      { return s.userID }
func (s *Session) UserEmail() string   { return s.userEmail }
