package session

import (
	"time"

	"github.com/90rdon/Nubela-Tasks/internal/repo/memory"
	"github.com/90rdon/Nubela-Tasks/pkg/types"

	"github.com/google/uuid"
)

type Service struct {
	Repo *memory.SessionRepo
}

func NewService(repo *memory.SessionRepo) *Service {
	return &Service{Repo: repo}
}

func (s *Service) Create(locale, voice string) *memory.Session {
	id := "sess_" + uuid.NewString()
	sess := &memory.Session{
		ID:        id,
		CreatedAt: time.Now(),
		Locale:    locale,
		Voice:     voice,
	}
	s.Repo.Save(sess)
	return sess
}

func (s *Service) Summary(id string) (types.SummaryResp, bool) {
	sess, ok := s.Repo.Get(id)
	if !ok {
		return types.SummaryResp{}, false
	}
	return types.SummaryResp{
		SessionID:      sess.ID,
		FramesStreamed: sess.Frames.Load(),
		ToolCalls:      sess.ToolCalls.Load(),
		Interruptions:  sess.Interruptions.Load(),
	}, true
}
