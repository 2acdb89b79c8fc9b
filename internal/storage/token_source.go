package storage

import (
	"strconv"
	"sync"
	"time"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// TokenSource выдает новые токены версий. Токены непрозрачны для остальных слоев.
type TokenSource interface {
	Next() models.VersionToken
}

// TimestampTokenSource выдает метки времени UTC RFC3339Nano, строго возрастающие в пределах процесса
type TimestampTokenSource struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewTimestampTokenSource создает источник токенов на основе времени
func NewTimestampTokenSource() *TimestampTokenSource {
	return &TimestampTokenSource{now: time.Now}
}

// Next возвращает следующий токен
func (s *TimestampTokenSource) Next() models.VersionToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Nanosecond)
	}
	s.last = ts
	return models.VersionToken(ts.Format(time.RFC3339Nano))
}

// CounterTokenSource выдает возрастающий счетчик в десятичной записи
type CounterTokenSource struct {
	mu sync.Mutex
	n  uint64
}

// NewCounterTokenSource создает счетчик токенов
func NewCounterTokenSource() *CounterTokenSource {
	return &CounterTokenSource{}
}

// Next возвращает следующий токен
func (s *CounterTokenSource) Next() models.VersionToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return models.VersionToken(strconv.FormatUint(s.n, 10))
}
