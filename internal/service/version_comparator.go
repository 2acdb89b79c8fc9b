package service

import "github.com/nash333/saskay-snacks-manager-sub002/internal/models"

// Comparison результат сравнения токена клиента с токеном сервера
type Comparison struct {
	IsConflict  bool
	IsNewEntity bool
	IsClean     bool
	Client      *models.VersionToken
	Server      models.VersionToken
}

// CompareVersions сравнивает токены как непрозрачные строки.
// nil у клиента означает новую сущность, с которой нечему конфликтовать.
func CompareVersions(client *models.VersionToken, server models.VersionToken) Comparison {
	c := Comparison{Client: client, Server: server}
	switch {
	case client == nil:
		c.IsNewEntity = true
	case *client == server:
		c.IsClean = true
	default:
		c.IsConflict = true
	}
	return c
}
