package service

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name     string
		client   *models.VersionToken
		server   models.VersionToken
		expected Comparison
	}{
		{
			name:     "new entity",
			client:   nil,
			server:   "v1",
			expected: Comparison{IsNewEntity: true, Server: "v1"},
		},
		{
			name:     "equal tokens",
			client:   tok("v1"),
			server:   "v1",
			expected: Comparison{IsClean: true, Client: tok("v1"), Server: "v1"},
		},
		{
			name:     "different tokens",
			client:   tok("v1"),
			server:   "v2",
			expected: Comparison{IsConflict: true, Client: tok("v1"), Server: "v2"},
		},
		{
			name:     "timestamps are not ordered",
			client:   tok("2024-05-01T12:00:00Z"),
			server:   "2024-05-01T12:00:00.000Z",
			expected: Comparison{IsConflict: true, Client: tok("2024-05-01T12:00:00Z"), Server: "2024-05-01T12:00:00.000Z"},
		},
		{
			name:     "empty client token is not new",
			client:   tok(""),
			server:   "1",
			expected: Comparison{IsConflict: true, Client: tok(""), Server: "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CompareVersions(tt.client, tt.server))
		})
	}
}

func TestCompareVersions_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		token := models.VersionToken(strconv.FormatInt(rng.Int63(), 36))

		same := token
		cmp := CompareVersions(&same, token)
		assert.True(t, cmp.IsClean, "compare(t, t) must be clean for %q", token)
		assert.False(t, cmp.IsConflict)
		assert.False(t, cmp.IsNewEntity)

		cmp = CompareVersions(nil, token)
		assert.True(t, cmp.IsNewEntity, "compare(nil, t) must be new for %q", token)
		assert.False(t, cmp.IsConflict)
	}
}
