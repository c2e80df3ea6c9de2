package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Player: PlayerSettings{Identifier: "player", LookupKey: "username"},
		API: APISettings{
			BaseURL:           "https://osu.ppy.sh",
			RequestsPerMinute: 60,
			RetryCount:        3,
			RetryDelay:        500 * time.Millisecond,
			PageSize:          100,
			BatchSize:         50,
		},
		Analysis: AnalysisSettings{
			ParseWorkers:     8,
			RecomputeWorkers: 4,
			HashWorkers:      8,
			TopLimit:         200,
		},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{
			name:   "bad lookup key",
			mutate: func(s *Settings) { s.Player.LookupKey = "email" },
			want:   "player.lookupkey",
		},
		{
			name:   "empty base url",
			mutate: func(s *Settings) { s.API.BaseURL = "" },
			want:   "api.baseurl",
		},
		{
			name:   "negative retry count",
			mutate: func(s *Settings) { s.API.RetryCount = -1 },
			want:   "api.retrycount",
		},
		{
			name:   "oversized page",
			mutate: func(s *Settings) { s.API.PageSize = 500 },
			want:   "api.pagesize",
		},
		{
			name:   "zero workers",
			mutate: func(s *Settings) { s.Analysis.ParseWorkers = 0 },
			want:   "analysis.parseworkers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGameDirDerivedPaths(t *testing.T) {
	t.Parallel()

	s := &Settings{Paths: PathSettings{GameDir: "/games/osu"}}
	assert.Equal(t, "/games/osu/Songs", s.SongsDir())
	assert.Equal(t, "/games/osu/Replays", s.ReplaysDir())
}
