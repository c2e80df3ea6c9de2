package scan

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/conf"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/datastore"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/hashindex"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/osuapi"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/replay"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/resolver"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/scoring"
)

const testBaseURL = "https://osu.test"

// accCalculator returns the play's accuracy as its performance value,
// giving tests a deterministic pp ordering.
type accCalculator struct{}

func (accCalculator) Compute(_ context.Context, _ string, accuracy float64, _, _ int, _ []string) (float64, error) {
	return accuracy, nil
}

func appendOsrString(buf []byte, s string) []byte {
	if s == "" {
		return append(buf, 0x00)
	}
	buf = append(buf, 0x0b, byte(len(s)))
	return append(buf, s...)
}

func encodeReplay(beatmapHash, player string, c300, c100, miss uint16, total uint32, ts time.Time) []byte {
	buf := []byte{0}
	buf = binary.LittleEndian.AppendUint32(buf, 20230615)
	buf = appendOsrString(buf, beatmapHash)
	buf = appendOsrString(buf, player)
	buf = appendOsrString(buf, "rhash")
	for _, c := range []uint16{c300, c100, 0, 0, 0, miss} {
		buf = binary.LittleEndian.AppendUint16(buf, c)
	}
	buf = binary.LittleEndian.AppendUint32(buf, total)
	buf = binary.LittleEndian.AppendUint16(buf, 500)
	buf = append(buf, 0x00)
	buf = binary.LittleEndian.AppendUint32(buf, 8) // HD
	buf = appendOsrString(buf, "")
	ticks := (ts.UnixMilli() + 62135596800000) * 10000
	return binary.LittleEndian.AppendUint64(buf, uint64(ticks))
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	gameDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(gameDir, "Songs", "set"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(gameDir, "Replays"), 0o755))

	return &conf.Settings{
		Player: conf.PlayerSettings{Identifier: "TestPlayer", LookupKey: "username"},
		Paths: conf.PathSettings{
			GameDir:    gameDir,
			CacheDir:   filepath.Join(t.TempDir(), "cache"),
			MapsDir:    filepath.Join(t.TempDir(), "maps"),
			ResultsDir: t.TempDir(),
		},
		API: conf.APISettings{
			BaseURL:         testBaseURL,
			RetryCount:      1,
			RetryDelay:      time.Millisecond,
			DownloadTimeout: 5 * time.Second,
			PageSize:        100,
			BatchSize:       50,
		},
		Analysis: conf.AnalysisSettings{
			CutoffDate:       1_900_000_000,
			ParseWorkers:     4,
			RecomputeWorkers: 2,
			HashWorkers:      4,
			TopLimit:         200,
		},
		Output: conf.OutputSettings{
			DatabasePath: filepath.Join(t.TempDir(), "beatmaps.db"),
			CSVDir:       t.TempDir(),
		},
	}
}

func newTestSession(t *testing.T, settings *conf.Settings) *Session {
	t.Helper()
	logging.SetOutput(io.Discard)

	store, err := datastore.New(settings.Output.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	api := osuapi.New(settings.API)
	httpmock.ActivateNonDefault(api.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	index := hashindex.New(settings.SongsDir(), filepath.Join(settings.Paths.CacheDir, "hashes.json"))
	res := resolver.New(store, api, filepath.Join(settings.Paths.CacheDir, "negative.json"))
	stage := scoring.NewStage(index, res, accCalculator{},
		filepath.Join(settings.Paths.CacheDir, "scores.json"), settings.ReplaysDir())

	return &Session{
		settings: settings,
		store:    store,
		api:      api,
		index:    index,
		resolver: res,
		stage:    stage,
		progress: func(int, string) {},
	}
}

func registerAPI(t *testing.T, mapChecksum string) {
	t.Helper()

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/oauth/token",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"access_token": "tok", "expires_in": 3600,
		}))

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/users/TestPlayer/osu",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"id": 7, "username": "TestPlayer",
		}))

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/users/7/scores/best",
		httpmock.NewJsonResponderOrPanic(200, []map[string]any{}))

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/beatmaps/lookup",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"id":            42,
			"beatmapset_id": 7,
			"status":        "ranked",
			"checksum":      mapChecksum,
			"version":       "Insane",
			"count_circles": 100,
			"beatmapset": map[string]any{
				"artist": "Artist", "title": "Title", "creator": "Mapper",
			},
		}))
}

func TestSessionRunFindsLostScore(t *testing.T) {
	settings := testSettings(t)

	mapPath := filepath.Join(settings.SongsDir(), "set", "map.osu")
	osu := "[Metadata]\nBeatmapID:42\nArtist:Artist\nTitle:Title\nCreator:Mapper\nVersion:Insane\n\n[HitObjects]\n1\n2\n3\n"
	require.NoError(t, os.WriteFile(mapPath, []byte(osu), 0o644))

	checksum, err := hashindex.HashFile(mapPath)
	require.NoError(t, err)

	ts := time.Unix(1_600_000_000, 0)
	// Higher accuracy (pp) but lower total: the lost play.
	require.NoError(t, os.WriteFile(filepath.Join(settings.ReplaysDir(), "a.osr"),
		encodeReplay(checksum, "TestPlayer", 99, 1, 0, 900_000, ts), 0o644))
	// Lower accuracy, higher total: the submitted play.
	require.NoError(t, os.WriteFile(filepath.Join(settings.ReplaysDir(), "b.osr"),
		encodeReplay(checksum, "TestPlayer", 90, 10, 0, 950_000, ts), 0o644))
	// A different player's replay is filtered, not an error.
	require.NoError(t, os.WriteFile(filepath.Join(settings.ReplaysDir(), "other.osr"),
		encodeReplay(checksum, "SomeoneElse", 99, 1, 0, 990_000, ts), 0o644))

	registerAPI(t, checksum)

	sess := newTestSession(t, settings)
	result, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "TestPlayer", result.Player.Username)
	assert.Len(t, result.Scores, 2)

	require.Len(t, result.Candidates, 1)
	c := result.Candidates[0]
	assert.Equal(t, int64(42), c.BeatmapID)
	assert.Equal(t, uint32(900_000), c.TotalScore)
	assert.Equal(t, "ranked", c.RankedStatus)

	// The remote lookup ran exactly once despite two replays.
	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["GET "+testBaseURL+"/api/v2/beatmaps/lookup"])

	// Outputs landed on disk.
	for _, name := range []string{"lost_scores.csv", "parsed_top.csv", "potential_top.csv", "summary.csv"} {
		_, err := os.Stat(filepath.Join(settings.Output.CSVDir, name))
		assert.NoError(t, err, name)
	}

	// The foreign replay is filtered during decode.
	assert.Equal(t, 2, result.Summary.ReplaysScanned)
	assert.Equal(t, 1, result.Summary.LostFound)
}

func TestSessionRunValidatesStatusForFileResolvedBeatmap(t *testing.T) {
	settings := testSettings(t)

	// The beatmap id comes from the local .osu file: the checksum lookup
	// knows nothing about this map.
	mapPath := filepath.Join(settings.SongsDir(), "set", "map.osu")
	osu := "[Metadata]\nBeatmapID:42\nArtist:Artist\nTitle:Title\nCreator:Mapper\nVersion:Insane\n\n[HitObjects]\n1\n2\n3\n"
	require.NoError(t, os.WriteFile(mapPath, []byte(osu), 0o644))

	checksum, err := hashindex.HashFile(mapPath)
	require.NoError(t, err)

	ts := time.Unix(1_600_000_000, 0)
	require.NoError(t, os.WriteFile(filepath.Join(settings.ReplaysDir(), "a.osr"),
		encodeReplay(checksum, "TestPlayer", 99, 1, 0, 900_000, ts), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(settings.ReplaysDir(), "b.osr"),
		encodeReplay(checksum, "TestPlayer", 90, 10, 0, 950_000, ts), 0o644))

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/oauth/token",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"access_token": "tok", "expires_in": 3600,
		}))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/users/TestPlayer/osu",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"id": 7, "username": "TestPlayer",
		}))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/users/7/scores/best",
		httpmock.NewJsonResponderOrPanic(200, []map[string]any{}))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/beatmaps/lookup",
		httpmock.NewStringResponder(404, `{"error":"not found"}`))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/beatmaps",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"beatmaps": []map[string]any{{"id": 42, "status": "ranked"}},
		}))

	sess := newTestSession(t, settings)
	result, err := sess.Run(context.Background())
	require.NoError(t, err)

	// The remotely confirmed ranked status keeps the candidate even
	// though the store row for the checksum carries no beatmap id.
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, int64(42), result.Candidates[0].BeatmapID)
	assert.Equal(t, "ranked", result.Candidates[0].RankedStatus)

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info["GET "+testBaseURL+"/api/v2/beatmaps"])
}

func TestResolveMissingDownloadsAndRegistersBeatmap(t *testing.T) {
	settings := testSettings(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/oauth/token",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"access_token": "tok", "expires_in": 3600,
		}))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/beatmaps/lookup",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"id":            43,
			"beatmapset_id": 9,
			"status":        "ranked",
			"checksum":      "deadbeef",
			"version":       "Hard",
			"count_circles": 50,
			"beatmapset": map[string]any{
				"artist": "Artist", "title": "Title", "creator": "Mapper",
			},
		}))
	body := "osu file format v14\n\n[Metadata]\nBeatmapID:43\n"
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/osu/43",
		httpmock.NewStringResponder(200, body))

	sess := newTestSession(t, settings)
	sess.resolveMissing(context.Background(),
		[]*replay.Record{{BeatmapHash: "deadbeef"}})

	target := filepath.Join(settings.Paths.MapsDir, "43.osu")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	sum, err := hashindex.HashFile(target)
	require.NoError(t, err)

	// The downloaded file is reachable through the hash index and its
	// identity is recorded in the metadata store under the new hash.
	path, ok := sess.index.Lookup(sum)
	require.True(t, ok)
	assert.Equal(t, target, path)

	rec, err := sess.store.GetByChecksum(sum)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(43), rec.BeatmapID)
	assert.Equal(t, datastore.LookupFound, rec.LookupStatus)
	assert.Equal(t, "ranked", rec.APIStatus)
}

func TestDeferredLookupsPersistNegativeCache(t *testing.T) {
	settings := testSettings(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/oauth/token",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"access_token": "tok", "expires_in": 3600,
		}))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/beatmaps/lookup",
		httpmock.NewStringResponder(404, `{"error":"not found"}`))

	sess := newTestSession(t, settings)
	require.NoError(t, sess.store.Upsert(&datastore.BeatmapRecord{MD5Hash: "aaa111"}))

	sess.deferredLookups(context.Background())

	// The negative cache reaches disk before the saving phase runs.
	data, err := os.ReadFile(filepath.Join(settings.Paths.CacheDir, "negative.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "aaa111")
}

func TestSessionRunFailsWithoutPlayer(t *testing.T) {
	settings := testSettings(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/oauth/token",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"access_token": "tok", "expires_in": 3600,
		}))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/v2/users/TestPlayer/osu",
		httpmock.NewStringResponder(404, `{"error":"not found"}`))

	sess := newTestSession(t, settings)
	_, err := sess.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "player lookup failed")
}
