package osuapi

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Beatmapset carries the set-level metadata embedded in beatmap
// responses.
type Beatmapset struct {
	Artist  string `json:"artist"`
	Title   string `json:"title"`
	Creator string `json:"creator"`
}

// Beatmap is the API representation of one difficulty.
type Beatmap struct {
	ID            int64       `json:"id"`
	BeatmapsetID  int64       `json:"beatmapset_id"`
	Status        string      `json:"status"`
	Checksum      string      `json:"checksum"`
	Version       string      `json:"version"`
	CountCircles  int         `json:"count_circles"`
	CountSliders  int         `json:"count_sliders"`
	CountSpinners int         `json:"count_spinners"`
	Beatmapset    *Beatmapset `json:"beatmapset"`
}

// HitObjectCount sums the per-type object counts.
func (b *Beatmap) HitObjectCount() int {
	return b.CountCircles + b.CountSliders + b.CountSpinners
}

// User is the subset of a user profile the scan needs.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Score is one entry of a player's online best scores.
type Score struct {
	PP        float64   `json:"pp"`
	Accuracy  float64   `json:"accuracy"`
	Score     int64     `json:"score"`
	MaxCombo  int       `json:"max_combo"`
	Rank      string    `json:"rank"`
	Mods      []string  `json:"mods"`
	CreatedAt time.Time `json:"created_at"`
	Beatmap   *Beatmap  `json:"beatmap"`
	Statistics struct {
		Count300  int `json:"count_300"`
		Count100  int `json:"count_100"`
		Count50   int `json:"count_50"`
		CountMiss int `json:"count_miss"`
	} `json:"statistics"`
}

// LookupBeatmapByChecksum resolves a beatmap by its file content hash.
// A missing beatmap returns ErrNotFound.
func (c *Client) LookupBeatmapByChecksum(ctx context.Context, checksum string) (*Beatmap, error) {
	var b Beatmap
	q := url.Values{"checksum": {checksum}}
	if err := c.get(ctx, "/api/v2/beatmaps/lookup", q, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// FetchBeatmap fetches one beatmap by numeric id.
func (c *Client) FetchBeatmap(ctx context.Context, beatmapID int64) (*Beatmap, error) {
	var b Beatmap
	if err := c.get(ctx, "/api/v2/beatmaps/"+itoa(beatmapID), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// FetchBeatmaps fetches beatmaps in id batches of the configured size.
// Ids absent from the responses are simply missing from the result.
func (c *Client) FetchBeatmaps(ctx context.Context, ids []int64) (map[int64]*Beatmap, error) {
	out := make(map[int64]*Beatmap, len(ids))

	for start := 0; start < len(ids); start += c.settings.BatchSize {
		end := start + c.settings.BatchSize
		if end > len(ids) {
			end = len(ids)
		}

		q := url.Values{}
		for _, id := range ids[start:end] {
			q.Add("ids[]", itoa(id))
		}

		var page struct {
			Beatmaps []*Beatmap `json:"beatmaps"`
		}
		if err := c.get(ctx, "/api/v2/beatmaps", q, &page); err != nil {
			return nil, err
		}
		for _, b := range page.Beatmaps {
			out[b.ID] = b
		}
	}

	return out, nil
}

// FetchUserProfile resolves the target player. lookupKey is "username"
// or "id".
func (c *Client) FetchUserProfile(ctx context.Context, identifier, lookupKey string) (*User, error) {
	var u User
	q := url.Values{"key": {lookupKey}}
	if err := c.get(ctx, "/api/v2/users/"+url.PathEscape(identifier)+"/osu", q, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// FetchUserTopScores pages through the player's best scores up to
// limit, using the configured page size.
func (c *Client) FetchUserTopScores(ctx context.Context, userID int64, limit int) ([]*Score, error) {
	var scores []*Score

	for offset := 0; offset < limit; offset += c.settings.PageSize {
		pageLimit := c.settings.PageSize
		if remaining := limit - offset; remaining < pageLimit {
			pageLimit = remaining
		}

		q := url.Values{
			"mode":   {"osu"},
			"limit":  {itoa(int64(pageLimit))},
			"offset": {itoa(int64(offset))},
		}

		var page []*Score
		if err := c.get(ctx, "/api/v2/users/"+itoa(userID)+"/scores/best", q, &page); err != nil {
			return nil, err
		}
		scores = append(scores, page...)

		if len(page) < pageLimit {
			break
		}
	}

	return scores, nil
}

// DownloadBeatmapFile fetches the raw .osu file for a beatmap id from
// the public endpoint into targetPath. The download is skipped when the
// target already exists. The public budget has its own rate limiter.
func (c *Client) DownloadBeatmapFile(ctx context.Context, beatmapID int64, targetPath string) error {
	if _, err := os.Stat(targetPath); err == nil {
		return nil
	}

	if err := c.wait(ctx, c.publicLim); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.settings.BaseURL+"/osu/"+itoa(beatmapID), nil)
	if err != nil {
		return errorsNetwork(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errorsNetwork(err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return errorsStatus(resp.StatusCode, "/osu/"+itoa(beatmapID))
	}

	data, err := readBody(resp)
	if err != nil {
		return errorsNetwork(err)
	}
	if len(data) == 0 {
		return errorsStatus(http.StatusNotFound, "/osu/"+itoa(beatmapID))
	}

	if dir := filepath.Dir(targetPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(targetPath, data, 0o644)
}
