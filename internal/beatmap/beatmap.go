// Package beatmap parses .osu beatmap definition files for the metadata
// and hit-object information the pipeline needs. The format is an
// INI-like text file with [Section] headers; only [Metadata] and
// [HitObjects] matter here.
package beatmap

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
)

// Metadata is the subset of .osu metadata the pipeline consumes.
type Metadata struct {
	BeatmapID    int64
	BeatmapSetID int64
	Artist       string
	Title        string
	Creator      string
	Version      string
	HitObjects   int
}

// ParseFile reads a .osu file and extracts metadata plus the hit-object
// count in a single pass.
func ParseFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "parse-beatmap").
			Build()
	}
	defer f.Close()

	md := &Metadata{}
	section := ""

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}

		switch section {
		case "Metadata":
			key, value, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			applyMetadata(md, strings.TrimSpace(key), strings.TrimSpace(value))
		case "HitObjects":
			md.HitObjects++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("operation", "parse-beatmap").
			Build()
	}

	return md, nil
}

func applyMetadata(md *Metadata, key, value string) {
	switch key {
	case "Artist":
		md.Artist = value
	case "Title":
		md.Title = value
	case "Creator":
		md.Creator = value
	case "Version":
		md.Version = value
	case "BeatmapID":
		if id, err := strconv.ParseInt(value, 10, 64); err == nil {
			md.BeatmapID = id
		}
	case "BeatmapSetID":
		if id, err := strconv.ParseInt(value, 10, 64); err == nil {
			md.BeatmapSetID = id
		}
	}
}
