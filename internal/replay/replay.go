// Package replay decodes osu! .osr replay files into structured records.
//
// The .osr container is little-endian with length-prefixed strings: a
// marker byte 0x00 means an empty string, 0x0B means a ULEB128 byte
// length followed by that many UTF-8 bytes. Any other marker is a
// decode error.
package replay

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/errors"
)

// ModeStandard is the only game mode the pipeline processes.
const ModeStandard = 0

// ticks/10000 gives milliseconds since year 1; this offset shifts to Unix.
const unixEpochOffsetMillis = 62135596800000

// Record is one decoded replay. Immutable once decoded.
type Record struct {
	GameMode    byte
	BeatmapHash string
	PlayerName  string
	Count300    uint16
	Count100    uint16
	Count50     uint16
	CountMiss   uint16
	TotalScore  uint32
	MaxCombo    uint16
	Perfect     bool
	Mods        []string
	Timestamp   int64 // Unix seconds

	// Source file identity, filled by the caller.
	FilePath string
	FileMod  int64
}

// reader tracks a position over the raw replay bytes and fails with a
// truncation error instead of panicking on short buffers.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, errors.Newf("replay buffer truncated at offset %d (want %d bytes, have %d)", r.pos, n, len(r.data)-r.pos).
			Category(errors.CategoryReplayDecode).
			Build()
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) int64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// uleb128 reads an unsigned LEB128 value.
func (r *reader) uleb128() (int, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 35 {
			return 0, errors.Newf("replay string length overflows at offset %d", r.pos).
				Category(errors.CategoryReplayDecode).
				Build()
		}
	}
	return int(result), nil
}

// str reads one marker-prefixed string.
func (r *reader) str() (string, error) {
	marker, err := r.byte()
	if err != nil {
		return "", err
	}
	switch marker {
	case 0x00:
		return "", nil
	case 0x0b:
		n, err := r.uleb128()
		if err != nil {
			return "", err
		}
		b, err := r.take(n)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", errors.Newf("invalid string marker 0x%02x at offset %d", marker, r.pos-1).
			Category(errors.CategoryReplayDecode).
			Build()
	}
}

// Decode parses the raw bytes of one replay file and validates it
// against the target player. It returns (nil, nil) for replays that are
// well-formed but filtered out: wrong game mode, disallowed mods, or a
// player name that does not match targetPlayer case-insensitively.
func Decode(data []byte, targetPlayer string) (*Record, error) {
	r := &reader{data: data}

	mode, err := r.byte()
	if err != nil {
		return nil, err
	}

	// Game client version, unused.
	if _, err := r.take(4); err != nil {
		return nil, err
	}

	beatmapHash, err := r.str()
	if err != nil {
		return nil, err
	}
	playerName, err := r.str()
	if err != nil {
		return nil, err
	}
	// Replay hash, unused.
	if _, err := r.str(); err != nil {
		return nil, err
	}

	var counts [6]uint16
	for i := range counts {
		if counts[i], err = r.uint16(); err != nil {
			return nil, err
		}
	}

	totalScore, err := r.uint32()
	if err != nil {
		return nil, err
	}
	maxCombo, err := r.uint16()
	if err != nil {
		return nil, err
	}
	perfect, err := r.byte()
	if err != nil {
		return nil, err
	}
	modBits, err := r.uint32()
	if err != nil {
		return nil, err
	}
	// Life bar graph, unused.
	if _, err := r.str(); err != nil {
		return nil, err
	}
	ticks, err := r.int64()
	if err != nil {
		return nil, err
	}

	if mode != ModeStandard {
		return nil, nil
	}

	mods := DecodeMods(modBits)
	if ContainsDisallowed(mods) {
		return nil, nil
	}

	if !strings.EqualFold(playerName, targetPlayer) {
		return nil, nil
	}

	return &Record{
		GameMode:    mode,
		BeatmapHash: beatmapHash,
		PlayerName:  playerName,
		Count300:    counts[0],
		Count100:    counts[1],
		Count50:     counts[2],
		CountMiss:   counts[5],
		TotalScore:  totalScore,
		MaxCombo:    maxCombo,
		Perfect:     perfect == 0x01,
		Mods:        mods,
		Timestamp:   ticksToUnix(ticks),
	}, nil
}

func ticksToUnix(ticks int64) int64 {
	millis := ticks/10000 - unixEpochOffsetMillis
	return millis / 1000
}

// Accuracy returns the standard 300-weighted accuracy percentage,
// rounded to two decimals. An empty hit set counts as 100%.
func Accuracy(c300, c100, c50, miss uint16) float64 {
	hits := int(c300) + int(c100) + int(c50) + int(miss)
	if hits == 0 {
		return 100.0
	}
	acc := float64(300*int(c300)+100*int(c100)+50*int(c50)) / float64(300*hits) * 100
	return math.Round(acc*100) / 100
}
