package replay

import "sort"

// modBit maps one bitmask bit to its mod name.
type modBit struct {
	bit  uint32
	name string
}

// Bits are tested in this order; NC keeps DT alongside it when both are
// set, and PF is added on top of SD.
var modBits = []modBit{
	{1, "NF"},
	{2, "EZ"},
	{8, "HD"},
	{16, "HR"},
	{32, "SD"},
	{64, "DT"},
	{128, "RX"},
	{256, "HT"},
	{512, "NC"},
	{1024, "FL"},
	{2048, "AT"},
	{4096, "SO"},
	{8192, "AP"},
	{16384, "PF"},
	{536870912, "V2"},
}

// disallowedMods contains assisted and alternate-scoring mods whose
// replays are never candidates.
var disallowedMods = map[string]struct{}{
	"RX": {},
	"AT": {},
	"AP": {},
	"V2": {},
}

// DecodeMods expands a replay mod bitmask into a deduplicated,
// alphabetically sorted mod-name set.
func DecodeMods(bits uint32) []string {
	seen := make(map[string]struct{})
	for _, m := range modBits {
		if bits&m.bit != 0 {
			seen[m.name] = struct{}{}
		}
	}
	mods := make([]string, 0, len(seen))
	for name := range seen {
		mods = append(mods, name)
	}
	sort.Strings(mods)
	return mods
}

// ContainsDisallowed reports whether any decoded mod is in the
// disallowed set.
func ContainsDisallowed(mods []string) bool {
	for _, m := range mods {
		if _, ok := disallowedMods[m]; ok {
			return true
		}
	}
	return false
}

// displayPriority orders mods the way players expect to read them.
var displayPriority = map[string]int{
	"EZ": 1,
	"HD": 2,
	"DT": 3,
	"NC": 3,
	"HT": 3,
	"HR": 4,
	"FL": 5,
	"NF": 6,
	"SO": 7,
}

// SortForDisplay returns the mods ordered for human-readable output.
// Unknown mods sort last, keeping their alphabetical order stable.
func SortForDisplay(mods []string) []string {
	out := make([]string, len(mods))
	copy(out, mods)
	sort.SliceStable(out, func(i, j int) bool {
		return displayRank(out[i]) < displayRank(out[j])
	})
	return out
}

func displayRank(mod string) int {
	if p, ok := displayPriority[mod]; ok {
		return p
	}
	return 9999
}

// FormatForDisplay renders a mod set for reports: display-ordered and
// concatenated, or "NM" when no display mods remain.
func FormatForDisplay(mods []string) string {
	ordered := SortForDisplay(mods)
	if len(ordered) == 0 {
		return "NM"
	}
	s := ""
	for _, m := range ordered {
		s += m
	}
	return s
}
