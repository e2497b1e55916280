package staging

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Rule is the fixed naming convention for drop files: a marker token that keys
// contain (and local filenames start with) plus a fixed suffix.
type Rule struct {
	Prefix string
	Suffix string
}

// MatchesKey reports whether a remote key is a drop file.
func (r Rule) MatchesKey(key string) bool {
	return strings.Contains(key, r.Prefix) && strings.HasSuffix(key, r.Suffix)
}

// MatchesFile reports whether a local filename is a staged drop file.
func (r Rule) MatchesFile(name string) bool {
	return strings.HasPrefix(name, r.Prefix) && strings.HasSuffix(name, r.Suffix)
}

// SourceID extracts the numeric source id embedded in a drop filename. The id is the
// second "_"-separated segment with its one-letter tag dropped:
// "orders_t12_2024.csv" → 12.
func SourceID(filename string) (int64, error) {
	name := path.Base(filename)
	parts := strings.Split(name, "_")
	if len(parts) < 2 || len(parts[1]) < 2 {
		return 0, fmt.Errorf("filename %q has no source id segment", name)
	}

	segment := strings.TrimSuffix(parts[1], path.Ext(parts[1]))
	id, err := strconv.ParseInt(segment[1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("filename %q: source id %q is not numeric", name, segment[1:])
	}
	return id, nil
}
