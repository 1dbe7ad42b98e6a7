package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"dropwatch/lib/textutil"
)

const defaultTitle = "(untitled session)"

// field name preference orders for the summary and canonical link
var (
	titleFields = []string{"title", "name"}
	startFields = []string{"start", "startTime", "startsAt"}
	linkFields  = []string{"url", "link", "href", "registrationUrl", "detailsUrl"}
)

// Event is the normalized view of one extracted candidate.
type Event struct {
	// Summary joins the title, start time and venue name of the
	// candidate, omitting empty parts.
	Summary string
	// SearchText is a lowercase whitespace-collapsed serialization of
	// the whole candidate; every substring predicate runs against it.
	SearchText string
	// Url is the first link-like field with a real scheme, else the
	// discover url the candidate was found through.
	Url string

	Fields map[string]any
}

// Id is the stable dedup identity of the event.
func (e Event) Id() string {
	return StableId(e.Summary, e.Url)
}

// StableId fingerprints a (summary, url) pair. Deterministic across
// processes; textually identical events collide, which is a known
// limitation of content addressing.
func StableId(summary, url string) string {
	sum := sha256.Sum256([]byte(summary + "\n" + url))
	return hex.EncodeToString(sum[:16])
}

// Normalize derives the searchable and displayable views of a candidate.
// discoverUrl backstops the link so every event stays navigable.
func Normalize(fields map[string]any, discoverUrl string) Event {
	e := Event{Fields: fields}

	// json.Marshal sorts map keys, so the serialization (and therefore
	// the search text) is deterministic for a given candidate
	raw, err := json.Marshal(fields)
	if err != nil {
		raw = []byte(fmt.Sprint(fields))
	}
	e.SearchText = textutil.Normalize(string(raw))

	title := firstField(fields, titleFields)
	if title == "" {
		title = defaultTitle
	}
	parts := []string{title}
	if start := firstField(fields, startFields); start != "" {
		parts = append(parts, start)
	}
	if venue := venueName(fields); venue != "" {
		parts = append(parts, venue)
	}
	e.Summary = strings.Join(parts, " | ")

	e.Url = discoverUrl
	for _, k := range linkFields {
		v := stringField(fields, k)
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			e.Url = v
			break
		}
	}

	return e
}

func venueName(fields map[string]any) string {
	if v := stringField(fields, "venueName"); v != "" {
		return v
	}
	nested, ok := lookup(fields, "venue").(map[string]any)
	if !ok {
		return ""
	}
	return stringField(nested, "name")
}

// lookup finds a key case-insensitively, preferring an exact match.
func lookup(fields map[string]any, key string) any {
	if v, ok := fields[key]; ok {
		return v
	}
	for k, v := range fields {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func stringField(fields map[string]any, key string) string {
	switch v := lookup(fields, key).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func firstField(fields map[string]any, keys []string) string {
	for _, k := range keys {
		if v := stringField(fields, k); v != "" {
			return v
		}
	}
	return ""
}
