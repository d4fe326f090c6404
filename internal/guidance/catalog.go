// Package guidance holds the static disease guidance catalog and the
// enrichment step that attaches guidance to a classifier label.
package guidance

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/arbovm/levenshtein"
	"gopkg.in/yaml.v3"
)

//go:embed guidance.yaml
var embeddedCatalog []byte

// MatchMode controls how labels are compared against catalog keys.
type MatchMode string

const (
	// MatchExact compares labels byte for byte.
	MatchExact MatchMode = "exact"
	// MatchNormalized trims surrounding whitespace and folds case before comparing.
	MatchNormalized MatchMode = "normalized"
)

// Entry is the guidance attached to one disease label.
type Entry struct {
	Description string   `yaml:"description" json:"description"`
	Suggestions []string `yaml:"suggestions" json:"suggestions"`
}

// Enrichment is the result of resolving a classifier label against the catalog.
type Enrichment struct {
	Label       string   `json:"disease"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Suggestions []string `json:"suggestions"`
	Known       bool     `json:"-"`
}

type document struct {
	Fallback Entry            `yaml:"fallback"`
	Entries  map[string]Entry `yaml:"entries"`
}

// Catalog is an immutable label -> guidance mapping. It is populated once
// and safe for concurrent reads.
type Catalog struct {
	mode       MatchMode
	entries    map[string]Entry
	normalized map[string]string
	fallback   Entry
	labels     []string
}

// New builds a catalog from the embedded guidance document.
func New(mode MatchMode) (*Catalog, error) {
	return Load(embeddedCatalog, mode)
}

// Load parses a guidance document. Every entry, including the fallback, must
// carry a description and at least one suggestion.
func Load(data []byte, mode MatchMode) (*Catalog, error) {
	switch mode {
	case "":
		mode = MatchExact
	case MatchExact, MatchNormalized:
	default:
		return nil, fmt.Errorf("unsupported match mode %q", mode)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse guidance catalog: %w", err)
	}
	if err := validateEntry("fallback", doc.Fallback); err != nil {
		return nil, err
	}

	c := &Catalog{
		mode:       mode,
		entries:    make(map[string]Entry, len(doc.Entries)),
		normalized: make(map[string]string, len(doc.Entries)),
		fallback:   cloneEntry(doc.Fallback),
		labels:     make([]string, 0, len(doc.Entries)),
	}

	for label, entry := range doc.Entries {
		if label == "" {
			return nil, fmt.Errorf("guidance catalog contains an empty label")
		}
		if err := validateEntry(label, entry); err != nil {
			return nil, err
		}
		key := normalize(label)
		if other, dup := c.normalized[key]; dup && mode == MatchNormalized {
			return nil, fmt.Errorf("labels %q and %q collide under normalized matching", other, label)
		}
		c.entries[label] = cloneEntry(entry)
		c.normalized[key] = label
		c.labels = append(c.labels, label)
	}
	sort.Strings(c.labels)

	return c, nil
}

func validateEntry(label string, e Entry) error {
	if strings.TrimSpace(e.Description) == "" {
		return fmt.Errorf("guidance entry %q has no description", label)
	}
	if len(e.Suggestions) == 0 {
		return fmt.Errorf("guidance entry %q has no suggestions", label)
	}
	return nil
}

// Lookup returns the entry for label and whether it was found.
// Misses return the fallback entry.
func (c *Catalog) Lookup(label string) (Entry, bool) {
	key := label
	if c.mode == MatchNormalized {
		canonical, ok := c.normalized[normalize(label)]
		if !ok {
			return cloneEntry(c.fallback), false
		}
		key = canonical
	}

	entry, ok := c.entries[key]
	if !ok {
		return cloneEntry(c.fallback), false
	}
	return cloneEntry(entry), true
}

// Enrich attaches guidance to a classification. It never fails: unknown
// labels, including the empty string, resolve to the fallback entry.
func (c *Catalog) Enrich(label string, confidence float64) Enrichment {
	entry, known := c.Lookup(label)
	return Enrichment{
		Label:       label,
		Confidence:  confidence,
		Description: entry.Description,
		Suggestions: entry.Suggestions,
		Known:       known,
	}
}

// Fallback returns the entry used for unknown labels.
func (c *Catalog) Fallback() Entry {
	return cloneEntry(c.fallback)
}

// Labels returns the known labels in sorted order.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Len returns the number of known labels.
func (c *Catalog) Len() int {
	return len(c.labels)
}

// Nearest returns the known label closest to label by edit distance.
// Used for operator diagnostics when a classifier label misses the catalog.
func (c *Catalog) Nearest(label string) (string, int) {
	best, bestDist := "", -1
	for _, known := range c.labels {
		d := levenshtein.Distance(label, known)
		if bestDist < 0 || d < bestDist {
			best, bestDist = known, d
		}
	}
	return best, bestDist
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func cloneEntry(e Entry) Entry {
	suggestions := make([]string, len(e.Suggestions))
	copy(suggestions, e.Suggestions)
	return Entry{Description: e.Description, Suggestions: suggestions}
}
