package detect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultThreshold is the number of fragment hits, counted across all groups,
// needed before a file is reported. A single coincidental hit is not enough.
const DefaultThreshold = 3

// SignatureGroup is a named list of byte fragments.
type SignatureGroup struct {
	Name      string
	Fragments [][]byte
}

// SignatureSet is an immutable table of fragments expected verbatim in a moo
// binary.
type SignatureSet struct {
	groups []SignatureGroup
}

// MooSignatures returns the function and constant names compiled into the
// reference sample.
func MooSignatures() *SignatureSet {
	return NewSignatureSet(map[string][]string{
		"function_names": {
			"moo_starter",
			"moo_open_and_read_file",
			"moo_operation_encrypt",
		},
		"constants": {
			"MOO_ENCRYPTION_KEY",
			"MOO_PADDER",
			"MOO_ERROR_FILE_READ_ERROR",
		},
	})
}

// NewSignatureSet copies groups into a set. Groups are ordered by name and
// empty fragments are dropped.
func NewSignatureSet(groups map[string][]string) *SignatureSet {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &SignatureSet{}
	for _, name := range names {
		g := SignatureGroup{Name: name}
		for _, frag := range groups[name] {
			if frag == "" {
				continue
			}
			g.Fragments = append(g.Fragments, []byte(frag))
		}
		s.groups = append(s.groups, g)
	}
	return s
}

// LoadSignatureSet reads a JSON object of group name to fragment list, e.g.
// {"function_names": ["moo_starter"], "constants": ["MOO_PADDER"]}.
func LoadSignatureSet(path string) (*SignatureSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var groups map[string][]string
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("parse signature file %s: %w", path, err)
	}
	s := NewSignatureSet(groups)
	if s.Len() == 0 {
		return nil, fmt.Errorf("signature file %s has no fragments", path)
	}
	return s, nil
}

// Len is the total fragment count across groups.
func (s *SignatureSet) Len() int {
	n := 0
	for _, g := range s.groups {
		n += len(g.Fragments)
	}
	return n
}

// Matches returns "group:fragment" for every fragment found in content. A
// fragment listed in two groups is counted twice.
func (s *SignatureSet) Matches(content []byte) []string {
	var hits []string
	for _, g := range s.groups {
		for _, frag := range g.Fragments {
			if bytes.Contains(content, frag) {
				hits = append(hits, g.Name+":"+string(frag))
			}
		}
	}
	return hits
}

// SignatureClassifier decides whether a file is a moo binary by counting
// signature fragments in its full content.
type SignatureClassifier struct {
	set       *SignatureSet
	threshold int
}

func NewSignatureClassifier(set *SignatureSet, threshold int) *SignatureClassifier {
	if set == nil {
		set = MooSignatures()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &SignatureClassifier{set: set, threshold: threshold}
}

// Classify reads the whole file. There is no size cap.
func (c *SignatureClassifier) Classify(path string) Verdict {
	content, err := os.ReadFile(path)
	if err != nil {
		log.WithField("path", path).Errorf("Error analyzing file: %s", err)
		return failed(err)
	}
	return c.ClassifyBytes(content)
}

func (c *SignatureClassifier) ClassifyBytes(content []byte) Verdict {
	hits := c.set.Matches(content)
	reason := fmt.Sprintf("%d/%d signatures", len(hits), c.threshold)
	if len(hits) > 0 {
		reason += " (" + strings.Join(hits, ", ") + ")"
	}
	return Verdict{Match: len(hits) >= c.threshold, Reason: reason}
}

// IsMalwareBinary reports a match. Read failures count as no match.
func (c *SignatureClassifier) IsMalwareBinary(path string) bool {
	return c.Classify(path).Match
}
