package feed

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Cohort is the set of NHS numbers in scope for a feed. An empty cohort
// treats every patient as in scope.
type Cohort struct {
	members map[string]struct{}
}

// LoadCohort reads one NHS number per line; blank lines and '#' comments are
// skipped. Numbers are stored space-stripped, no checksum validation is
// applied here.
func LoadCohort(path string) (*Cohort, error) {
	cohort := &Cohort{}
	if path == "" {
		return cohort, nil
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	members := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		members[strings.ReplaceAll(line, " ", "")] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	cohort.members = members
	return cohort, nil
}

func (c *Cohort) Size() int {
	if c == nil {
		return 0
	}
	return len(c.members)
}

// Contains reports cohort membership. Empty cohorts contain everything so a
// feed without a cohort file keeps working.
func (c *Cohort) Contains(nhsNumber string) bool {
	if c == nil || len(c.members) == 0 {
		return true
	}
	_, ok := c.members[strings.ReplaceAll(strings.TrimSpace(nhsNumber), " ", "")]
	return ok
}
