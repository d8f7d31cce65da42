package model

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// PledgeIDRegex matches PLEDGE-{4-digit year}-{sequence}
const PledgeIDRegex = `\bPLEDGE-(\d{4})-(\d+)\b`

var (
	pledgeIDSearch = regexp.MustCompile(PledgeIDRegex)
	pledgeIDExact  = regexp.MustCompile(`^PLEDGE-(\d{4})-(\d+)$`)
)

func FormatPledgeID(year, seq int) string {
	return fmt.Sprintf("PLEDGE-%04d-%03d", year, seq)
}

// ParsePledgeID splits a well-formed pledge id into year and sequence.
func ParsePledgeID(id string) (year int, seq int, err error) {
	m := pledgeIDExact.FindStringSubmatch(id)
	if m == nil {
		return 0, 0, errors.Errorf("malformed pledge id %q", id)
	}

	year, _ = strconv.Atoi(m[1])
	seq, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed pledge sequence in %q", id)
	}

	return year, seq, nil
}

// FindPledgeID scans free text (e.g. a mail subject) for the first pledge id.
func FindPledgeID(text string) (string, bool) {
	id := pledgeIDSearch.FindString(text)
	return id, id != ""
}
