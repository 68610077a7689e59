package school

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const maxAge = 18

var ErrInvalidAgeRange = errors.New("invalid age range")

// AgeRange is an inclusive range of ages in years, written "3-4".
type AgeRange struct {
	Min int
	Max int
}

var ageDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	"–", "-", "—", "-", "−", "-",
)

// ParseAgeRange parses labels such as "3-4", "3 - 4", "٣-٤" or a single age "5".
func ParseAgeRange(label string) (AgeRange, error) {
	s := strings.ReplaceAll(ageDigits.Replace(strings.TrimSpace(label)), " ", "")
	if s == "" {
		return AgeRange{}, errors.Wrap(ErrInvalidAgeRange, "empty label")
	}

	parts := strings.Split(s, "-")
	if len(parts) > 2 {
		return AgeRange{}, errors.Wrapf(ErrInvalidAgeRange, "%q", label)
	}
	min, err := strconv.Atoi(parts[0])
	if err != nil {
		return AgeRange{}, errors.Wrapf(ErrInvalidAgeRange, "%q", label)
	}
	max := min
	if len(parts) == 2 {
		if max, err = strconv.Atoi(parts[1]); err != nil {
			return AgeRange{}, errors.Wrapf(ErrInvalidAgeRange, "%q", label)
		}
	}
	if min < 0 || max > maxAge || min > max {
		return AgeRange{}, errors.Wrapf(ErrInvalidAgeRange, "%q out of bounds", label)
	}
	return AgeRange{Min: min, Max: max}, nil
}

func (r AgeRange) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Within reports whether r is fully covered by other.
func (r AgeRange) Within(other AgeRange) bool {
	return r.Min >= other.Min && r.Max <= other.Max
}

// NormalizeAgeRanges parses and re-formats labels, dropping duplicates.
func NormalizeAgeRanges(labels []string) ([]string, error) {
	out := make([]string, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, label := range labels {
		r, err := ParseAgeRange(label)
		if err != nil {
			return nil, err
		}
		if s := r.String(); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// AgeRangesWithin reports the labels of classRanges not covered by any of allowed.
// Every label is accepted when allowed is empty.
func AgeRangesWithin(classRanges, allowed []string) ([]string, error) {
	if len(allowed) == 0 {
		return nil, nil
	}
	parsed := make([]AgeRange, 0, len(allowed))
	for _, label := range allowed {
		r, err := ParseAgeRange(label)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, r)
	}

	var outside []string
	for _, label := range classRanges {
		r, err := ParseAgeRange(label)
		if err != nil {
			return nil, err
		}
		covered := false
		for _, a := range parsed {
			if r.Within(a) {
				covered = true
				break
			}
		}
		if !covered {
			outside = append(outside, label)
		}
	}
	return outside, nil
}
