/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratespec provides parsing and validation of textual rate tier descriptors
// and multi-tier bucket specifications.
//
// A single tier is described as "<count>/<number><unit>", where the number is an
// optional positive multiplier (absent means 1) and the unit is one of
// s (seconds), m (minutes), h (hours), d (days), w (weeks).
// A bucket specification is a ':'- or ','-separated list of such descriptors,
// for example "2/5s:15/m:100/4h".
package ratespec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rate describes a single rate tier: at most Limit admissions per rolling Window.
type Rate struct {
	Limit  int
	Window time.Duration
}

// InvalidRateSpecError is returned when a rate descriptor or a bucket
// specification is malformed or violates the tier ordering invariants.
type InvalidRateSpecError struct {
	Spec   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidRateSpecError) Error() string {
	return fmt.Sprintf("invalid rate spec %q: %s", e.Spec, e.Reason)
}

var unitWindows = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": time.Hour * 24,
	"w": time.Hour * 24 * 7,
}

// ParseRate parses a single rate descriptor like "2/5s", "15/m" or "100/4h".
func ParseRate(descriptor string) (Rate, error) {
	parts := strings.SplitN(descriptor, "/", 2)
	if len(parts) != 2 {
		return Rate{}, &InvalidRateSpecError{descriptor, `missing "/", should be <count>/<number><unit>, for example 2/5s, 15/m, 100/4h`}
	}
	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return Rate{}, &InvalidRateSpecError{descriptor, fmt.Sprintf("count %q should be a positive integer", parts[0])}
	}
	interval := parts[1]
	if interval == "" {
		return Rate{}, &InvalidRateSpecError{descriptor, "missing window, should be <number><unit>"}
	}
	unit := interval[len(interval)-1:]
	window, ok := unitWindows[unit]
	if !ok {
		return Rate{}, &InvalidRateSpecError{descriptor, fmt.Sprintf("unknown window unit %q, should be one of s, m, h, d, w", unit)}
	}
	if num := interval[:len(interval)-1]; num != "" {
		mul, numErr := strconv.Atoi(num)
		if numErr != nil || mul <= 0 {
			return Rate{}, &InvalidRateSpecError{descriptor, fmt.Sprintf("window multiplier %q should be a positive integer", num)}
		}
		window *= time.Duration(mul)
	}
	return Rate{Limit: limit, Window: window}, nil
}

// String returns the canonical textual form of the rate.
// Implements fmt.Stringer interface.
func (r Rate) String() string {
	units := []struct {
		suffix string
		window time.Duration
	}{
		{"w", time.Hour * 24 * 7},
		{"d", time.Hour * 24},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
	}
	for _, u := range units {
		if r.Window%u.window == 0 {
			if mul := r.Window / u.window; mul == 1 {
				return fmt.Sprintf("%d/%s", r.Limit, u.suffix)
			} else if mul > 0 {
				return fmt.Sprintf("%d/%d%s", r.Limit, mul, u.suffix)
			}
		}
	}
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// TierList is an ordered list of rate tiers.
// It can be parsed from a ':'- or ','-separated list of rate descriptors,
// which makes it usable as a configuration value type
// (text, JSON and YAML unmarshaling are supported).
type TierList []Rate

func splitTiers(spec string) []string {
	return strings.FieldsFunc(spec, func(r rune) bool {
		return r == ':' || r == ','
	})
}

func (tl *TierList) unmarshal(spec string) error {
	descriptors := splitTiers(spec)
	if len(descriptors) == 0 {
		return &InvalidRateSpecError{spec, "at least one rate tier is required"}
	}
	tiers := make(TierList, 0, len(descriptors))
	for _, d := range descriptors {
		rate, err := ParseRate(strings.TrimSpace(d))
		if err != nil {
			return err
		}
		tiers = append(tiers, rate)
	}
	*tl = tiers
	return nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (tl *TierList) UnmarshalText(text []byte) error {
	return tl.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (tl *TierList) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return tl.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (tl *TierList) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return tl.unmarshal(text)
}

// String returns the canonical ':'-separated textual form of the list.
// Implements fmt.Stringer interface.
func (tl TierList) String() string {
	descriptors := make([]string, 0, len(tl))
	for _, r := range tl {
		descriptors = append(descriptors, r.String())
	}
	return strings.Join(descriptors, ":")
}

// MarshalText implements the encoding.TextMarshaler interface.
func (tl TierList) MarshalText() ([]byte, error) {
	return []byte(tl.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (tl TierList) MarshalJSON() ([]byte, error) {
	return json.Marshal(tl.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (tl TierList) MarshalYAML() (interface{}, error) {
	return tl.String(), nil
}

// BucketSpec is a named, validated, ordered sequence of rate tiers.
// All tiers must admit a request for capacity to be consumed.
type BucketSpec struct {
	Name  string
	Tiers TierList
}

// NewBucketSpec builds a BucketSpec and validates the tier ordering invariants:
// windows must be strictly ascending and limits must be strictly ascending.
// A tier with a limit that does not exceed the limit of a shorter-window tier
// could never be outreached by it and would make the shorter tier redundant,
// so such specifications are rejected.
func NewBucketSpec(name string, tiers TierList) (BucketSpec, error) {
	if name == "" {
		return BucketSpec{}, &InvalidRateSpecError{tiers.String(), "bucket name should not be empty"}
	}
	if len(tiers) == 0 {
		return BucketSpec{}, &InvalidRateSpecError{"", fmt.Sprintf("bucket %q should have at least one rate tier", name)}
	}
	for i := 1; i < len(tiers); i++ {
		prev, cur := tiers[i-1], tiers[i]
		if cur.Window <= prev.Window {
			return BucketSpec{}, &InvalidRateSpecError{tiers.String(), fmt.Sprintf(
				"tiers %q and %q should be ordered by strictly ascending window", prev, cur)}
		}
		if cur.Limit <= prev.Limit {
			return BucketSpec{}, &InvalidRateSpecError{tiers.String(), fmt.Sprintf(
				"tier %q allows no more admissions than shorter tier %q and makes it redundant", cur, prev)}
		}
	}
	return BucketSpec{Name: name, Tiers: tiers}, nil
}

// ParseBucketSpec parses and validates a full bucket specification
// like "2/5s:15/m:100/4h" for the named bucket.
func ParseBucketSpec(name, spec string) (BucketSpec, error) {
	var tiers TierList
	if err := tiers.unmarshal(spec); err != nil {
		return BucketSpec{}, err
	}
	return NewBucketSpec(name, tiers)
}
