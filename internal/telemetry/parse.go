package telemetry

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/t77yq/scash-manager/internal/model"
)

var (
	// 0.11 khash/s, 12.3 H/s, 1.5 MH/s
	hashratePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([kmgt]?(?:hash|h)/s)`)

	submitPattern = regexp.MustCompile(`(?i)accepted:\s*\d+/\d+`)
	timePattern   = regexp.MustCompile(`\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\]`)
)

var unitMultipliers = map[byte]float64{
	'k': 1e3,
	'm': 1e6,
	'g': 1e9,
	't': 1e12,
}

// LatestSample returns the last hash rate mentioned in the log buffer.
func (p *Pipeline) LatestSample() (model.HashSample, bool) {
	return ParseHashrate(p.Text())
}

// LastSubmission returns the last accepted share line in the log buffer and
// the rightmost bracketed timestamp within it.
func (p *Pipeline) LastSubmission() (model.Submission, bool) {
	return ParseSubmission(p.Lines())
}

// ParseHashrate finds the last hash rate in text and normalizes it to H/s.
func ParseHashrate(text string) (model.HashSample, bool) {
	matches := hashratePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return model.HashSample{}, false
	}

	last := matches[len(matches)-1]
	value, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return model.HashSample{}, false
	}
	unit := last[2]

	return model.HashSample{
		Raw:   last[0],
		Value: value,
		Unit:  unit,
		Rate:  value * UnitMultiplier(unit),
	}, true
}

// UnitMultiplier returns the H/s multiplier of a rate unit.
func UnitMultiplier(unit string) float64 {
	lower := strings.ToLower(unit)
	if lower == "" || strings.HasPrefix(lower, "h") {
		return 1
	}
	if mul, ok := unitMultipliers[lower[0]]; ok {
		return mul
	}
	return 1
}

// ParseSubmission finds the last accepted share line.
func ParseSubmission(lines []string) (model.Submission, bool) {
	var last string
	found := false
	for _, line := range lines {
		if submitPattern.MatchString(line) {
			last = line
			found = true
		}
	}
	if !found {
		return model.Submission{}, false
	}

	sub := model.Submission{Line: last}
	if times := timePattern.FindAllStringSubmatch(last, -1); len(times) > 0 {
		sub.TimeStr = times[len(times)-1][1]
	}
	return sub, true
}
