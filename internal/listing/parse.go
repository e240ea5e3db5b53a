package listing

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	ratioRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[/\\]\s*(\d+(?:\.\d+)?)`)
	numberRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	minutesRe = regexp.MustCompile(`(\d+)\s*m`)
	secondsRe = regexp.MustCompile(`(\d+)\s*s`)
)

// ParseDuration converts a source-native duration string to seconds.
// Accepts "HH:MM:SS", "MM:SS" and "5m 30s" forms. Returns 0 when the
// string cannot be parsed (0 = unknown downstream).
func ParseDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		nums := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				nums = nil
				break
			}
			nums = append(nums, n)
		}
		switch len(nums) {
		case 3:
			return nums[0]*3600 + nums[1]*60 + nums[2]
		case 2:
			return nums[0]*60 + nums[1]
		}
	}

	total := 0
	if m := minutesRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n * 60
	}
	if m := secondsRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n
	}
	return total
}

// NormalizeRating maps a source-native rating string onto [0,1].
// Accepts percentages ("85%"), ratios ("4.5/5") and bare numbers whose
// scale is inferred by magnitude (/5, /10, /100). Malformed or absent
// input returns exactly 0.5 so a rating is never missing downstream.
func NormalizeRating(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0.5
	}

	if m := percentRe.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp01(v / 100)
		}
	}

	if m := ratioRe.FindStringSubmatch(s); m != nil {
		num, err1 := strconv.ParseFloat(m[1], 64)
		den, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil && den > 0 {
			return clamp01(num / den)
		}
	}

	if m := numberRe.FindStringSubmatch(s); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			switch {
			case v <= 5:
				return clamp01(v / 5)
			case v <= 10:
				return clamp01(v / 10)
			case v <= 100:
				return clamp01(v / 100)
			}
		}
	}

	return 0.5
}

// ParseViews converts a source-native view-count string to an integer.
// Handles k/m/b magnitude suffixes (case-insensitive) and thousands
// separators: "1.2M" → 1200000, "10K" → 10000, "1,234,567" → 1234567.
func ParseViews(s string) (int64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}

	m := numberRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "k"):
		v *= 1_000
	case strings.Contains(lower, "m"):
		v *= 1_000_000
	case strings.Contains(lower, "b"):
		v *= 1_000_000_000
	}
	return int64(v), true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
