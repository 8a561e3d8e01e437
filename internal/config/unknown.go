package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxSuggestDistance bounds the edit distance of "did you mean" hints.
const maxSuggestDistance = 3

var (
	topLevelKeys = []string{"logging", "network", "polling", "profile", "transfers"}

	sectionKeys = map[string][]string{
		"network": {
			"ca_file", "insecure_skip_verify", "retry_count", "retry_statuses",
			"retry_wait", "timeout", "user_agent",
		},
		"polling":   {"busy_tolerance", "interval"},
		"transfers": {"chunk_size"},
		"logging":   {"log_level"},
	}

	profileKeys = []string{
		"api_version", "ldap_server", "logging", "network", "password",
		"polling", "token", "transfers", "url", "username",
	}
)

// checkUnknownKeys turns every key TOML could not place into an error.
func checkUnknownKeys(undecoded []toml.Key) error {
	var errs []error

	for _, key := range undecoded {
		known := knownFor(key)

		msg := fmt.Sprintf("unknown config key %q", key.String())
		if s := closestMatch(key[len(key)-1], known); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}

		errs = append(errs, errors.New(msg))
	}

	return errors.Join(errs...)
}

// knownFor returns the valid siblings of the last element of key.
func knownFor(key toml.Key) []string {
	switch {
	case len(key) == 1:
		return topLevelKeys
	case key[0] == "profile" && len(key) == 3:
		return profileKeys
	case key[0] == "profile" && len(key) > 3:
		return sectionKeys[key[2]]
	default:
		return sectionKeys[key[0]]
	}
}

// closestMatch returns the known key nearest to unknown, or "" when none
// is within maxSuggestDistance. Ties go to the earlier entry.
func closestMatch(unknown string, known []string) string {
	best, bestDist := "", maxSuggestDistance+1

	for _, k := range known {
		if d := levenshtein(strings.ToLower(unknown), k); d < bestDist {
			best, bestDist = k, d
		}
	}

	return best
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i

		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
