// Package config loads backfill.yaml files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// ExpandEnv substitutes environment references in input.
//
// ${VAR} becomes the value of VAR, or "" when unset. ${VAR:-default}
// falls back to default when VAR is unset or empty. ${VAR:?message} is an
// error naming VAR when it is unset or empty, so a config can insist on a
// secret such as the API key.
func ExpandEnv(input string) (string, error) {
	var (
		b       strings.Builder
		last    int
		missing []string
	)
	for _, m := range envRef.FindAllStringSubmatchIndex(input, -1) {
		b.WriteString(input[last:m[0]])
		last = m[1]

		name := input[m[2]:m[3]]
		value := os.Getenv(name)
		if value != "" || m[4] < 0 {
			b.WriteString(value)
			continue
		}
		op, arg := input[m[4]:m[5]], input[m[6]:m[7]]
		if op == ":?" {
			if arg == "" {
				arg = "not set"
			}
			missing = append(missing, name+": "+arg)
			continue
		}
		b.WriteString(arg)
	}
	b.WriteString(input[last:])

	if len(missing) > 0 {
		return "", fmt.Errorf("required environment variables: %s", strings.Join(missing, "; "))
	}
	return b.String(), nil
}
