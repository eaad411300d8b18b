package config

import (
	"errors"
	"strings"
)

// Parse layers JSONC content over base. Empty content leaves base
// untouched apart from validation warnings.
func Parse(content string, base Config) (Config, []Warning, error) {
	switch trimmed := strings.TrimSpace(content); {
	case trimmed == "":
		warnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, warnings, nil
	case trimmed[0] != '{':
		return Config{}, nil, errors.New("config must be a JSONC object starting with '{'")
	}

	return parseJSONC(content, base)
}
