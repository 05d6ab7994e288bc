package log

import (
	"fmt"
	"strings"
)

// token is one key=value pair of a configuration line. Values wrapped in
// brackets may contain commas; inside is then '['.
type token struct {
	key    string
	value  string
	inside rune
}

// tokenize splits a line like `file=out.log,level=info,tags=[a,b]`.
func tokenize(line string) ([]token, error) {
	var tokens []token
	for line != "" {
		eq := strings.IndexByte(line, '=')
		comma := strings.IndexByte(line, ',')
		if eq < 0 || (comma >= 0 && comma < eq) {
			key := line
			if comma >= 0 {
				key = line[:comma]
			}
			return nil, fmt.Errorf("key `%s` with no value", key)
		}
		key := line[:eq]
		if key == "" {
			return nil, fmt.Errorf("value `%s` with no key", line)
		}
		line = line[eq+1:]
		if line == "" {
			return nil, fmt.Errorf("key `%s=` with no value", key)
		}

		t := token{key: key}
		if line[0] == '[' {
			end := strings.IndexByte(line, ']')
			if end < 0 {
				return nil, fmt.Errorf("key `%s` has an unclosed `[`", key)
			}
			t.value, t.inside = line[1:end], '['
			line = line[end+1:]
		} else {
			end := strings.IndexByte(line, ',')
			if end < 0 {
				end = len(line)
			}
			t.value = line[:end]
			line = line[end:]
		}
		tokens = append(tokens, t)

		if line == "" {
			break
		}
		if line[0] != ',' {
			return nil, fmt.Errorf("unexpected `%s` after the value of key `%s`", line, key)
		}
		line = line[1:]
	}
	return tokens, nil
}
