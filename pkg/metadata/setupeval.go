package metadata

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// The constrained sdist evaluator. Source distributions that predate
// metadata 2.2 declare their requirements in setup.py or setup.cfg, and
// setup.py is arbitrary code. Running it is off the table; instead,
// when the caller opts in, the literal forms that cover the vast
// majority of real packages are extracted textually:
//
//	install_requires=["a>=1", 'b'],
//	extras_require={"extra": ["c"]},
//
// and the declarative [options] install_requires block of setup.cfg.
// Anything computed at runtime stays invisible, and the candidate then
// fails as metadata-unavailable.

// setupRequirements extracts requirement strings from sdist setup
// files. ok is false when neither file yields a requirement list.
func setupRequirements(files sdistFiles) (requires []string, extras map[string][]string, ok bool) {
	if len(files.setupCfg) > 0 {
		if reqs := setupCfgRequires(files.setupCfg); reqs != nil {
			return reqs, setupCfgExtras(files.setupCfg), true
		}
	}
	if len(files.setupPy) > 0 {
		if reqs, ex, found := setupPyRequires(string(files.setupPy)); found {
			return reqs, ex, true
		}
	}
	return nil, nil, false
}

// setupPyRequires pulls string literals out of the install_requires and
// extras_require keyword arguments.
func setupPyRequires(src string) ([]string, map[string][]string, bool) {
	reqs, okReqs := literalList(src, "install_requires")
	extras, okExtras := literalDict(src, "extras_require")
	if !okReqs && !okExtras {
		return nil, nil, false
	}
	return reqs, extras, true
}

// literalList finds `key = [ ...string literals... ]` and returns the
// literals. Fails when the bracket content contains anything but
// strings, commas, whitespace, and # comments.
func literalList(src, key string) ([]string, bool) {
	body, ok := argumentBody(src, key, '[', ']')
	if !ok {
		return nil, false
	}
	return stringLiterals(body)
}

// literalDict finds `key = { "name": [...], ... }` with literal keys
// and list-of-string values.
func literalDict(src, key string) (map[string][]string, bool) {
	body, ok := argumentBody(src, key, '{', '}')
	if !ok {
		return nil, false
	}
	out := make(map[string][]string)
	rest := body
	for {
		rest = strings.TrimLeft(rest, " \t\r\n,")
		if rest == "" {
			return out, true
		}
		name, n, err := leadingString(rest)
		if err != nil {
			return nil, false
		}
		rest = strings.TrimLeft(rest[n:], " \t\r\n")
		if !strings.HasPrefix(rest, ":") {
			return nil, false
		}
		rest = strings.TrimLeft(rest[1:], " \t\r\n")
		if !strings.HasPrefix(rest, "[") {
			return nil, false
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, false
		}
		vals, ok := stringLiterals(rest[1:end])
		if !ok {
			return nil, false
		}
		out[name] = vals
		rest = rest[end+1:]
	}
}

// argumentBody locates `key` followed by "=" and an open/close pair,
// returning the text between the delimiters.
func argumentBody(src, key string, open, close byte) (string, bool) {
	for idx := 0; ; {
		i := strings.Index(src[idx:], key)
		if i < 0 {
			return "", false
		}
		idx += i + len(key)
		rest := strings.TrimLeft(src[idx:], " \t\r\n")
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t\r\n")
		if len(rest) == 0 || rest[0] != open {
			return "", false
		}
		depth := 0
		for j := 0; j < len(rest); j++ {
			switch rest[j] {
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					return rest[1:j], true
				}
			}
		}
		return "", false
	}
}

// stringLiterals splits a bracket body into its quoted elements,
// rejecting any non-literal content.
func stringLiterals(body string) ([]string, bool) {
	var out []string
	rest := body
	for {
		rest = strings.TrimLeft(rest, " \t\r\n,")
		// A trailing inline comment after an element is tolerated.
		if strings.HasPrefix(rest, "#") {
			nl := strings.IndexByte(rest, '\n')
			if nl < 0 {
				return out, true
			}
			rest = rest[nl+1:]
			continue
		}
		if rest == "" {
			return out, true
		}
		s, n, err := leadingString(rest)
		if err != nil {
			return nil, false
		}
		out = append(out, s)
		rest = rest[n:]
	}
}

// leadingString parses a Python string literal at the start of s and
// returns its value and consumed length.
func leadingString(s string) (string, int, error) {
	if s == "" || (s[0] != '\'' && s[0] != '"') {
		return "", 0, fmt.Errorf("expected string literal")
	}
	q := s[0]
	i := strings.IndexByte(s[1:], q)
	if i < 0 {
		return "", 0, fmt.Errorf("unterminated string literal")
	}
	return s[1 : 1+i], i + 2, nil
}

// setupCfgRequires reads the install_requires option of the [options]
// section: an indented, newline-separated requirement list.
func setupCfgRequires(cfg []byte) []string {
	return cfgOption(cfg, "options", "install_requires")
}

// setupCfgExtras reads the [options.extras_require] section, one option
// per extra.
func setupCfgExtras(cfg []byte) map[string][]string {
	out := make(map[string][]string)
	section := ""
	sc := bufio.NewScanner(bytes.NewReader(cfg))
	for sc.Scan() {
		line := sc.Text()
		if s, ok := sectionHeader(line); ok {
			section = s
			continue
		}
		if section != "options.extras_require" {
			continue
		}
		if name, first, ok := optionStart(line); ok {
			if first != "" {
				out[name] = append(out[name], first)
			}
			// Continuation lines are indented.
			for sc.Scan() {
				cont := sc.Text()
				if cont == "" || (cont[0] != ' ' && cont[0] != '\t') {
					if s, ok := sectionHeader(cont); ok {
						section = s
					} else if n2, f2, ok := optionStart(cont); ok && section == "options.extras_require" {
						if f2 != "" {
							out[n2] = append(out[n2], f2)
						}
						name = n2
						continue
					}
					break
				}
				if v := strings.TrimSpace(cont); v != "" && !strings.HasPrefix(v, "#") {
					out[name] = append(out[name], v)
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cfgOption(cfg []byte, wantSection, wantOption string) []string {
	var out []string
	section := ""
	collecting := false
	sc := bufio.NewScanner(bytes.NewReader(cfg))
	for sc.Scan() {
		line := sc.Text()
		if s, ok := sectionHeader(line); ok {
			section = s
			collecting = false
			continue
		}
		if collecting {
			if line != "" && (line[0] == ' ' || line[0] == '\t') {
				if v := strings.TrimSpace(line); v != "" && !strings.HasPrefix(v, "#") {
					out = append(out, v)
				}
				continue
			}
			collecting = false
		}
		if section != wantSection {
			continue
		}
		if name, first, ok := optionStart(line); ok && name == wantOption {
			if first != "" {
				out = append(out, first)
			}
			collecting = true
		}
	}
	return out
}

func sectionHeader(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
		return line[1 : len(line)-1], true
	}
	return "", false
}

// optionStart matches an unindented "name = value" line; value may be
// empty when the list follows on continuation lines.
func optionStart(line string) (name, value string, ok bool) {
	if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '#' {
		return "", "", false
	}
	name, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(name), strings.TrimSpace(value), true
}
