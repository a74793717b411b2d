package cookies

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format of a serialized jar.
type Format int

const (
	FormatUnknown Format = iota
	// FormatCanonical is the versioned Jar envelope.
	FormatCanonical
	// FormatFlatJSON is a bare {"name": "value"} object.
	FormatFlatJSON
	// FormatHeader is a Cookie header line: "a=b; c=d".
	FormatHeader
	// FormatNetscape is a cookies.txt file.
	FormatNetscape
)

func (f Format) String() string {
	switch f {
	case FormatCanonical:
		return "canonical"
	case FormatFlatJSON:
		return "flat-json"
	case FormatHeader:
		return "header"
	case FormatNetscape:
		return "netscape"
	default:
		return "unknown"
	}
}

// Parse detects the format of data and decodes it. Records of legacy
// formats without a domain get defaultDomain.
func Parse(data []byte, defaultDomain string) ([]Record, Format, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, FormatUnknown, fmt.Errorf("cookies: empty jar")
	}

	if trimmed[0] == '{' {
		var head map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &head); err != nil {
			return nil, FormatUnknown, fmt.Errorf("cookies: bad JSON jar: %w", err)
		}
		if _, ok := head["cookies"]; ok {
			if _, ok := head["version"]; ok {
				var jar Jar
				if err := json.Unmarshal(trimmed, &jar); err != nil {
					return nil, FormatCanonical, fmt.Errorf("cookies: bad jar: %w", err)
				}
				if jar.Version > Version {
					return nil, FormatCanonical, fmt.Errorf("cookies: jar version %d is newer than %d", jar.Version, Version)
				}
				return jar.Cookies, FormatCanonical, nil
			}
		}
		flat := make(map[string]string, len(head))
		for k, raw := range head {
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, FormatFlatJSON, fmt.Errorf("cookies: value of %q is not a string", k)
			}
			flat[k] = v
		}
		return FromMap(flat, defaultDomain), FormatFlatJSON, nil
	}

	if bytes.HasPrefix(trimmed, []byte("# Netscape")) || bytes.Contains(trimmed, []byte("\t")) {
		records, err := parseNetscape(trimmed)
		return records, FormatNetscape, err
	}

	records, err := parseHeader(string(trimmed), defaultDomain)
	return records, FormatHeader, err
}

func parseHeader(s string, domain string) ([]Record, error) {
	s = strings.TrimPrefix(s, "Cookie:")
	flat := map[string]string{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("cookies: bad header pair %q", part)
		}
		flat[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("cookies: no cookie in header")
	}
	return FromMap(flat, domain), nil
}

// parseNetscape reads domain, include-subdomains, path, secure, expiry,
// name, value tab-separated lines.
func parseNetscape(data []byte) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			httpOnly = true
			line = strings.TrimPrefix(line, "#HttpOnly_")
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.Split(line, "\t")
		if len(f) != 7 {
			return nil, fmt.Errorf("cookies: line %d has %d fields", n, len(f))
		}
		r := Record{
			Domain:   f[0],
			Path:     f[2],
			Secure:   strings.EqualFold(f[3], "TRUE"),
			Name:     f[5],
			Value:    f[6],
			HTTPOnly: httpOnly,
		}
		if exp, err := strconv.ParseInt(f[4], 10, 64); err == nil && exp > 0 {
			t := time.Unix(exp, 0).UTC()
			r.Expires = &t
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("cookies: no cookie in cookies.txt")
	}
	return out, nil
}

func marshal(account string, records []Record, now time.Time) ([]byte, error) {
	return json.MarshalIndent(Jar{
		Version: Version,
		Account: account,
		SavedAt: now.UTC(),
		Cookies: records,
	}, "", "  ")
}
