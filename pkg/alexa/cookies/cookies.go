// Package cookies persists an account's cookie jar between runs.
package cookies

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"
)

// Version of the canonical serialization.
const Version = 1

var ErrNotFound = errors.New("cookies: no saved jar")

type Record struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HTTPOnly bool       `json:"httpOnly,omitempty"`
}

// Jar is the canonical on-disk (or in-database) envelope.
type Jar struct {
	Version int       `json:"version"`
	Account string    `json:"account"`
	SavedAt time.Time `json:"saved_at"`
	Cookies []Record  `json:"cookies"`
}

// Store keeps one jar per account.
type Store interface {
	Load(ctx context.Context, account string) ([]Record, error)
	Save(ctx context.Context, account string, records []Record) error
	Delete(ctx context.Context, account string) error
}

func (r Record) HTTP() *http.Cookie {
	c := &http.Cookie{
		Name:     r.Name,
		Value:    r.Value,
		Domain:   r.Domain,
		Path:     r.Path,
		Secure:   r.Secure,
		HttpOnly: r.HTTPOnly,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if r.Expires != nil {
		c.Expires = *r.Expires
	}
	return c
}

func FromHTTP(cs []*http.Cookie, domain string) []Record {
	out := make([]Record, 0, len(cs))
	for _, c := range cs {
		r := Record{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if r.Domain == "" {
			r.Domain = domain
		}
		if !c.Expires.IsZero() {
			e := c.Expires
			r.Expires = &e
		}
		out = append(out, r)
	}
	return out
}

// Map flattens records to name → value; later records win.
func Map(records []Record) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		m[r.Name] = r.Value
	}
	return m
}

// FromMap builds records for domain, sorted by name.
func FromMap(m map[string]string, domain string) []Record {
	out := make([]Record, 0, len(m))
	for name, value := range m {
		out = append(out, Record{Name: name, Value: value, Domain: domain, Path: "/"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
