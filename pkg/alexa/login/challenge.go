package login

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Fields are the named inputs of a challenge form.
type Fields map[string]string

func (f Fields) Values() url.Values {
	v := make(url.Values, len(f))
	for k, val := range f {
		v.Set(k, val)
	}
	return v
}

// Empty lists the names of the fields that still carry no value.
func (f Fields) Empty() []string {
	var names []string
	for k, v := range f {
		if v == "" {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Challenge is the form scraped from the last authentication page.
type Challenge struct {
	Kind    Kind
	Action  string
	Method  string
	Fields  Fields
	Options []Option
}

// formFinder picks the form a challenge kind scrapes.
type formFinder func(doc *html.Node) *html.Node

func formBy(key, val string) formFinder {
	return func(doc *html.Node) *html.Node {
		return find(doc, elementWith(atom.Form, key, val))
	}
}

func firstForm(doc *html.Node) *html.Node {
	return find(doc, element(atom.Form))
}

// scrape reads every named input of form. Hidden inputs keep their value,
// all others default to "".
func scrape(kind Kind, form *html.Node) *Challenge {
	c := &Challenge{
		Kind:   kind,
		Action: attr(form, "action"),
		Method: strings.ToUpper(attr(form, "method")),
		Fields: make(Fields),
	}
	for _, in := range findAll(form, element(atom.Input)) {
		name := attr(in, "name")
		if name == "" {
			continue
		}
		c.Fields[name] = ""
		if strings.EqualFold(attr(in, "type"), "hidden") {
			c.Fields[name] = attr(in, "value")
		}
	}
	return c
}

// claimsOptions indexes the non-empty radio values of the claims picker.
func claimsOptions(form *html.Node) []Option {
	var opts []Option
	for _, label := range findAll(form, element(atom.Label)) {
		v := attr(find(label, element(atom.Input)), "value")
		if v == "" {
			continue
		}
		opts = append(opts, Option{
			Index: len(opts),
			Value: v,
			Label: collapse(text(find(label, element(atom.Span)))),
		})
	}
	return opts
}

func authSelectOptions(form *html.Node) []Option {
	var opts []Option
	for i, label := range findAll(form, element(atom.Label)) {
		opts = append(opts, Option{
			Index: i,
			Value: attr(find(label, element(atom.Input)), "value"),
			Label: collapse(text(find(label, element(atom.Span)))),
		})
	}
	return opts
}

func optionsMessage(opts []Option, withValue bool) string {
	var b strings.Builder
	for _, o := range opts {
		b.WriteString(strconv.Itoa(o.Index))
		b.WriteString(":\t")
		if withValue {
			b.WriteString(o.Value)
			b.WriteString(" - ")
		}
		b.WriteString(o.Label)
		b.WriteString("\n")
	}
	return b.String()
}

// errorMessage is the heading and the list items of the page's error or
// warning box.
func errorMessage(doc *html.Node) string {
	box := find(doc, byID("auth-error-message-box"))
	if box == nil {
		box = find(doc, byID("auth-warning-message-box"))
	}
	if box == nil {
		return ""
	}
	parts := []string{collapse(text(find(box, element(atom.H4))))}
	for _, li := range findAll(box, element(atom.Li)) {
		parts = append(parts, collapse(text(find(li, element(atom.Span)))))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// pollingMessage describes the out-of-band approval the user is waiting on.
func pollingMessage(doc *html.Node) string {
	parts := []string{text(find(doc, element(atom.Span)))}
	if d := find(doc, byID("channelDetails")); d != nil {
		parts = append(parts, text(d))
	}
	return collapse(strings.Join(parts, " "))
}

// recoveryHref is the last link of the missing-cookie error block.
func recoveryHref(doc *html.Node) string {
	block := find(doc, byID("ap_error_return_home"))
	var href string
	for _, a := range findAll(block, element(atom.A)) {
		if hasAttr(a, "href") {
			href = attr(a, "href")
		}
	}
	return href
}

// links collects the anchors and GET forms of a page, absolutized against
// base.
func links(doc *html.Node, base *url.URL) []Link {
	var out []Link
	add := func(txt, ref string) {
		u, err := base.Parse(ref)
		if err != nil {
			return
		}
		out = append(out, Link{Index: len(out), Text: collapse(txt), Href: u.String()})
	}
	for _, a := range findAll(doc, element(atom.A)) {
		href := attr(a, "href")
		if strings.HasPrefix(href, "/") || strings.HasPrefix(href, "http") {
			add(text(a), href)
		}
	}
	for _, f := range findAll(doc, element(atom.Form)) {
		action := attr(f, "action")
		if action == "" || !strings.EqualFold(attr(f, "method"), "get") {
			continue
		}
		q := make(url.Values)
		for _, in := range findAll(f, elementWith(atom.Input, "type", "hidden")) {
			q.Set(attr(in, "name"), attr(in, "value"))
		}
		ref := action
		if len(q) > 0 {
			ref += "?" + q.Encode()
		}
		add(attr(f, "name"), ref)
	}
	return out
}
