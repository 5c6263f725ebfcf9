// Package page models the wiki page titles the cache tables are keyed by.
package page

import (
	"strings"

	"github.com/maloquacious/pagestore/internal/artifact"
)

// Site identifies one wiki by host name and content language.
type Site struct {
	Authority string
	Lang      string
}

// NewSite returns a site for authority. An empty lang is taken from the
// first label of the authority, e.g. "en" for "en.wikipedia.org".
func NewSite(authority, lang string) Site {
	if lang == "" {
		lang = LangFromAuthority(authority)
	}
	return Site{Authority: authority, Lang: lang}
}

// LangFromAuthority returns the first dot separated label of authority.
func LangFromAuthority(authority string) string {
	lang, _, _ := strings.Cut(authority, ".")
	return lang
}

// Title names one page on a site.
type Title struct {
	Namespace string
	Text      string
	Fragment  string
	Site      Site
}

// NewTitle builds a title from user facing text: spaces become underscores
// and anything after '#' becomes the fragment.
func NewTitle(namespace, text string, site Site) Title {
	text, fragment, _ := strings.Cut(text, "#")
	return Title{
		Namespace: namespace,
		Text:      strings.ReplaceAll(text, " ", "_"),
		Fragment:  fragment,
		Site:      site,
	}
}

// PrefixedText returns the text with its namespace prefix, if any.
func (t Title) PrefixedText() string {
	if t.Namespace == "" {
		return t.Text
	}
	return t.Namespace + ":" + t.Text
}

// DisplayText returns the text with underscores shown as spaces.
func (t Title) DisplayText() string {
	return strings.ReplaceAll(t.Text, "_", " ")
}

// Ref returns the fields the artifact identifier is derived from.
func (t Title) Ref() artifact.Ref {
	return artifact.Ref{
		Namespace: t.Namespace,
		Text:      t.Text,
		Fragment:  t.Fragment,
		Site:      t.Site.Authority,
	}
}

// Identifier names the directory holding the title's saved payload.
func (t Title) Identifier() string {
	return artifact.Identifier(t.Ref())
}
