// Package htmltext converts HTML documents to plain text and extracts the
// fields a language gate probes (title, lang attribute, meta descriptions
// and per-tag samples).
package htmltext
