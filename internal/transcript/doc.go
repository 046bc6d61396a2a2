// Package transcript renders conversations for export.
//
// Render produces Markdown grouped by UTC day. RenderHTML runs that Markdown
// through goldmark with its default safe settings, so HTML typed into a
// message is omitted rather than rendered.
package transcript
