package portal

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates
var templateFS embed.FS

// PageTemplateData is what the page template renders
type PageTemplateData struct {
	Title string
	Lines []string
}

// TemplateManager handles template parsing and rendering
type TemplateManager struct {
	templates *template.Template
	title     string
}

// NewTemplateManager parses the embedded page template
func NewTemplateManager(title string) *TemplateManager {
	templates := template.Must(template.ParseFS(templateFS, "templates/*.html"))
	return &TemplateManager{
		templates: templates,
		title:     title,
	}
}

// Render produces the page body for the given lines, in order, separated by
// line breaks. Line text is HTML-escaped.
func (tm *TemplateManager) Render(lines []string) (string, error) {
	var buf bytes.Buffer
	data := &PageTemplateData{Title: tm.title, Lines: lines}
	if err := tm.templates.ExecuteTemplate(&buf, "page.html", data); err != nil {
		return "", fmt.Errorf("error rendering page template: %w", err)
	}
	return buf.String(), nil
}
