// Package render builds popup bodies for displayed locations.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/sfmovies/filmlocations/pkg/core"
)

// DefaultMaxWidth is the popup width in pixels.
const DefaultMaxWidth = 300

const popupTemplate = `<div class="film-popup" style="max-width:{{.MaxWidth}}px">
<h3>{{.Title}}{{if .ReleaseYear}} ({{.ReleaseYear}}){{end}}</h3>
{{- if .LocationText}}
<p class="location">{{.LocationText}}</p>
{{- end}}
<dl>
{{- if .Actors}}
<dt>Starring</dt><dd>{{.Actors}}</dd>
{{- end}}
{{- if .Director}}
<dt>Director</dt><dd>{{.Director}}</dd>
{{- end}}
{{- if .Writer}}
<dt>Writer</dt><dd>{{.Writer}}</dd>
{{- end}}
{{- if .ProductionCompany}}
<dt>Production</dt><dd>{{.ProductionCompany}}</dd>
{{- end}}
{{- if .Distributor}}
<dt>Distributor</dt><dd>{{.Distributor}}</dd>
{{- end}}
</dl>
</div>`

type popupData struct {
	MaxWidth          int
	Title             string
	ReleaseYear       string
	LocationText      string
	Actors            string
	Director          string
	Writer            string
	ProductionCompany string
	Distributor       string
}

// Template renders records into HTML popups.
type Template struct {
	tmpl     *template.Template
	maxWidth int
}

// New parses the popup template. maxWidth <= 0 uses DefaultMaxWidth.
func New(maxWidth int) (*Template, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	tmpl, err := template.New("popup").Parse(popupTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing popup template: %w", err)
	}
	return &Template{tmpl: tmpl, maxWidth: maxWidth}, nil
}

// Render implements display.PopupRenderer.
func (t *Template) Render(rec core.LocationRecord) (string, error) {
	var actors []string
	for _, a := range rec.Actors {
		if a != "" {
			actors = append(actors, a)
		}
	}

	data := popupData{
		MaxWidth:          t.maxWidth,
		Title:             rec.Title,
		ReleaseYear:       rec.ReleaseYear,
		LocationText:      rec.LocationText,
		Actors:            strings.Join(actors, ", "),
		Director:          rec.Director,
		Writer:            rec.Writer,
		ProductionCompany: rec.ProductionCompany,
		Distributor:       rec.Distributor,
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering popup for %s: %w", rec.ID, err)
	}
	return buf.String(), nil
}

// MaxWidth returns the popup width in pixels.
func (t *Template) MaxWidth() int {
	return t.maxWidth
}
