package render

import (
	"testing"

	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_FullRecord(t *testing.T) {
	tmpl, err := New(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxWidth, tmpl.MaxWidth())

	out, err := tmpl.Render(core.LocationRecord{
		ID:                "a1",
		Title:             "The Dead Pool",
		ReleaseYear:       "1988",
		Director:          "Buddy Van Horn",
		Writer:            "Steve Sharon",
		ProductionCompany: "The Malpaso Company",
		Distributor:       "Warner Bros. Pictures",
		Actors:            [core.ActorSlots]string{"Clint Eastwood", "", "Liam Neeson"},
		LocationText:      "Mission St",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "The Dead Pool (1988)")
	assert.Contains(t, out, "max-width:300px")
	assert.Contains(t, out, "<dd>Clint Eastwood, Liam Neeson</dd>")
	assert.Contains(t, out, "<dd>Buddy Van Horn</dd>")
	assert.Contains(t, out, "Mission St")
}

func TestRender_EmptyFieldsOmitted(t *testing.T) {
	tmpl, err := New(250)
	require.NoError(t, err)

	out, err := tmpl.Render(core.LocationRecord{ID: "a1", Title: "Vertigo"})
	require.NoError(t, err)

	assert.Contains(t, out, "<h3>Vertigo</h3>")
	assert.Contains(t, out, "max-width:250px")
	assert.NotContains(t, out, "Director")
	assert.NotContains(t, out, "Starring")
}

func TestRender_EscapesHTML(t *testing.T) {
	tmpl, err := New(0)
	require.NoError(t, err)

	out, err := tmpl.Render(core.LocationRecord{Title: `<script>alert(1)</script>`})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}
