package convert

import (
	"testing"

	"github.com/sfmovies/filmlocations/internal/geo"
	"github.com/sfmovies/filmlocations/internal/model"
	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deadPool = core.LocationRecord{
	ID:                "a1",
	Title:             "The Dead Pool",
	ReleaseYear:       "1988",
	Director:          "Buddy Van Horn",
	ProductionCompany: "The Malpaso Company",
	Actors:            [core.ActorSlots]string{"Clint Eastwood", "", ""},
	LocationText:      "Embarcadero Center",
	Coordinate:        core.Coordinate{Lat: 37.795, Lng: -122.398},
}

func TestCoreToLocation(t *testing.T) {
	m := CoreToLocation(deadPool, map[string]string{"fun_facts": "Shot at night"})

	assert.Equal(t, "a1", m.ID)
	assert.Equal(t, "Clint Eastwood", m.Actor1)
	assert.Equal(t, "", m.Actor2)
	assert.Equal(t, "Embarcadero Center", m.Locations)
	assert.Equal(t, 37.795, m.Latitude)
	assert.Equal(t, -122.398, m.Longitude)

	c, err := geo.CoordinateFromPoint(m.Position)
	require.NoError(t, err)
	assert.Equal(t, deadPool.Coordinate, c)

	assert.JSONEq(t, `{"fun_facts":"Shot at night"}`, string(m.Extra))
}

func TestCoreToLocation_NoExtra(t *testing.T) {
	m := CoreToLocation(deadPool, nil)
	assert.Equal(t, "{}", string(m.Extra))
}

func TestLocationToCore_RoundTrip(t *testing.T) {
	got := LocationToCore(CoreToLocation(deadPool, nil))
	assert.Equal(t, deadPool, got)
}

func TestLocationsToCore_PreservesOrder(t *testing.T) {
	rows := []model.Location{{ID: "b"}, {ID: "a"}, {ID: "c"}}
	got := LocationsToCore(rows)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
}
