package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// DatabaseModels lists the tables of the location database schema.
var DatabaseModels = []interface{}{
	&Location{},
	&Click{},
}

// Location is one film location row. Text columns are never NULL.
type Location struct {
	ID                string         `json:"id" gorm:"primaryKey;size:32"`
	Title             string         `json:"title" gorm:"size:255;index"`
	ReleaseYear       string         `json:"release_year" gorm:"size:16"`
	Writer            string         `json:"writer" gorm:"size:255"`
	Director          string         `json:"director" gorm:"size:255"`
	Distributor       string         `json:"distributor" gorm:"size:255"`
	ProductionCompany string         `json:"production_company" gorm:"size:255"`
	Actor1            string         `json:"actor_1" gorm:"size:255"`
	Actor2            string         `json:"actor_2" gorm:"size:255"`
	Actor3            string         `json:"actor_3" gorm:"size:255"`
	Locations         string         `json:"locations" gorm:"size:512"`
	Latitude          float64        `json:"lat"`
	Longitude         float64        `json:"lng"`
	Position          geom.Point     `json:"-"`     // X=lng Y=lat
	Extra             datatypes.JSON `json:"extra"` // source fields outside the wire shape, e.g. fun_facts
	Clicks            int64          `json:"clicks" gorm:"not null;default:0;index"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (*Location) TableName() string {
	return "locations"
}

// Click is a single recorded popup open.
type Click struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement"`
	LocationID string    `json:"location_id" gorm:"size:32;index"`
	Time       time.Time `json:"time" gorm:"index"`
}

func (*Click) TableName() string {
	return "clicks"
}

// SearchColumns are the columns matched by free-text search.
var SearchColumns = []string{
	"release_year",
	"title",
	"actor1",
	"actor2",
	"actor3",
	"director",
	"production_company",
	"distributor",
}
