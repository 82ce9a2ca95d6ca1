package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sfmovies/filmlocations/internal/importer"
	"github.com/sfmovies/filmlocations/pkg/core"
	"github.com/spf13/viper"
)

func importCommand(ctx context.Context, src string) error {
	if viper.GetString("storage.type") == "memory" {
		Logger.Warn("Importing into memory storage, records are lost on exit; use serve --import instead")
	}

	backend, err := initStorage()
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			Logger.Warn("Failed to close storage backend", "error", err)
		}
	}()

	_, err = runImport(ctx, backend, src)
	return err
}

func runImport(ctx context.Context, store importer.Store, src string) (importer.Summary, error) {
	if src == "" {
		src = viper.GetString("importer.sourceUrl")
	}
	client := &http.Client{Timeout: 2 * time.Minute}

	var geocoder importer.Geocoder
	if key := viper.GetString("importer.geocodeKey"); key != "" {
		geocoder = importer.NewGoogleGeocoder(viper.GetString("importer.geocodeUrl"), key)
	} else {
		Logger.Warn("No geocoding key set, records without coordinates are skipped")
	}

	im := importer.New(importer.Config{
		Delay: viper.GetDuration("importer.geocodeDelay"),
		Center: core.Coordinate{
			Lat: viper.GetFloat64("importer.centerLat"),
			Lng: viper.GetFloat64("importer.centerLng"),
		},
		MaxDistanceKm: viper.GetFloat64("importer.maxDistanceKm"),
	}, store, geocoder, Logger.With("component", "importer"))

	Logger.Info("Importing locations", "source", src)
	start := time.Now()
	rc, err := importer.Open(ctx, src, client)
	if err != nil {
		return importer.Summary{}, err
	}
	defer rc.Close()

	summary, err := im.Run(ctx, rc)
	Logger.Info("Import finished",
		"fetched", summary.Fetched,
		"geocoded", summary.Geocoded,
		"skipped", summary.Skipped,
		"inserted", summary.Inserted,
		"duration", time.Since(start),
	)
	if err != nil {
		return summary, fmt.Errorf("import %s: %w", src, err)
	}
	return summary, nil
}
