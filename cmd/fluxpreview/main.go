// Package main reports the inflow precomputed for every species and exterior
// facet, and the expected acceptance of the injection samplers.
//
// Usage: go run ./cmd/fluxpreview -config run.yaml [-output flux.csv]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/plasma/config"
	"github.com/pthm-cable/plasma/distribution"
	"github.com/pthm-cable/plasma/mesh"
	"github.com/pthm-cable/plasma/sampling"
	"github.com/pthm-cable/plasma/species"
)

// FacetFlux is one species/facet pair of the report.
type FacetFlux struct {
	Species   int     `csv:"species"`
	Facet     int     `csv:"facet"`
	Area      float64 `csv:"area"`
	Intensity float64 `csv:"intensity"`
	PdfMax    float64 `csv:"pdf_max"`
	// Particles per step at the configured timestep
	Rate      float64 `csv:"rate"`

	RejectionAcceptance float64 `csv:"rejection_acceptance"`
	TiledAcceptance     float64 `csv:"tiled_acceptance"`
}

func main() {
	configPath := flag.String("config", "", "Config YAML file (empty = use defaults)")
	outputPath := flag.String("output", "", "Write the report as CSV to this file")
	facetLimit := flag.Int("facets", 8, "Facets printed per species (0 = all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	box, err := mesh.NewBox(cfg.Mesh.Lower, cfg.Mesh.Upper, cfg.Mesh.Cells)
	if err != nil {
		log.Fatalf("failed to build mesh: %v", err)
	}
	list, err := species.FromConfig(cfg, box)
	if err != nil {
		log.Fatalf("failed to build species: %v", err)
	}

	facets := box.ExteriorFacets()
	start := time.Now()
	err = species.CreateFlux(context.Background(), list, facets, species.FluxOptions{
		Resolution:   cfg.Injection.FluxResolution,
		SafetyMargin: cfg.Injection.SafetyMargin,
		Workers:      cfg.Run.Workers,
	})
	if err != nil {
		log.Fatalf("flux precompute failed: %v", err)
	}
	fmt.Printf("Flux for %d species over %d facets computed in %s (dt=%.3e s)\n",
		len(list), len(facets), time.Since(start).Round(time.Millisecond), cfg.Derived.DT)

	var rows []FacetFlux
	for si, s := range list {
		fmt.Printf("\nSpecies %d: q=%.3e C, m=%.3e kg, N=%.3e\n", si, s.Q, s.M, s.N)
		if s.N == 0 {
			fmt.Println("  no inflow")
			continue
		}
		for fi := range facets {
			row := report(s, si, &facets[fi], fi, cfg)
			rows = append(rows, row)
			if *facetLimit > 0 && fi >= *facetLimit {
				continue
			}
			fmt.Printf("  facet %3d: intensity=%.4e max=%.4e rate=%.3f accept(rejection)=%.3f accept(tiled)=%.3f\n",
				fi, row.Intensity, row.PdfMax, row.Rate, row.RejectionAcceptance, row.TiledAcceptance)
		}
		if *facetLimit > 0 && len(facets) > *facetLimit {
			fmt.Printf("  ... %d more facets\n", len(facets)-*facetLimit)
		}
	}

	if *outputPath == "" {
		return
	}
	f, err := os.Create(*outputPath)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		log.Fatalf("failed to write report: %v", err)
	}
	fmt.Printf("\nReport saved to: %s\n", *outputPath)
}

// report estimates the sampler acceptance on one facet. The integral of the
// flux-weighted density over its domain is the intensity per unit area.
func report(s *species.Species, si int, facet *mesh.Facet, fi int, cfg *config.Config) FacetFlux {
	row := FacetFlux{
		Species:   si,
		Facet:     fi,
		Area:      facet.Area,
		Intensity: s.Flux.NumParticles[fi],
		PdfMax:    s.Flux.PdfMax[fi],
		Rate:      s.Rate(fi, cfg.Derived.DT),
	}
	if facet.Area == 0 || row.Intensity == 0 {
		return row
	}
	moment := row.Intensity / facet.Area

	fw := distribution.FluxWeighted{F: s.Vdf, Normal: facet.Inward()}
	vol := 1.0
	for _, b := range fw.Domain() {
		vol *= b.Width()
	}
	if row.PdfMax > 0 {
		row.RejectionAcceptance = moment / (row.PdfMax * vol)
	}
	tiled := sampling.NewTiled(fw, cfg.Injection.Tiles, cfg.Injection.SafetyMargin)
	row.TiledAcceptance = tiled.Acceptance(moment)
	return row
}
