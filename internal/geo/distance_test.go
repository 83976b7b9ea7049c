package geo

import (
	"math"
	"testing"

	"mileage/internal/model"
)

var (
	sf      = model.GeoPoint{Lat: 37.7749, Lng: -122.4194}
	la      = model.GeoPoint{Lat: 34.0522, Lng: -118.2437}
	oakland = model.GeoPoint{Lat: 37.8044, Lng: -122.2712}
)

func TestDistanceSamePointIsZero(t *testing.T) {
	for _, p := range []model.GeoPoint{sf, la, {Lat: 0, Lng: 0}, {Lat: -89.9, Lng: 179.9}} {
		if d := Distance(p, p); d > 1e-4 {
			t.Fatalf("distance(%v,%v) = %v", p, p, d)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][2]model.GeoPoint{{sf, la}, {sf, oakland}, {la, {Lat: -33.86, Lng: 151.2}}}
	for _, p := range pairs {
		ab, ba := Distance(p[0], p[1]), Distance(p[1], p[0])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("asymmetric: %v vs %v", ab, ba)
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// San Francisco to Los Angeles is roughly 347 miles.
	d := Distance(sf, la)
	if d <= 340 || d >= 360 {
		t.Fatalf("unexpected SF-LA distance: %v", d)
	}
}

func TestPathDistance(t *testing.T) {
	if PathDistance(nil) != 0 {
		t.Fatalf("empty path should be 0")
	}
	if PathDistance([]model.GeoPoint{sf}) != 0 {
		t.Fatalf("single point should be 0")
	}
	two := PathDistance([]model.GeoPoint{sf, oakland})
	if two != Distance(sf, oakland) {
		t.Fatalf("two-point path %v != distance %v", two, Distance(sf, oakland))
	}
	if two < 8 || two > 15 {
		t.Fatalf("SF-Oakland out of range: %v", two)
	}
	three := PathDistance([]model.GeoPoint{sf, oakland, la})
	if math.Abs(three-(Distance(sf, oakland)+Distance(oakland, la))) > 1e-9 {
		t.Fatalf("path is not a fold over pairs")
	}
}

func TestMilesToKilometers(t *testing.T) {
	if km := MilesToKilometers(10); math.Abs(km-16.09344) > 1e-9 {
		t.Fatalf("got %v", km)
	}
}
