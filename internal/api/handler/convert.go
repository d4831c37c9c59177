package handler

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/pedalei/pedalei/internal/activity"
	"github.com/pedalei/pedalei/internal/api/models"
	"github.com/pedalei/pedalei/internal/location"
	"github.com/pedalei/pedalei/internal/navigation"
	"github.com/pedalei/pedalei/internal/ride"
	"github.com/pedalei/pedalei/internal/routing"
	"github.com/pedalei/pedalei/pkg/geo"
)

func toPlace(in models.PlaceInput) routing.Place {
	if in.Point != nil {
		return routing.At(in.Point.Coordinate())
	}
	return routing.Place{Address: in.Address}
}

func toPreferences(in *models.PreferencesInput) routing.Preferences {
	prefs := routing.DefaultPreferences()
	if in == nil {
		return prefs
	}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&prefs.PreferBikeLanes, in.PreferBikeLanes)
	set(&prefs.AvoidHighways, in.AvoidHighways)
	set(&prefs.AvoidExpressways, in.AvoidExpressways)
	set(&prefs.FollowTrafficLaws, in.FollowTrafficLaws)
	return prefs
}

// toPlanRequest converts in, using lang when the request names no language.
func toPlanRequest(in models.RoutePlanRequest, lang string) routing.PlanRequest {
	req := routing.PlanRequest{
		Origin:      toPlace(in.Origin),
		Destination: toPlace(in.Destination),
		Preferences: toPreferences(in.Preferences),
		Language:    in.Language,
	}
	if req.Language == "" {
		req.Language = lang
	}
	for _, w := range in.Waypoints {
		req.Waypoints = append(req.Waypoints, toPlace(w))
	}
	return req
}

func toFix(in models.FixInput, now time.Time) location.Fix {
	f := location.Fix{
		Position: geo.Coordinate{Lat: in.Lat, Lng: in.Lon},
		Speed:    in.SpeedMs,
		Heading:  in.HeadingDeg,
		Accuracy: in.Accuracy,
		Time:     now,
	}
	if in.Time != nil {
		f.Time = in.Time.Time()
	}
	return f
}

func stepResponse(s routing.Step) models.RouteStep {
	return models.RouteStep{
		ID:              s.ID,
		Instruction:     s.Instruction,
		DistanceMeters:  s.DistanceMeters,
		DurationSeconds: s.DurationSeconds,
		Maneuver:        string(s.Maneuver),
		Location:        models.PointFrom(s.Location),
	}
}

func planResponse(p *routing.Plan) models.RoutePlanResponse {
	steps := make([]models.RouteStep, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = stepResponse(s)
	}
	return models.RoutePlanResponse{
		Origin:      models.PointFrom(p.Origin),
		Destination: models.PointFrom(p.Destination),
		Strategy:    p.Strategy,
		Language:    p.Language,
		Preferences: models.RoutePreferences{
			PreferBikeLanes:   p.Preferences.PreferBikeLanes,
			AvoidHighways:     p.Preferences.AvoidHighways,
			AvoidExpressways:  p.Preferences.AvoidExpressways,
			FollowTrafficLaws: p.Preferences.FollowTrafficLaws,
		},
		Score:           p.Score,
		DistanceMeters:  p.DistanceMeters,
		DurationSeconds: p.DurationSeconds,
		Difficulty:      string(p.Difficulty),
		Elevation: models.ElevationSummary{
			Available:  p.Elevation.Available,
			GainMeters: p.Elevation.GainMeters,
			LossMeters: p.Elevation.LossMeters,
			MinMeters:  p.Elevation.MinMeters,
			MaxMeters:  p.Elevation.MaxMeters,
			GainPerKm:  p.Elevation.GainPerKm,
		},
		CO2SavedKg: p.CO2SavedKg,
		Steps:      steps,
		Geometry:   routeGeometry(p),
		CreatedAt:  models.Timestamp(p.CreatedAt),
	}
}

// routeGeometry renders the route line and one point per step as GeoJSON.
func routeGeometry(p *routing.Plan) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	path := p.Route.Path()
	if len(path) > 1 {
		line := make(orb.LineString, len(path))
		for i, c := range path {
			line[i] = orb.Point{c.Lng, c.Lat}
		}
		f := geojson.NewFeature(line)
		f.Properties["kind"] = "route"
		f.Properties["distanceMeters"] = p.DistanceMeters
		f.Properties["strategy"] = p.Strategy
		fc.Append(f)
	}

	for _, s := range p.Steps {
		f := geojson.NewFeature(orb.Point{s.Location.Lng, s.Location.Lat})
		f.Properties["kind"] = "step"
		f.Properties["id"] = s.ID
		f.Properties["instruction"] = s.Instruction
		f.Properties["maneuver"] = string(s.Maneuver)
		fc.Append(f)
	}
	return fc
}

func timestampPtr(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}

func navigationStatus(s navigation.Snapshot) models.NavigationStatus {
	out := models.NavigationStatus{
		State:                    string(s.State),
		Language:                 s.Language,
		StepIndex:                s.StepIndex,
		StepCount:                s.StepCount,
		DistanceToStepMeters:     s.DistanceToStepMeters,
		RemainingDistanceMeters:  s.RemainingDistanceMeters,
		RemainingDurationSeconds: s.RemainingDurationSeconds,
		OffRoute:                 s.OffRoute,
		Recalculating:            s.Recalculating,
		Arrived:                  s.Arrived,
		HeadingDeg:               s.HeadingDeg,
		Recalculations:           s.Recalculations,
		LastError:                s.LastError,
	}
	if s.CurrentStep != nil {
		step := stepResponse(*s.CurrentStep)
		out.CurrentStep = &step
	}
	if s.NextStep != nil {
		step := stepResponse(*s.NextStep)
		out.NextStep = &step
	}
	if s.LastKnownPosition != nil {
		p := models.PointFrom(*s.LastKnownPosition)
		out.LastKnownPosition = &p
	}
	return out
}

func activityStatus(s activity.Snapshot) models.ActivityStatus {
	return models.ActivityStatus{
		State:          string(s.State),
		StartedAt:      timestampPtr(s.StartedAt),
		ElapsedSeconds: s.ElapsedSeconds,
		DistanceMeters: s.DistanceMeters,
		SpeedKmh:       s.SpeedKmh,
		MaxSpeedKmh:    s.MaxSpeedKmh,
		Calories:       s.Calories,
		Paused:         s.Paused,
		AutoPaused:     s.AutoPaused,
	}
}

func rideStatus(s ride.Snapshot) models.RideStatus {
	announcements := make([]models.Announcement, len(s.Announcements))
	for i, m := range s.Announcements {
		announcements[i] = models.Announcement{Text: m.Text, Language: m.Lang}
	}
	return models.RideStatus{
		ID:            s.ID,
		Navigation:    navigationStatus(s.Navigation),
		Activity:      activityStatus(s.Activity),
		Announcements: announcements,
		Finished:      s.Finished,
	}
}

func rideSummary(s ride.Summary) models.RideSummary {
	return models.RideSummary{
		RideID:                s.RideID,
		StartedAt:             models.Timestamp(s.Activity.StartedAt),
		EndedAt:               models.Timestamp(s.Activity.EndedAt),
		DistanceMeters:        s.Activity.DistanceMeters,
		MovingSeconds:         s.Activity.MovingSeconds,
		AvgSpeedKmh:           s.Activity.AvgSpeedKmh,
		MaxSpeedKmh:           s.Activity.MaxSpeedKmh,
		Calories:              s.Activity.Calories,
		CO2SavedKg:            s.Activity.CO2SavedKg,
		AutoPauses:            s.Activity.AutoPauses,
		PlannedDistanceMeters: s.PlannedDistanceMeters,
		Strategy:              s.Strategy,
		Difficulty:            string(s.Difficulty),
		Language:              s.Language,
		Recalculations:        s.Recalculations,
		Arrived:               s.Arrived,
	}
}
