package models

// FixInput is one position report pushed by the rider's device.
type FixInput struct {
	Lat        float64    `json:"lat" validate:"gte=-90,lte=90"`
	Lon        float64    `json:"lon" validate:"gte=-180,lte=180"`
	SpeedMs    *float64   `json:"speedMs,omitempty" validate:"omitempty,gte=0"`
	HeadingDeg *float64   `json:"headingDeg,omitempty" validate:"omitempty,gte=0,lt=360"`
	Accuracy   *float64   `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Time       *Timestamp `json:"time,omitempty"`
}

// FixBatchRequest carries fixes in the order they were taken.
type FixBatchRequest struct {
	Fixes []FixInput `json:"fixes" validate:"required,min=1,max=100,dive"`
}

// FixBatchResponse reports how many fixes the ride accepted.
type FixBatchResponse struct {
	Accepted int        `json:"accepted"`
	Ride     RideStatus `json:"ride"`
}

// LanguageRequest switches a ride's instruction language.
type LanguageRequest struct {
	Language string `json:"language" validate:"required,max=35"`
}

// NavigationStatus is the guidance state of a ride.
type NavigationStatus struct {
	State                    string     `json:"state"`
	Language                 string     `json:"language"`
	StepIndex                int        `json:"stepIndex"`
	StepCount                int        `json:"stepCount"`
	CurrentStep              *RouteStep `json:"currentStep,omitempty"`
	NextStep                 *RouteStep `json:"nextStep,omitempty"`
	DistanceToStepMeters     float64    `json:"distanceToStepMeters"`
	RemainingDistanceMeters  float64    `json:"remainingDistanceMeters"`
	RemainingDurationSeconds float64    `json:"remainingDurationSeconds"`
	OffRoute                 bool       `json:"offRoute"`
	Recalculating            bool       `json:"recalculating"`
	Arrived                  bool       `json:"arrived"`
	HeadingDeg               *float64   `json:"headingDeg,omitempty"`
	LastKnownPosition        *Point     `json:"lastKnownPosition,omitempty"`
	Recalculations           int        `json:"recalculations"`
	LastError                string     `json:"lastError,omitempty"`
}

// ActivityStatus is the tracking state of a ride.
type ActivityStatus struct {
	State          string     `json:"state"`
	StartedAt      *Timestamp `json:"startedAt,omitempty"`
	ElapsedSeconds int64      `json:"elapsedSeconds"`
	DistanceMeters float64    `json:"distanceMeters"`
	SpeedKmh       float64    `json:"speedKmh"`
	MaxSpeedKmh    float64    `json:"maxSpeedKmh"`
	Calories       float64    `json:"calories"`
	Paused         bool       `json:"paused"`
	AutoPaused     bool       `json:"autoPaused"`
}

// Announcement is a phrase spoken to the rider.
type Announcement struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// RideStatus is the state of an active ride.
type RideStatus struct {
	ID            string           `json:"id"`
	Navigation    NavigationStatus `json:"navigation"`
	Activity      ActivityStatus   `json:"activity"`
	Announcements []Announcement   `json:"announcements"`
	Finished      bool             `json:"finished"`
}

// RideStartResponse is returned when a ride starts.
type RideStartResponse struct {
	Ride RideStatus        `json:"ride"`
	Plan RoutePlanResponse `json:"plan"`
}

// RideSummary is returned when a ride stops.
type RideSummary struct {
	RideID                string    `json:"rideId"`
	StartedAt             Timestamp `json:"startedAt"`
	EndedAt               Timestamp `json:"endedAt"`
	DistanceMeters        float64   `json:"distanceMeters"`
	MovingSeconds         float64   `json:"movingSeconds"`
	AvgSpeedKmh           float64   `json:"avgSpeedKmh"`
	MaxSpeedKmh           float64   `json:"maxSpeedKmh"`
	Calories              float64   `json:"calories"`
	CO2SavedKg            float64   `json:"co2SavedKg"`
	AutoPauses            int       `json:"autoPauses"`
	PlannedDistanceMeters float64   `json:"plannedDistanceMeters"`
	Strategy              string    `json:"strategy"`
	Difficulty            string    `json:"difficulty"`
	Language              string    `json:"language"`
	Recalculations        int       `json:"recalculations"`
	Arrived               bool      `json:"arrived"`
}
