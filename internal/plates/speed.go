package plates

// Speed derivation limits. Sightings closer together than MinFrameSpan
// frames carry too little signal, and anything faster than the ceiling is
// treated as a detection artifact rather than a vehicle.
const (
	MinFrameSpan    = 5
	MaxPlausibleKMH = 200.0
)

// SpeedEstimator turns the frame gap between a plate's first and most
// recent sightings into a straight-line average speed. It assumes the full
// configured distance is covered between those two sightings, so results
// are approximations.
type SpeedEstimator struct {
	fps      float64
	distance float64
	frames   map[string][]int
	speeds   map[string]float64
}

// NewSpeedEstimator creates an estimator for a stream running at fps with
// distanceMeters of road covered by the camera's field of view.
func NewSpeedEstimator(fps, distanceMeters float64) *SpeedEstimator {
	return &SpeedEstimator{
		fps:      fps,
		distance: distanceMeters,
		frames:   make(map[string][]int),
		speeds:   make(map[string]float64),
	}
}

// AddDetection records that identity id was sighted in frame. Frames are
// kept in arrival order, not sorted.
func (s *SpeedEstimator) AddDetection(id string, frame int) {
	s.frames[id] = append(s.frames[id], frame)
}

// DeriveSpeed computes the current speed estimate for id in km/h. It
// returns false without touching any previously derived speed when there
// are fewer than two sightings, the frame span is under MinFrameSpan, or
// the result exceeds MaxPlausibleKMH.
func (s *SpeedEstimator) DeriveSpeed(id string) (float64, bool) {
	frames := s.frames[id]
	if len(frames) < 2 {
		return 0, false
	}

	span := frames[len(frames)-1] - frames[0]
	if span < MinFrameSpan {
		return 0, false
	}
	if s.fps <= 0 {
		return 0, false
	}

	seconds := float64(span) / s.fps
	kmh := (s.distance / seconds) * 3.6
	if kmh > MaxPlausibleKMH {
		return 0, false
	}

	s.speeds[id] = kmh
	return kmh, true
}

// Speed returns the last stored speed for id, if one was ever derived.
func (s *SpeedEstimator) Speed(id string) (float64, bool) {
	kmh, ok := s.speeds[id]
	return kmh, ok
}

// Observations returns how many sightings have been recorded for id.
func (s *SpeedEstimator) Observations(id string) int {
	return len(s.frames[id])
}
