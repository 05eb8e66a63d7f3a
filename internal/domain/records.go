package domain

import (
	"time"
)

// Composite is one radar composite published by the upstream radar service.
type Composite struct {
	ID        string    `json:"id"`
	ScanTime  time.Time `json:"scan_time"`
	Source    string    `json:"source,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
}

// RawCell is a detected storm cell before feature derivation.
type RawCell struct {
	ID        string    `json:"cell_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Category  Category  `json:"mcs_type,omitempty"`
	Outline   []LatLon  `json:"outline,omitempty"`
	Patch     []float64 `json:"patch,omitempty"`
}

// LatLon is a WGS84 coordinate.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// StormCellObservation is one detected cell at one radar timestamp, carrying
// the derived features the models read. It is never persisted.
type StormCellObservation struct {
	CellID    string
	ScanTime  time.Time
	Latitude  float64
	Longitude float64
	Category  Category
	Features  map[string]float64
	Outline   []LatLon
	Patch     []float64
}

// PredictionRecord is one nowcast for one cell and horizon. Append-only.
type PredictionRecord struct {
	ID                 string    `json:"id"`
	CellID             string    `json:"cell_id"`
	Category           Category  `json:"storm_category"`
	Horizon            Horizon   `json:"horizon_minutes"`
	PredictedTimestamp time.Time `json:"predicted_timestamp"`
	PredictedMeanRR    float64   `json:"predicted_mean_rr"`
	PredictedTop10RR   float64   `json:"predicted_top10_rr"`
	Probability        float64   `json:"presence_probability"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	PredictionMadeAt   time.Time `json:"prediction_made_at"`
}

// ImpactRisk buckets a mean rain rate into a coarse public-facing risk level.
type ImpactRisk string

const (
	ImpactLow    ImpactRisk = "Low"
	ImpactMedium ImpactRisk = "Medium"
	ImpactHigh   ImpactRisk = "High"
)

// RiskForMeanRate returns High above 16 mm/h, Medium above 5 mm/h, else Low.
func RiskForMeanRate(meanRR float64) ImpactRisk {
	switch {
	case meanRR > 16:
		return ImpactHigh
	case meanRR > 5:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

// NotificationStatus tracks delivery of a warning to its notification channel.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Geometry is a GeoJSON geometry object.
type Geometry struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// PolygonFromOutline builds a closed GeoJSON polygon from a cell outline. When
// no outline is known a small square around the center is used instead.
func PolygonFromOutline(outline []LatLon, center LatLon) Geometry {
	pts := outline
	if len(pts) < 3 {
		const d = 0.05
		pts = []LatLon{
			{Lat: center.Lat - d, Lon: center.Lon - d},
			{Lat: center.Lat - d, Lon: center.Lon + d},
			{Lat: center.Lat + d, Lon: center.Lon + d},
			{Lat: center.Lat + d, Lon: center.Lon - d},
		}
	}
	ring := make([][]float64, 0, len(pts)+1)
	for _, p := range pts {
		ring = append(ring, []float64{p.Lon, p.Lat})
	}
	if first, last := pts[0], pts[len(pts)-1]; first != last {
		ring = append(ring, []float64{first.Lon, first.Lat})
	}
	return Geometry{Type: "Polygon", Coordinates: [][][]float64{ring}}
}

// WarningRecord is an issued heavy-rainfall warning.
type WarningRecord struct {
	ID                 string             `json:"id"`
	CellID             string             `json:"cell_id"`
	Category           Category           `json:"storm_category"`
	Horizon            Horizon            `json:"horizon_minutes"`
	PredictedTimestamp time.Time          `json:"predicted_timestamp"`
	PredictedTop10RR   float64            `json:"predicted_top10_rr"`
	Message            string             `json:"message"`
	Location           Geometry           `json:"location_geometry"`
	PlaceName          string             `json:"place_name,omitempty"`
	IsActive           bool               `json:"is_active"`
	IssuedAt           time.Time          `json:"issued_at"`
	NotificationStatus NotificationStatus `json:"notification_status"`
}

// CycleStatus is the terminal state of one orchestrator run.
type CycleStatus string

const (
	CycleNotReady  CycleStatus = "not_ready"
	CycleNoData    CycleStatus = "no_data"
	CycleNoCells   CycleStatus = "no_cells"
	CycleCompleted CycleStatus = "completed"
)

// CycleRun is the bookkeeping of one orchestrator invocation.
type CycleRun struct {
	ID                 string        `json:"id"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
	Status             CycleStatus   `json:"status"`
	CompositeID        string        `json:"composite_id,omitempty"`
	CellsDetected      int           `json:"cells_detected"`
	CellsProcessed     int           `json:"cells_processed"`
	PredictionsStored  int           `json:"predictions_stored"`
	WarningsIssued     int           `json:"warnings_issued"`
	WarningsSuppressed int           `json:"warnings_deduplicated"`
	Errors             int           `json:"errors"`
	Err                string        `json:"error,omitempty"`
	Duration           time.Duration `json:"duration_ns"`
}
