package correlate

import (
	"fmt"
	"time"

	"github.com/opsforge/sentinel-core/internal/models"
)

// Point is one metric sample.
type Point struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// Series is the sampled history of one metric on one resource.
type Series struct {
	ResourceID string  `json:"resource_id"`
	Service    string  `json:"service"`
	Metric     string  `json:"metric"`
	Points     []Point `json:"points"`
}

// ThresholdSpec is a declarative anomaly condition. Detection here is
// threshold-only: numeric comparison or trend slope, no statistical
// scoring.
type ThresholdSpec struct {
	Metric         string          `json:"metric"`
	Above          *float64        `json:"above,omitempty"`
	Below          *float64        `json:"below,omitempty"`
	SlopePerMinute *float64        `json:"slope_per_minute,omitempty"`
	Severity       models.Severity `json:"severity"`
}

// DetectAnomalies evaluates all specs against all series. The reported
// value is the window max (worst observation), the anomaly timestamp is
// the sample that breached.
func DetectAnomalies(series []Series, specs []ThresholdSpec) []models.Anomaly {
	var out []models.Anomaly
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		for _, spec := range specs {
			if spec.Metric != s.Metric {
				continue
			}
			if a := evaluate(s, spec); a != nil {
				out = append(out, *a)
			}
		}
	}
	return out
}

func evaluate(s Series, spec ThresholdSpec) *models.Anomaly {
	maxPoint := s.Points[0]
	minPoint := s.Points[0]
	for _, p := range s.Points {
		if p.Value > maxPoint.Value {
			maxPoint = p
		}
		if p.Value < minPoint.Value {
			minPoint = p
		}
	}

	if spec.Above != nil && maxPoint.Value > *spec.Above {
		return &models.Anomaly{
			ResourceID: s.ResourceID,
			Service:    s.Service,
			Metric:     s.Metric,
			Value:      maxPoint.Value,
			Threshold:  *spec.Above,
			Direction:  "above",
			Severity:   spec.Severity,
			Message:    fmt.Sprintf("%s peaked at %.2f (threshold %.2f)", s.Metric, maxPoint.Value, *spec.Above),
			Timestamp:  maxPoint.TS,
		}
	}

	if spec.Below != nil && minPoint.Value < *spec.Below {
		return &models.Anomaly{
			ResourceID: s.ResourceID,
			Service:    s.Service,
			Metric:     s.Metric,
			Value:      minPoint.Value,
			Threshold:  *spec.Below,
			Direction:  "below",
			Severity:   spec.Severity,
			Message:    fmt.Sprintf("%s dropped to %.2f (threshold %.2f)", s.Metric, minPoint.Value, *spec.Below),
			Timestamp:  minPoint.TS,
		}
	}

	if spec.SlopePerMinute != nil && len(s.Points) >= 2 {
		slope := slopePerMinute(s.Points)
		if (*spec.SlopePerMinute > 0 && slope > *spec.SlopePerMinute) ||
			(*spec.SlopePerMinute < 0 && slope < *spec.SlopePerMinute) {
			last := s.Points[len(s.Points)-1]
			return &models.Anomaly{
				ResourceID: s.ResourceID,
				Service:    s.Service,
				Metric:     s.Metric,
				Value:      slope,
				Threshold:  *spec.SlopePerMinute,
				Direction:  "trend",
				Severity:   spec.Severity,
				Message:    fmt.Sprintf("%s trending %.2f/min (threshold %.2f/min)", s.Metric, slope, *spec.SlopePerMinute),
				Timestamp:  last.TS,
			}
		}
	}

	return nil
}

// slopePerMinute fits a least-squares line over the samples.
func slopePerMinute(points []Point) float64 {
	n := float64(len(points))
	t0 := points[0].TS
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.TS.Sub(t0).Minutes()
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
