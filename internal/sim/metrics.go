package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Metrics collects run statistics.
type Metrics struct {
	RunID  string `json:"run_id"`
	Method string `json:"method"`
	Agents int    `json:"agents"`

	// Timing
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	SimulatedTime float64   `json:"simulated_time"`
	Ticks         int       `json:"ticks"`

	// Planning
	PlanningCalls       int     `json:"planning_calls"`
	TotalPlanningTimeMs float64 `json:"total_planning_time_ms"`
	MaxPlanningTimeMs   float64 `json:"max_planning_time_ms"`
	AvgPlanningTimeMs   float64 `json:"avg_planning_time_ms"`

	// Trips
	TripsCompleted int     `json:"trips_completed"`
	TotalTripTime  float64 `json:"total_trip_time"`
	AvgTripTime    float64 `json:"avg_trip_time"`

	// Movement
	Moves             int     `json:"moves"`
	DistanceTravelled float64 `json:"distance_travelled"`
	WaitTicks         int     `json:"wait_ticks"`

	// Safety
	Collisions            int `json:"collisions"`
	ReservationViolations int `json:"reservation_violations"`
}

// snapshot fills in the derived averages. The caller holds s.mu.
func (s *Simulator) snapshot() Metrics {
	m := s.metrics
	if m.PlanningCalls > 0 {
		m.AvgPlanningTimeMs = m.TotalPlanningTimeMs / float64(m.PlanningCalls)
	}
	if m.TripsCompleted > 0 {
		m.AvgTripTime = m.TotalTripTime / float64(m.TripsCompleted)
	}
	return m
}

// Metrics returns current simulation metrics
func (s *Simulator) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// ExportMetrics writes metrics to a JSON file
func (s *Simulator) ExportMetrics(path string) error {
	return WriteJSON(path, s.Metrics())
}

// Result is the final output of a simulation run.
type Result struct {
	RunID   uuid.UUID `json:"run_id"`
	Layout  string    `json:"layout"`
	Metrics Metrics   `json:"metrics"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("sim: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	return nil
}
