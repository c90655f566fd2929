package core

import "math"

// Physics is the kinematic profile of an agent. Distances are in metres,
// velocities in m/s, accelerations in m/s², turn speed in rad/s.
type Physics struct {
	MaxVelocity  float64
	Acceleration float64
	Deceleration float64
	TurnSpeed    float64
}

// DefaultPhysics returns the profile of a standard warehouse robot.
func DefaultPhysics() Physics {
	return Physics{
		MaxVelocity:  1.5,
		Acceleration: 0.5,
		Deceleration: 0.5,
		TurnSpeed:    math.Pi / 2,
	}
}

// DriveTime returns the time to cover dist from standstill to standstill.
// A profile without acceleration limits drives at MaxVelocity throughout.
func (p Physics) DriveTime(dist float64) float64 {
	if dist <= 0 {
		return 0
	}
	if p.MaxVelocity <= 0 {
		return math.Inf(1)
	}
	v := p.MaxVelocity
	if p.Acceleration <= 0 || p.Deceleration <= 0 {
		return dist / v
	}

	accelDist := v * v / (2 * p.Acceleration)
	decelDist := v * v / (2 * p.Deceleration)
	if accelDist+decelDist <= dist {
		// Trapezoid: accelerate, cruise, brake.
		return v/p.Acceleration + v/p.Deceleration + (dist-accelDist-decelDist)/v
	}

	// Triangle: the peak velocity is never reached.
	peak := math.Sqrt(2 * dist * p.Acceleration * p.Deceleration / (p.Acceleration + p.Deceleration))
	return peak/p.Acceleration + peak/p.Deceleration
}

// TurnTime returns the time needed to rotate between two orientations.
func (p Physics) TurnTime(from, to float64) float64 {
	diff := math.Abs(NormalizeAngle(to - from))
	if diff < 1e-9 {
		return 0
	}
	if p.TurnSpeed <= 0 {
		return 0
	}
	return diff / p.TurnSpeed
}

// TravelTime returns the time needed to traverse from -> to when starting with
// the given orientation, and the orientation on arrival. Returns +Inf if no
// edge exists.
func (p Physics) TravelTime(g *Graph, orientation float64, from, to WaypointID) (float64, float64) {
	e, ok := g.Edge(from, to)
	if !ok {
		return math.Inf(1), orientation
	}
	dist := g.Distance(from, to)
	if g.tierPenalty(from, to) > 0 {
		// Elevator rides keep the robot's heading.
		return p.DriveTime(dist), orientation
	}
	return p.TurnTime(orientation, e.Angle) + p.DriveTime(dist), e.Angle
}

// MinTravelTime is a lower bound on the time to cover dist, ignoring turns and
// acceleration.
func (p Physics) MinTravelTime(dist float64) float64 {
	if p.MaxVelocity <= 0 {
		return math.Inf(1)
	}
	return dist / p.MaxVelocity
}

// NormalizeAngle maps an angle into (-π, π].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}
