// Package rank implements candidate selection for job dispatch. Ranking is a
// pure function over a job and a technician pool: no I/O, no side effects,
// deterministic output for identical inputs.
package rank

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/fieldops/dispatchd/core/model"
)

// Weights tunes the composite suitability score. The constants shipped by
// DefaultWeights are a starting point; operators tune them externally.
type Weights struct {
	Distance float64 `json:"distance"`
	Skill    float64 `json:"skill"`
	Rating   float64 `json:"rating"`
	// LoadPenalty is the fraction of the score removed from technicians who
	// already hold a pending offer for another job. They are demoted, never
	// excluded.
	LoadPenalty float64 `json:"load_penalty"`
	// ServiceRadiusKm is the distance at which the proximity score has
	// decayed to 1/e. Beyond the radius an additional quadratic penalty
	// applies.
	ServiceRadiusKm float64 `json:"service_radius_km"`
}

// DefaultWeights returns the stock tuning.
func DefaultWeights() Weights {
	return Weights{
		Distance:        0.5,
		Skill:           0.2,
		Rating:          0.3,
		LoadPenalty:     0.4,
		ServiceRadiusKm: 25,
	}
}

// BusyFunc reports whether a technician currently holds a pending offer for
// another job.
type BusyFunc func(technicianID string) bool

type candidate struct {
	id    string
	score float64
}

// Rank filters and orders the pool for the given job, returning technician IDs
// by descending suitability. Technicians lacking the job's service type or
// category, or marked unavailable, are filtered out. Ties are broken by
// technician id ascending so the ordering is reproducible. An empty result is
// a normal outcome, not an error.
func Rank(job model.JobRequest, pool []model.TechnicianProfile, busy BusyFunc, w Weights) []string {
	if busy == nil {
		busy = func(string) bool { return false }
	}
	list := make([]candidate, 0, len(pool))
	for _, t := range pool {
		if !t.Available || !t.Supports(job.ServiceType) || !t.HasSkill(job.Category) {
			continue
		}
		list = append(list, candidate{id: t.ID, score: score(job, t, busy(t.ID), w)})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].id < list[j].id
	})
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.id
	}
	return ids
}

// score computes the weighted composite for one technician.
func score(job model.JobRequest, t model.TechnicianProfile, busy bool, w Weights) float64 {
	distW, skillW, rateW := w.normalized(job.Urgency)

	s := proximity(job, t, w.ServiceRadiusKm)*distW +
		skillStrength(t)*skillW +
		t.Rating/5*rateW
	if busy {
		s *= 1 - clamp01(w.LoadPenalty)
	}
	if s < 0 {
		return 0
	}
	return s
}

// normalized returns the three component weights scaled to sum to one, after
// the urgency adjustment. Urgent jobs weigh proximity higher; relaxed jobs
// lean on the rating instead.
func (w Weights) normalized(u model.Urgency) (dist, skill, rating float64) {
	dist, skill, rating = w.Distance, w.Skill, w.Rating
	switch u {
	case model.UrgencyHigh:
		dist += 0.2
	case model.UrgencyCritical:
		dist += 0.4
	case model.UrgencyLow:
		rating += 0.1
	}
	sum := floats.Sum([]float64{dist, skill, rating})
	if sum <= 0 {
		return 0, 0, 0
	}
	return dist / sum, skill / sum, rating / sum
}

// proximity maps distance to (0,1]. Remote and phone jobs ignore geography
// entirely. Onsite jobs decay exponentially with distance and take an extra
// quadratic penalty beyond the service radius.
func proximity(job model.JobRequest, t model.TechnicianProfile, radiusKm float64) float64 {
	if job.ServiceType != model.ServiceOnsite {
		return 1
	}
	if radiusKm <= 0 {
		radiusKm = DefaultWeights().ServiceRadiusKm
	}
	ratio := job.Location.Coord.DistanceKm(t.Location) / radiusKm
	p := math.Exp(-ratio)
	if ratio > 1 {
		p /= ratio * ratio
	}
	return p
}

// skillStrength favours focused technicians: someone listing two categories is
// a stronger match for one of them than someone listing ten.
func skillStrength(t model.TechnicianProfile) float64 {
	n := len(t.Skills)
	if n == 0 {
		return 0
	}
	return 1 / math.Sqrt(float64(n))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
