// Package gamification accumulates contractor XP, levels and badges from closed
// tasks. It is a lagging projection: nothing in the lifecycle or the ledger reads it.
package gamification

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/campfire/backend/internal/models"
)

const (
	baseXP          = 100
	xpPerComplexity = 50
	// aiAssistXP is awarded for tier 0 tasks.
	aiAssistXP = 50
)

// levelThresholds[i] is the XP needed for level i+1.
var levelThresholds = []int64{0, 250, 600, 1100, 1800, 2700, 3900, 5400, 7200, 9500}

// Badge names.
const (
	BadgeFirstFlame     = "first_flame"
	BadgeSeasonedCamper = "seasoned_camper"
	BadgeHeavyLifter    = "heavy_lifter"
	badgeSpecialist     = "category_specialist:"
)

const (
	specialistThreshold      = 10
	seasonedThreshold        = 50
	heavyLifterThreshold     = 5
	heavyLifterMinComplexity = 4
)

// Event is one closed task credited to a contractor.
type Event struct {
	TaskID          uuid.UUID
	ContractorID    uuid.UUID
	Category        string
	ComplexityLevel *int
	XP              int64
	CreatedAt       time.Time
}

// XPFor returns the XP a closed task is worth.
func XPFor(complexity *int) int64 {
	if complexity == nil {
		return baseXP
	}
	if *complexity <= 0 {
		return aiAssistXP
	}
	return baseXP + xpPerComplexity*int64(*complexity)
}

// LevelFor maps total XP onto the threshold table. Levels start at 1.
func LevelFor(xp int64) int {
	level := 1
	for i, threshold := range levelThresholds {
		if xp >= threshold {
			level = i + 1
		}
	}
	return level
}

// Compute derives a contractor's progress from every event credited to them.
func Compute(contractorID uuid.UUID, events []Event) models.ContractorProgress {
	p := models.ContractorProgress{
		ContractorID: contractorID,
		ByCategory:   map[string]int{},
		Badges:       []string{},
	}
	heavy := 0
	for _, e := range events {
		p.XP += e.XP
		p.TasksCompleted++
		if e.Category != "" {
			p.ByCategory[e.Category]++
		}
		if e.ComplexityLevel != nil && *e.ComplexityLevel >= heavyLifterMinComplexity {
			heavy++
		}
	}
	p.Level = LevelFor(p.XP)

	if p.TasksCompleted >= 1 {
		p.Badges = append(p.Badges, BadgeFirstFlame)
	}
	if p.TasksCompleted >= seasonedThreshold {
		p.Badges = append(p.Badges, BadgeSeasonedCamper)
	}
	if heavy >= heavyLifterThreshold {
		p.Badges = append(p.Badges, BadgeHeavyLifter)
	}
	var specialties []string
	for cat, n := range p.ByCategory {
		if n >= specialistThreshold {
			specialties = append(specialties, badgeSpecialist+cat)
		}
	}
	sort.Strings(specialties)
	p.Badges = append(p.Badges, specialties...)
	return p
}
