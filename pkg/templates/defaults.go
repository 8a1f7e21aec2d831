package templates

import (
	"github.com/paiban/planrules/pkg/fatigue"
)

func standard() Template {
	return Template{
		Name:                 "Standard - Équipe classique",
		Category:             CategoryStandard,
		Description:          "Configuration équilibrée pour une équipe d'anesthésie standard (15-20 personnes)",
		IsDefault:            true,
		MinimumRestHours:     12,
		MaxConsultationsWeek: 2,
		Intervalle: Interval{
			MinJoursEntreGardes:   7,
			MinJoursRecommandes:   21,
			MaxGardesMois:         3,
			MaxGardesConsecutives: 1,
			MaxAstreintesMois:     5,
		},
		Supervision: Supervision{
			MaxSallesParMAR:       map[string]int{"standard": 2, "ophtalmologie": 3, "endoscopie": 2},
			MaxSallesExceptionnel: 3,
			SecteursCompatibles: map[string][]string{
				"standard":      {"standard"},
				"ophtalmologie": {"ophtalmologie", "standard"},
				"endoscopie":    {"endoscopie"},
			},
		},
		Equite:  Equity{PoidsGardesWeekend: 1.5, PoidsGardesFeries: 2, EquilibrageSpecialites: true},
		Fatigue: fatigue.DefaultConfig(),
	}
}

func intensif() Template {
	cfg := fatigue.DefaultConfig()
	cfg.Points = fatigue.Points{
		Garde:               35,
		Astreinte:           12,
		SupervisionMultiple: 20,
		Pediatrie:           15,
		SpecialiteLourde:    25,
		Specialties:         map[string]float64{"urgence": 30},
	}
	cfg.Recovery = fatigue.Recovery{JourOff: 12, DemiJourneeOff: 6, Weekend: 25}
	cfg.Seuils = fatigue.Thresholds{Alerte: 60, Critique: 90}

	return Template{
		Name:                 "Intensif - Gros CHU",
		Category:             CategoryIntensif,
		Description:          "Configuration pour un CHU avec forte activité et équipe importante (30+ personnes)",
		MinimumRestHours:     11,
		MaxConsultationsWeek: 3,
		Intervalle: Interval{
			MinJoursEntreGardes:   6,
			MinJoursRecommandes:   14,
			MaxGardesMois:         4,
			MaxGardesConsecutives: 1,
			MaxAstreintesMois:     6,
		},
		Supervision: Supervision{
			MaxSallesParMAR:       map[string]int{"standard": 3, "ophtalmologie": 4, "endoscopie": 2, "urgence": 2},
			MaxSallesExceptionnel: 4,
			SecteursCompatibles: map[string][]string{
				"standard":      {"standard", "urgence"},
				"ophtalmologie": {"ophtalmologie", "standard"},
				"endoscopie":    {"endoscopie"},
				"urgence":       {"urgence", "standard"},
			},
		},
		Equite:  Equity{PoidsGardesWeekend: 1.5, PoidsGardesFeries: 2, EquilibrageSpecialites: true},
		Fatigue: cfg,
	}
}

func allege() Template {
	cfg := fatigue.DefaultConfig()
	cfg.Points = fatigue.Points{
		Garde:               25,
		Astreinte:           8,
		SupervisionMultiple: 10,
		Pediatrie:           8,
		SpecialiteLourde:    15,
	}
	cfg.Recovery = fatigue.Recovery{JourOff: 20, DemiJourneeOff: 10, Weekend: 40}
	cfg.Seuils = fatigue.Thresholds{Alerte: 40, Critique: 70}

	return Template{
		Name:                 "Allégé - Petite structure",
		Category:             CategoryAllege,
		Description:          "Configuration pour une petite équipe ou clinique privée (8-12 personnes)",
		MinimumRestHours:     14,
		MaxConsultationsWeek: 4,
		Intervalle: Interval{
			MinJoursEntreGardes:   10,
			MinJoursRecommandes:   30,
			MaxGardesMois:         2,
			MaxGardesConsecutives: 1,
			MaxAstreintesMois:     4,
		},
		Supervision: Supervision{
			MaxSallesParMAR:       map[string]int{"standard": 2, "ophtalmologie": 2, "endoscopie": 1},
			MaxSallesExceptionnel: 2,
		},
		Equite:  Equity{PoidsGardesWeekend: 2, PoidsGardesFeries: 2.5, EquilibrageSpecialites: true},
		Fatigue: cfg,
	}
}

func pediatrie() Template {
	cfg := fatigue.DefaultConfig()
	cfg.Points = fatigue.Points{
		Garde:               35,
		Astreinte:           12,
		SupervisionMultiple: 18,
		Pediatrie:           15,
		SpecialiteLourde:    25,
		Specialties:         map[string]float64{"neonatologie": 30},
	}
	cfg.Recovery = fatigue.Recovery{JourOff: 18, DemiJourneeOff: 9, Weekend: 35}
	cfg.Seuils = fatigue.Thresholds{Alerte: 45, Critique: 75}

	return Template{
		Name:                 "Pédiatrie - Hôpital enfants",
		Category:             CategoryPediatrie,
		Description:          "Configuration adaptée pour un service de pédiatrie avec contraintes spécifiques",
		MinimumRestHours:     12,
		MaxConsultationsWeek: 2,
		Intervalle: Interval{
			MinJoursEntreGardes:   8,
			MinJoursRecommandes:   21,
			MaxGardesMois:         3,
			MaxGardesConsecutives: 1,
			MaxAstreintesMois:     4,
		},
		Supervision: Supervision{
			MaxSallesParMAR:       map[string]int{"pediatrie": 2, "neonatologie": 1, "standard": 2},
			MaxSallesExceptionnel: 2,
			SecteursCompatibles: map[string][]string{
				"pediatrie":    {"pediatrie", "neonatologie"},
				"neonatologie": {"neonatologie"},
			},
		},
		Equite:  Equity{PoidsGardesWeekend: 1.8, PoidsGardesFeries: 2.2, EquilibrageSpecialites: true},
		Fatigue: cfg,
	}
}
