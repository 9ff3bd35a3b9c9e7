package reaper

import (
	"github.com/cuongbtq/jobpulse/internal/config"
	"github.com/cuongbtq/jobpulse/internal/domain"
)

// PoliciesFromConfig turns configured feature families into sweep policies
func PoliciesFromConfig(cfg *config.ReaperConfig) []Policy {
	policies := make([]Policy, 0, len(cfg.Families))
	for _, f := range cfg.Families {
		types := make([]domain.FeatureType, len(f.FeatureTypes))
		for i, ft := range f.FeatureTypes {
			types[i] = domain.FeatureType(ft)
		}

		batch := f.BatchSize
		if batch <= 0 {
			batch = cfg.BatchSize
		}

		policies = append(policies, Policy{
			Family:       f.Name,
			FeatureTypes: types,
			Timeout:      f.Timeout,
			BatchSize:    batch,
			AgeFrom:      domain.AgeFrom(f.AgeFrom),
		})
	}
	return policies
}
