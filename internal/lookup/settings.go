package lookup

import "github.com/rotisserie/eris"

// MaxRings is the deepest ring a caller may request.
const MaxRings = 2

// Settings bounds a single run.
type Settings struct {
	MaxParcels                 int `yaml:"max_parcels" mapstructure:"max_parcels"`
	MaxRequests                int `yaml:"max_requests" mapstructure:"max_requests"`
	AdjacentLimit              int `yaml:"adjacent_limit" mapstructure:"adjacent_limit"`
	MaxAssistantNormalizations int `yaml:"max_assistant_normalizations" mapstructure:"max_assistant_normalizations"`
	RetentionDays              int `yaml:"retention_days" mapstructure:"retention_days"`
	LocalCacheScanLimit        int `yaml:"local_cache_scan_limit" mapstructure:"local_cache_scan_limit"`
}

// DefaultSettings returns the production limits.
func DefaultSettings() Settings {
	return Settings{
		MaxParcels:                 150,
		MaxRequests:                80,
		AdjacentLimit:              50,
		MaxAssistantNormalizations: 25,
		RetentionDays:              7,
		LocalCacheScanLimit:        500,
	}
}

// Validate rejects limits that would make every run fail or never stop.
func (s Settings) Validate() error {
	switch {
	case s.MaxParcels <= 0:
		return eris.New("lookup: max_parcels must be positive")
	case s.MaxRequests <= 0:
		return eris.New("lookup: max_requests must be positive")
	case s.AdjacentLimit <= 0:
		return eris.New("lookup: adjacent_limit must be positive")
	case s.MaxAssistantNormalizations < 0:
		return eris.New("lookup: max_assistant_normalizations must not be negative")
	case s.RetentionDays < 0:
		return eris.New("lookup: retention_days must not be negative")
	}
	return nil
}
