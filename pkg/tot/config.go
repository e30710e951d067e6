package tot

import "fmt"

// Config tunes the search.
type Config struct {
	// Plans is the number of independent plan streams
	Plans int `json:"plans" mapstructure:"plans"`

	// Voters is the number of voters in each voter set
	Voters int `json:"voters" mapstructure:"voters"`

	// Temperature is used for plan and vote calls
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// MaxSteps stops the search once the step counter passes it; 0 disables
	// the limit
	MaxSteps int `json:"max_steps" mapstructure:"max_steps"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		Plans:       3,
		Voters:      3,
		Temperature: 0.7,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Plans < 1 {
		return fmt.Errorf("plans must be at least 1, got %d", c.Plans)
	}
	if c.Voters < 1 {
		return fmt.Errorf("voters must be at least 1, got %d", c.Voters)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", c.Temperature)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max steps must not be negative, got %d", c.MaxSteps)
	}
	return nil
}
