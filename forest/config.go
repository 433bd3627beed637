package forest

import "fmt"

// Config holds random forest hyperparameters. The defaults follow the stock
// settings of a standard random-forest regressor.
type Config struct {
	NumTrees        int
	MaxDepth        int     // 0 = grow until leaves are pure
	MinSamplesSplit int     // minimum samples required to split a node
	MinSamplesLeaf  int     // minimum samples on each side of a split
	MaxFeatures     float64 // fraction of features considered per split
	Bootstrap       bool
	OOBScore        bool  // estimate R^2 from out-of-bag samples (needs Bootstrap)
	Seed            int64 // seeds bootstrap draws and feature order
	Jobs            int   // trees fitted concurrently
}

// DefaultConfig returns the stock random forest settings.
func DefaultConfig() Config {
	return Config{
		NumTrees:        100,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     1.0,
		Bootstrap:       true,
		Jobs:            1,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.NumTrees < 1:
		return fmt.Errorf("forest: NumTrees must be >= 1, got %d", c.NumTrees)
	case c.MaxDepth < 0:
		return fmt.Errorf("forest: MaxDepth must be >= 0, got %d", c.MaxDepth)
	case c.MinSamplesSplit < 2:
		return fmt.Errorf("forest: MinSamplesSplit must be >= 2, got %d", c.MinSamplesSplit)
	case c.MinSamplesLeaf < 1:
		return fmt.Errorf("forest: MinSamplesLeaf must be >= 1, got %d", c.MinSamplesLeaf)
	case c.MaxFeatures <= 0 || c.MaxFeatures > 1:
		return fmt.Errorf("forest: MaxFeatures must be in (0, 1], got %g", c.MaxFeatures)
	case c.OOBScore && !c.Bootstrap:
		return fmt.Errorf("forest: OOBScore requires Bootstrap")
	case c.Jobs < 1:
		return fmt.Errorf("forest: Jobs must be >= 1, got %d", c.Jobs)
	}
	return nil
}
