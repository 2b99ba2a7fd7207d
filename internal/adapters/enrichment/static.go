package enrichment

import "context"

// Static answers every lookup with fixed values, for offline runs and tests
type Static struct {
	AgeDays int
	SPF     bool
}

func (s Static) DomainAgeDays(context.Context, string) (int, error) {
	return s.AgeDays, nil
}

func (s Static) HasSPFRecord(context.Context, string) (bool, error) {
	return s.SPF, nil
}
