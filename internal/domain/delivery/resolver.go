package delivery

// Strategy selects one partner out of a list of active candidates.
type Strategy interface {
	Pick(candidates []Partner) (Partner, error)
}

// FirstAvailable picks the first candidate reporting available=true, in list
// order.
type FirstAvailable struct{}

var _ Strategy = FirstAvailable{}

// Without returns candidates minus the partner with id.
func Without(candidates []Partner, id int64) []Partner {
	out := make([]Partner, 0, len(candidates))
	for _, p := range candidates {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// Pick implements Strategy.
func (FirstAvailable) Pick(candidates []Partner) (Partner, error) {
	for _, p := range candidates {
		if p.Available {
			return p, nil
		}
	}
	return Partner{}, ErrNoPartnerAvailable
}
