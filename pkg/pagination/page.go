package pagination

// Page is one page of a DRF paginated list response.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// Aggregated is the concatenation of every page of a walk. It has the same
// JSON shape as a page; Next and Previous are always nil and Count equals
// len(Results).
type Aggregated[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// Empty returns the aggregate observed before any page has arrived.
func Empty[T any]() *Aggregated[T] {
	return &Aggregated[T]{
		Count:   0,
		Results: []T{},
	}
}

// Len returns the number of aggregated items.
func (a *Aggregated[T]) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Results)
}
