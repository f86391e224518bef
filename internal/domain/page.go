package domain

// Page is one response of a listing endpoint. A nil Next ends the chain.
type Page[T any] struct {
	Results []T     `json:"results"`
	Next    *string `json:"next"`
}

// HasNext reports whether another page should be requested.
func (p *Page[T]) HasNext() bool {
	return p.Next != nil && *p.Next != ""
}
