// Package filter holds the ordered chain of URL rewrites applied before every
// VAST fetch, plus the builtin rewrites that can be declared in configuration.
package filter

// Func rewrites a URL. Filters are trusted to be pure and fast.
type Func func(url string) string

// Chain is an ordered list of filters composed left to right. It has no lock:
// configure it before fetches start running concurrently.
type Chain struct {
	filters []Func
}

// New constructs a chain from the given filters, skipping nil entries.
func New(filters ...Func) *Chain {
	c := &Chain{}
	for _, f := range filters {
		c.Add(f)
	}
	return c
}

// Add appends f to the tail of the chain. A nil filter is ignored.
func (c *Chain) Add(f Func) {
	if f == nil {
		return
	}
	c.filters = append(c.filters, f)
}

// RemoveLast drops the most recently added filter. It is a no-op on an empty chain.
func (c *Chain) RemoveLast() {
	if len(c.filters) == 0 {
		return
	}
	c.filters[len(c.filters)-1] = nil
	c.filters = c.filters[:len(c.filters)-1]
}

// Count returns the number of registered filters.
func (c *Chain) Count() int {
	return len(c.filters)
}

// Clear removes every filter.
func (c *Chain) Clear() {
	c.filters = nil
}

// Filters returns a snapshot of the registered filters in order.
func (c *Chain) Filters() []Func {
	return append([]Func(nil), c.filters...)
}

// Apply folds the chain over url in registration order. Panics raised by a
// filter are not recovered.
func (c *Chain) Apply(url string) string {
	if c == nil {
		return url
	}
	for _, f := range c.filters {
		url = f(url)
	}
	return url
}
