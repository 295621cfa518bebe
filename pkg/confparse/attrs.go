package confparse

// RestAttr is the attribute key used for the positional remainder of a
// command (for example the text of a description line). It renders as a
// bare value, without the attribute name.
const RestAttr = "value"

// Attrs is an ordered attribute map. Iteration order is insertion order,
// which keeps rendering and diffing deterministic.
type Attrs struct {
	keys []string
	vals map[string]string
}

// NewAttrs creates an empty attribute map.
func NewAttrs() *Attrs {
	return &Attrs{vals: make(map[string]string)}
}

// Set adds or overwrites an attribute. A flag attribute is represented
// by an empty value.
func (a *Attrs) Set(key, val string) {
	if _, ok := a.vals[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.vals[key] = val
}

// Get returns the value for key and whether it is present.
func (a *Attrs) Get(key string) (string, bool) {
	v, ok := a.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (a *Attrs) Has(key string) bool {
	_, ok := a.vals[key]
	return ok
}

// Delete removes an attribute if present.
func (a *Attrs) Delete(key string) {
	if _, ok := a.vals[key]; !ok {
		return
	}
	delete(a.vals, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the attribute keys in insertion order.
func (a *Attrs) Keys() []string {
	return a.keys
}

// Len returns the number of attributes.
func (a *Attrs) Len() int {
	return len(a.keys)
}

// Equal reports whether two attribute maps hold the same key/value
// pairs, ignoring order.
func (a *Attrs) Equal(b *Attrs) bool {
	if a.Len() != b.Len() {
		return false
	}
	for k, v := range a.vals {
		if bv, ok := b.vals[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Clone creates a copy of the attribute map.
func (a *Attrs) Clone() *Attrs {
	c := NewAttrs()
	for _, k := range a.keys {
		c.Set(k, a.vals[k])
	}
	return c
}
