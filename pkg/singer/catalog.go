package singer

// Stream describes one discoverable collection of records.
type Stream struct {
	Name          string         `json:"stream"`
	Schema        map[string]any `json:"schema,omitempty"`
	KeyProperties []string       `json:"key_properties,omitempty"`
}

// Fields returns the top-level property names of the stream schema.
func (s Stream) Fields() []string {
	props, ok := s.Schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(props))
	for name := range props {
		fields = append(fields, name)
	}
	return fields
}

// Catalog is the result of extractor discovery.
type Catalog struct {
	Streams []Stream `json:"streams"`
}

// Stream returns the named stream, or nil.
func (c *Catalog) Stream(name string) *Stream {
	for i := range c.Streams {
		if c.Streams[i].Name == name {
			return &c.Streams[i]
		}
	}
	return nil
}

// StreamNames returns the stream names in catalog order.
func (c *Catalog) StreamNames() []string {
	names := make([]string, 0, len(c.Streams))
	for _, s := range c.Streams {
		names = append(names, s.Name)
	}
	return names
}
