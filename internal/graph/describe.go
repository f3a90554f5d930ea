package graph

// PortInfo describes a port for clients
type PortInfo struct {
	Path      string  `json:"path"`
	Index     int     `json:"index"`
	Direction string  `json:"direction"`
	Type      string  `json:"type"`
	Value     float32 `json:"value"`
	Min       float32 `json:"min"`
	Max       float32 `json:"max"`
	Monitored bool    `json:"monitored,omitempty"`
}

// ConnectionInfo describes a connection for clients
type ConnectionInfo struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// Info is a client-facing snapshot of an object
type Info struct {
	Path        string            `json:"path"`
	Kind        string            `json:"kind"`
	Plugin      string            `json:"plugin,omitempty"`
	Polyphony   int               `json:"polyphony,omitempty"`
	Enabled     bool              `json:"enabled,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Ports       []PortInfo        `json:"ports,omitempty"`
	Children    []string          `json:"children,omitempty"`
	Connections []ConnectionInfo  `json:"connections,omitempty"`
}

// Describe snapshots the object at path
func (s *Store) Describe(path Path) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.find(path)
	if !ok {
		return Info{}, errNotFound(path)
	}
	info := Info{
		Path:     obj.Path().String(),
		Kind:     obj.Kind().String(),
		Metadata: obj.Metadata(),
	}
	switch o := obj.(type) {
	case *Patch:
		info.Polyphony = o.polyphony
		info.Enabled = o.Enabled()
		info.Ports = describePorts(o.ports)
		for _, b := range o.blocks {
			info.Children = append(info.Children, b.Path().String())
		}
		for _, c := range o.connections {
			info.Connections = append(info.Connections, ConnectionInfo{
				Src: c.src.Path().String(),
				Dst: c.dst.Path().String(),
			})
		}
	case *Node:
		info.Plugin = o.desc.URI
		info.Polyphony = o.polyphony
		info.Ports = describePorts(o.ports)
	case *Port:
		info.Ports = describePorts([]*Port{o})
	}
	return info, nil
}

func describePorts(ports []*Port) []PortInfo {
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Path:      p.Path().String(),
			Index:     p.index,
			Direction: p.dir.String(),
			Type:      p.typ.String(),
			Value:     p.Value(),
			Min:       p.min,
			Max:       p.max,
			Monitored: p.Monitored(),
		})
	}
	return out
}
