package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"iter"
	"sync"
	"time"
)

// Server groups the tools of one server inside a snapshot.
type Server struct {
	Name  string           `json:"name"`
	Kind  string           `json:"kind,omitempty"`
	Tools []ToolDescriptor `json:"tools"`
}

// Snapshot is an immutable, versioned catalog of tools: an ordered mapping
// from (server, tool) to ToolDescriptor. Server names are unique in the
// snapshot and tool names are unique within a server.
//
// A Snapshot is safe for concurrent use.
type Snapshot struct {
	version uint64
	builtAt time.Time
	digest  string
	servers []Server

	serverIdx map[string]int
	toolIdx   []map[string]int

	searchOnce sync.Once
	search     *SearchIndex
	searchErr  error
}

// NewSnapshot validates servers and assembles a snapshot. The servers slice
// is copied.
func NewSnapshot(version uint64, builtAt time.Time, servers []Server) (*Snapshot, error) {
	s := &Snapshot{
		version:   version,
		builtAt:   builtAt.UTC(),
		servers:   make([]Server, len(servers)),
		serverIdx: make(map[string]int, len(servers)),
		toolIdx:   make([]map[string]int, len(servers)),
	}
	for i, srv := range servers {
		if err := validName(srv.Name); err != nil {
			return nil, err
		}
		if _, dup := s.serverIdx[srv.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate server %q", ErrInvalidSnapshot, srv.Name)
		}
		s.serverIdx[srv.Name] = i

		tools := make([]ToolDescriptor, len(srv.Tools))
		idx := make(map[string]int, len(srv.Tools))
		for j, d := range srv.Tools {
			if _, dup := idx[d.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate tool %q on server %q", ErrInvalidSnapshot, d.Name, srv.Name)
			}
			if err := validName(d.Name); err != nil {
				return nil, err
			}
			d = d.clone()
			d.Server = srv.Name
			tools[j] = d
			idx[d.Name] = j
		}
		s.servers[i] = Server{Name: srv.Name, Kind: srv.Kind, Tools: tools}
		s.toolIdx[i] = idx
	}

	digest, err := contentDigest(s.servers)
	if err != nil {
		return nil, err
	}
	s.digest = digest
	return s, nil
}

// contentDigest hashes the catalog content, excluding version and build time,
// so two builds of unchanged servers share a digest.
func contentDigest(servers []Server) (string, error) {
	data, err := json.Marshal(servers)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Version returns the snapshot version. Each build increments it.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Digest returns the hex SHA-256 of the catalog content.
func (s *Snapshot) Digest() string { return s.digest }

// Len returns the number of tools across all servers.
func (s *Snapshot) Len() int {
	n := 0
	for _, srv := range s.servers {
		n += len(srv.Tools)
	}
	return n
}

// Servers returns the server names in insertion order.
func (s *Snapshot) Servers() []string {
	out := make([]string, len(s.servers))
	for i, srv := range s.servers {
		out[i] = srv.Name
	}
	return out
}

// ServerKind returns the backend kind recorded for a server.
func (s *Snapshot) ServerKind(server string) (string, bool) {
	i, ok := s.serverIdx[server]
	if !ok {
		return "", false
	}
	return s.servers[i].Kind, true
}

// Tools returns copies of a server's descriptors in insertion order.
func (s *Snapshot) Tools(server string) ([]ToolDescriptor, error) {
	i, ok := s.serverIdx[server]
	if !ok {
		return nil, &NotFoundError{Server: server}
	}
	out := make([]ToolDescriptor, len(s.servers[i].Tools))
	for j, d := range s.servers[i].Tools {
		out[j] = d.clone()
	}
	return out, nil
}

// Lookup returns the descriptor for server/tool or a NotFoundError.
func (s *Snapshot) Lookup(server, tool string) (ToolDescriptor, error) {
	i, ok := s.serverIdx[server]
	if !ok {
		return ToolDescriptor{}, &NotFoundError{Server: server, Tool: tool}
	}
	j, ok := s.toolIdx[i][tool]
	if !ok {
		return ToolDescriptor{}, &NotFoundError{Server: server, Tool: tool}
	}
	return s.servers[i].Tools[j].clone(), nil
}

// ListAll yields every descriptor in insertion order. The sequence is lazy
// and may be ranged over any number of times.
func (s *Snapshot) ListAll() iter.Seq[ToolDescriptor] {
	return func(yield func(ToolDescriptor) bool) {
		for _, srv := range s.servers {
			for _, d := range srv.Tools {
				if !yield(d.clone()) {
					return
				}
			}
		}
	}
}

type snapshotJSON struct {
	Version uint64    `json:"version"`
	BuiltAt time.Time `json:"builtAt"`
	Digest  string    `json:"digest"`
	Servers []Server  `json:"servers"`
}

// MarshalJSON encodes the snapshot in its persisted form.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Version: s.version,
		BuiltAt: s.builtAt,
		Digest:  s.digest,
		Servers: s.servers,
	})
}

// DecodeSnapshot parses a persisted snapshot and verifies its digest.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	s, err := NewSnapshot(raw.Version, raw.BuiltAt, raw.Servers)
	if err != nil {
		return nil, err
	}
	if raw.Digest != "" && raw.Digest != s.digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrInvalidSnapshot)
	}
	return s, nil
}
