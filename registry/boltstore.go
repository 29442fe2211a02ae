package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta  = []byte("meta")
	bucketTools = []byte("tools")

	keyVersion = []byte("version")
	keyBuiltAt = []byte("builtAt")
	keyDigest  = []byte("digest")
	keyLayout  = []byte("layout")
)

// serverLayout records server order and tool order, which bolt's sorted
// keys would otherwise lose.
type serverLayout struct {
	Name  string   `json:"name"`
	Kind  string   `json:"kind,omitempty"`
	Tools []string `json:"tools"`
}

// BoltStore keeps the snapshot in a bbolt database. Descriptors live in the
// "tools" bucket keyed by "server:tool".
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Save replaces the stored snapshot in a single transaction.
func (b *BoltStore) Save(ctx context.Context, s *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	layout := make([]serverLayout, 0, len(s.servers))
	for _, srv := range s.servers {
		l := serverLayout{Name: srv.Name, Kind: srv.Kind, Tools: make([]string, len(srv.Tools))}
		for i, d := range srv.Tools {
			l.Tools[i] = d.Name
		}
		layout = append(layout, l)
	}
	layoutJSON, err := json.Marshal(layout)
	if err != nil {
		return err
	}
	builtAt, err := s.builtAt.MarshalText()
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketTools} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		tools, err := tx.CreateBucket(bucketTools)
		if err != nil {
			return err
		}

		if err := meta.Put(keyVersion, fmt.Appendf(nil, "%d", s.version)); err != nil {
			return err
		}
		if err := meta.Put(keyBuiltAt, builtAt); err != nil {
			return err
		}
		if err := meta.Put(keyDigest, []byte(s.digest)); err != nil {
			return err
		}
		if err := meta.Put(keyLayout, layoutJSON); err != nil {
			return err
		}
		for _, srv := range s.servers {
			for _, d := range srv.Tools {
				data, err := json.Marshal(d)
				if err != nil {
					return err
				}
				if err := tools.Put([]byte(d.ID()), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Load reassembles the stored snapshot and verifies its digest.
func (b *BoltStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var raw snapshotJSON
	err := b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		tools := tx.Bucket(bucketTools)
		if meta == nil || tools == nil {
			return ErrNoSnapshot
		}

		if _, err := fmt.Sscanf(string(meta.Get(keyVersion)), "%d", &raw.Version); err != nil {
			return fmt.Errorf("%w: version: %v", ErrInvalidSnapshot, err)
		}
		if err := raw.BuiltAt.UnmarshalText(meta.Get(keyBuiltAt)); err != nil {
			return fmt.Errorf("%w: builtAt: %v", ErrInvalidSnapshot, err)
		}
		raw.Digest = string(meta.Get(keyDigest))

		var layout []serverLayout
		if err := json.Unmarshal(meta.Get(keyLayout), &layout); err != nil {
			return fmt.Errorf("%w: layout: %v", ErrInvalidSnapshot, err)
		}
		for _, l := range layout {
			srv := Server{Name: l.Name, Kind: l.Kind, Tools: make([]ToolDescriptor, 0, len(l.Tools))}
			for _, name := range l.Tools {
				data := tools.Get([]byte(l.Name + ":" + name))
				if data == nil {
					return fmt.Errorf("%w: missing tool %s:%s", ErrInvalidSnapshot, l.Name, name)
				}
				var d ToolDescriptor
				if err := json.Unmarshal(data, &d); err != nil {
					return fmt.Errorf("%w: tool %s:%s: %v", ErrInvalidSnapshot, l.Name, name, err)
				}
				srv.Tools = append(srv.Tools, d)
			}
			raw.Servers = append(raw.Servers, srv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s, err := NewSnapshot(raw.Version, raw.BuiltAt, raw.Servers)
	if err != nil {
		return nil, err
	}
	if raw.Digest != s.digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrInvalidSnapshot)
	}
	return s, nil
}
