// Package emulator is a local, single-file query backend. Documents live in
// a boltdb file with one bucket per collection, keyed by the order-preserving
// encoding of the document ID, so a bucket scan visits documents in
// __name__ order.
package emulator

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openkvlab/boltdb"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/xeipuuv/gojsonschema"
	"rsc.io/ordered"

	"github.com/kartikbazzad/bunquery/pkg/config"
	"github.com/kartikbazzad/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunquery/wire"
)

var schemaBucket = []byte("__schemas__")

// record is the stored form of a document.
type record struct {
	Fields     msgpack.RawMessage `msgpack:"fields"`
	CreateTime time.Time          `msgpack:"create_time"`
	UpdateTime time.Time          `msgpack:"update_time"`
}

type Store struct {
	db               *boltdb.DB
	logger           *slog.Logger
	minPartitionSize int
	now              func() time.Time

	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema // nil value = no schema
}

// Open opens (or creates) the store file named by cfg.Path.
func Open(cfg config.EmulatorConfig, log *slog.Logger) (*Store, error) {
	db, err := boltdb.Open(cfg.Path, 0o600, &boltdb.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open emulator store %s: %w", cfg.Path, err)
	}
	return &Store{
		db:               db,
		logger:           log,
		minPartitionSize: cfg.MinPartitionSize,
		now:              time.Now,
		schemas:          make(map[string]*gojsonschema.Schema),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CollectionPath joins a parent path and collection ID.
func CollectionPath(parent, collectionID string) string {
	return parent + "/" + collectionID
}

func docKey(id string) []byte {
	return ordered.Encode(id)
}

func docID(key []byte) (string, error) {
	vals, err := ordered.DecodeAny(key)
	if err != nil {
		return "", err
	}
	if len(vals) != 1 {
		return "", fmt.Errorf("document key holds %d values", len(vals))
	}
	id, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("document key holds %T, want string", vals[0])
	}
	return id, nil
}

// SetSchema attaches a JSON schema to a collection. Later writes to the
// collection must validate against it.
func (s *Store) SetSchema(parent, collectionID string, schema []byte) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid json schema: %w", err)
	}
	path := CollectionPath(parent, collectionID)
	err = s.db.Update(func(tx *boltdb.Tx) error {
		b, err := tx.CreateBucketIfNotExists(schemaBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(path), schema)
	})
	if err != nil {
		return fmt.Errorf("store schema of %s: %w", path, err)
	}

	s.mu.Lock()
	s.schemas[path] = compiled
	s.mu.Unlock()
	return nil
}

func (s *Store) schema(path string) (*gojsonschema.Schema, error) {
	s.mu.RLock()
	compiled, ok := s.schemas[path]
	s.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	var raw []byte
	err := s.db.View(func(tx *boltdb.Tx) error {
		if b := tx.Bucket(schemaBucket); b != nil {
			if v := b.Get([]byte(path)); v != nil {
				raw = append([]byte(nil), v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw != nil {
		if compiled, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw)); err != nil {
			return nil, fmt.Errorf("stored schema of %s: %w", path, err)
		}
	}

	s.mu.Lock()
	s.schemas[path] = compiled
	s.mu.Unlock()
	return compiled, nil
}

func validate(schema *gojsonschema.Schema, fields map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return errors.NewDatabaseError(wire.CodeInvalidArgument,
			"document invalid against schema: "+strings.Join(errs, "; "))
	}
	return nil
}

// Put creates or replaces a document.
func (s *Store) Put(parent, collectionID, id string, fields map[string]interface{}) (*wire.Document, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, errors.NewDatabaseError(wire.CodeInvalidArgument, fmt.Sprintf("invalid document id %q", id))
	}
	path := CollectionPath(parent, collectionID)

	schema, err := s.schema(path)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		if err := validate(schema, fields); err != nil {
			return nil, err
		}
	}

	raw, err := msgpack.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields of %s/%s: %w", path, id, err)
	}

	now := s.now().UTC()
	rec := record{Fields: raw, CreateTime: now, UpdateTime: now}
	err = s.db.Update(func(tx *boltdb.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(path))
		if err != nil {
			return err
		}
		key := docKey(id)
		if prev := b.Get(key); prev != nil {
			var old record
			if err := msgpack.Unmarshal(prev, &old); err == nil {
				rec.CreateTime = old.CreateTime
			}
		}
		val, err := msgpack.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put(key, val)
	})
	if err != nil {
		return nil, fmt.Errorf("put %s/%s: %w", path, id, err)
	}

	return &wire.Document{
		Name:       path + "/" + id,
		Fields:     raw,
		CreateTime: rec.CreateTime,
		UpdateTime: rec.UpdateTime,
	}, nil
}

// Get returns a document or a NotFound DatabaseError.
func (s *Store) Get(parent, collectionID, id string) (*wire.Document, error) {
	path := CollectionPath(parent, collectionID)
	var doc *wire.Document
	err := s.db.View(func(tx *boltdb.Tx) error {
		b := tx.Bucket([]byte(path))
		if b == nil {
			return nil
		}
		v := b.Get(docKey(id))
		if v == nil {
			return nil
		}
		var err error
		doc, err = decodeRecord(path+"/"+id, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.NewDatabaseError(wire.CodeNotFound, fmt.Sprintf("document %s/%s not found", path, id))
	}
	return doc, nil
}

func decodeRecord(name string, v []byte) (*wire.Document, error) {
	var rec record
	if err := msgpack.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", name, err)
	}
	return &wire.Document{
		Name:       name,
		Fields:     append(msgpack.RawMessage(nil), rec.Fields...),
		CreateTime: rec.CreateTime,
		UpdateTime: rec.UpdateTime,
	}, nil
}
