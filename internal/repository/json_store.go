package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/eric-albuquer/invoice-etl/internal/entity"
)

const storeSchemaURL = "invoices.schema.json"

// storeSchema is the stable shape of the JSON store read by analytics consumers.
const storeSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["order_id", "customer_id", "date", "items"],
    "properties": {
      "order_id": {"type": "string", "minLength": 1},
      "customer_id": {"type": "string", "minLength": 1},
      "date": {"type": "string", "pattern": "^\\d{4}-\\d{1,2}-\\d{1,2}$"},
      "items": {
        "type": "array",
        "minItems": 1,
        "items": {
          "type": "object",
          "required": ["product_name", "quantity", "unit_price"],
          "properties": {
            "product_id": {"type": ["string", "null"]},
            "product_name": {"type": "string", "minLength": 1},
            "quantity": {"type": "integer", "exclusiveMinimum": 0},
            "unit_price": {"type": "number", "exclusiveMinimum": 0}
          }
        }
      }
    }
  }
}`

// JSONStore keeps all invoices in one JSON document. Every Append rewrites the
// whole document through a temp file and rename, so readers never see a partial write.
type JSONStore struct {
	path   string
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewJSONStore(path string, logger *slog.Logger) (*JSONStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("json store: path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(storeSchemaURL, strings.NewReader(storeSchema)); err != nil {
		return nil, fmt.Errorf("add store schema: %w", err)
	}
	schema, err := compiler.Compile(storeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile store schema: %w", err)
	}
	return &JSONStore{path: path, schema: schema, logger: logger}, nil
}

// Load reads the document. A missing or empty file is an empty store.
func (s *JSONStore) Load(ctx context.Context) ([]entity.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("json store not found, starting empty", "path", s.path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return s.decode(data)
}

func (s *JSONStore) decode(data []byte) ([]entity.Invoice, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.path, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.path, err)
	}
	var invoices []entity.Invoice
	if err := json.Unmarshal(data, &invoices); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, s.path, err)
	}
	return invoices, nil
}

// Append adds invoices after the ones already on disk.
func (s *JSONStore) Append(ctx context.Context, invoices []entity.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	existing, err := s.Load(ctx)
	if err != nil {
		return err
	}
	all := make([]entity.Invoice, 0, len(existing)+len(invoices))
	all = append(all, existing...)
	all = append(all, invoices...)
	if err := s.write(all); err != nil {
		return err
	}
	s.logger.Debug("json store written", "path", s.path, "appended", len(invoices), "total", len(all))
	return nil
}

// Reset moves the current document aside. The next Append starts a new one.
func (s *JSONStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	aside, err := moveAside(s.path)
	if err != nil {
		return err
	}
	if aside != "" {
		s.logger.Warn("moved corrupt json store aside", "path", s.path, "moved_to", aside)
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) write(invoices []entity.Invoice) error {
	data, err := json.MarshalIndent(invoices, "", "    ")
	if err != nil {
		return fmt.Errorf("encode invoices: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
