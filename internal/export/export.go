// Package export renders an owner's cycles into downloadable artifacts and
// keeps them in the blob store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cyclekeeper/internal/blob"
	"cyclekeeper/pkg/domain"
)

// Format names an export encoding.
type Format string

// Supported export formats.
const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// DefaultPrefix is the key prefix under which artifacts are stored.
const DefaultPrefix = "exports"

const entityExport domain.EntityType = "export"

const timestampLayout = "20060102T150405Z"

// ContentType returns the MIME type written for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat accepts a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", domain.InvalidInput(entityExport, "formats", fmt.Sprintf("unsupported format %q", s))
	}
}

// CycleSource lists the fully assembled cycles of an owner. *core.Service
// satisfies it.
type CycleSource interface {
	ListCycles(ctx context.Context, owner string) ([]domain.CycleAggregate, error)
}

// Artifact describes one stored export file.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service produces and serves export artifacts.
type Service struct {
	source        CycleSource
	store         blob.Store
	prefix        string
	presignExpiry time.Duration
	now           func() time.Time
	newID         func() string
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Service) {
		if p := strings.Trim(prefix, "/"); p != "" {
			s.prefix = p
		}
	}
}

// WithPresignExpiry sets the lifetime of links returned by Link.
func WithPresignExpiry(d time.Duration) Option {
	return func(s *Service) { s.presignExpiry = d }
}

// WithClock overrides the time source used for artifact names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the artifact id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires an export service over source and store.
func NewService(source CycleSource, store blob.Store, opts ...Option) *Service {
	s := &Service{
		source: source,
		store:  store,
		prefix: DefaultPrefix,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders the owner's cycles in each requested format and stores the
// results. An empty format list exports every format. All artifacts of one
// call share a timestamp and id.
func (s *Service) Export(ctx context.Context, owner string, formats []Format) ([]Artifact, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	formats, err := normalizeFormats(formats)
	if err != nil {
		return nil, err
	}
	cycles, err := s.source.ListCycles(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load cycles: %w", err)
	}
	exportedAt := s.now().UTC()
	base := path.Join(s.ownerPrefix(owner), exportedAt.Format(timestampLayout)+"-"+s.newID())

	artifacts := make([]Artifact, len(formats))
	g, gctx := errgroup.WithContext(ctx)
	for i, format := range formats {
		g.Go(func() error {
			data, err := render(format, owner, exportedAt, cycles)
			if err != nil {
				return fmt.Errorf("render %s: %w", format, err)
			}
			info, err := s.store.Put(gctx, base+"."+string(format), bytes.NewReader(data), blob.PutOptions{
				ContentType: format.ContentType(),
				Metadata: map[string]string{
					"owner":  owner,
					"format": string(format),
					"cycles": fmt.Sprint(len(cycles)),
				},
			})
			if err != nil {
				return fmt.Errorf("store %s: %w", format, err)
			}
			artifacts[i] = Artifact{
				Key:         info.Key,
				Format:      format,
				ContentType: format.ContentType(),
				Size:        info.Size,
				CreatedAt:   exportedAt,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "export failed", "owner", owner, "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "export stored", "owner", owner, "cycles", len(cycles), "artifacts", len(artifacts))
	return artifacts, nil
}

// ListExports returns the owner's artifacts, oldest first.
func (s *Service) ListExports(ctx context.Context, owner string) ([]Artifact, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	infos, err := s.store.List(ctx, s.ownerPrefix(owner)+"/")
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	out := make([]Artifact, 0, len(infos))
	for _, info := range infos {
		out = append(out, artifactFromInfo(info))
	}
	return out, nil
}

// Download opens an artifact owned by owner. Keys outside the owner's prefix
// are reported as not found.
func (s *Service) Download(ctx context.Context, owner, key string) (Artifact, io.ReadCloser, error) {
	clean, err := s.ownedKey(owner, key)
	if err != nil {
		return Artifact{}, nil, err
	}
	info, rc, err := s.store.Get(ctx, clean)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Artifact{}, nil, domain.NotFoundError{Entity: entityExport, ID: key}
		}
		return Artifact{}, nil, err
	}
	return artifactFromInfo(info), rc, nil
}

// Link returns a time-limited download URL for an owned artifact. Backends
// without signing return blob.ErrUnsupported.
func (s *Service) Link(ctx context.Context, owner, key string) (string, error) {
	clean, err := s.ownedKey(owner, key)
	if err != nil {
		return "", err
	}
	if _, err := s.store.Head(ctx, clean); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return "", domain.NotFoundError{Entity: entityExport, ID: key}
		}
		return "", err
	}
	return s.store.PresignURL(ctx, clean, blob.SignedURLOptions{Method: "GET", Expiry: s.presignExpiry})
}

func (s *Service) ownerPrefix(owner string) string {
	return s.prefix + "/" + owner
}

func (s *Service) ownedKey(owner, key string) (string, error) {
	if err := checkOwner(owner); err != nil {
		return "", err
	}
	clean, err := blob.CleanKey(key)
	if err != nil {
		return "", domain.InvalidInput(entityExport, "key", err.Error())
	}
	if !strings.HasPrefix(clean, s.ownerPrefix(owner)+"/") {
		return "", domain.NotFoundError{Entity: entityExport, ID: key}
	}
	return clean, nil
}

func checkOwner(owner string) error {
	if strings.TrimSpace(owner) == "" || strings.ContainsAny(owner, `/\`) || owner == "." || owner == ".." {
		return domain.InvalidInput(entityExport, "owner", "invalid owner id")
	}
	return nil
}

func normalizeFormats(formats []Format) ([]Format, error) {
	if len(formats) == 0 {
		return []Format{FormatJSON, FormatXLSX}, nil
	}
	seen := make(map[Format]bool, len(formats))
	out := make([]Format, 0, len(formats))
	for _, f := range formats {
		parsed, err := ParseFormat(string(f))
		if err != nil {
			return nil, err
		}
		if !seen[parsed] {
			seen[parsed] = true
			out = append(out, parsed)
		}
	}
	return out, nil
}

func artifactFromInfo(info blob.Info) Artifact {
	format := Format(strings.TrimPrefix(path.Ext(info.Key), "."))
	created := info.LastModified
	name := path.Base(info.Key)
	if len(name) >= len(timestampLayout) {
		if ts, err := time.Parse(timestampLayout, name[:len(timestampLayout)]); err == nil {
			created = ts
		}
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = format.ContentType()
	}
	return Artifact{Key: info.Key, Format: format, ContentType: contentType, Size: info.Size, CreatedAt: created}
}

// Document is the JSON export layout.
type Document struct {
	OwnerID    string        `json:"owner_id"`
	ExportedAt time.Time     `json:"exported_at"`
	Cycles     []CycleRecord `json:"cycles"`
}

// CycleRecord is one exported cycle with its derived progress.
type CycleRecord struct {
	domain.CycleAggregate
	Progress domain.Progress `json:"progress"`
}

func render(format Format, owner string, exportedAt time.Time, cycles []domain.CycleAggregate) ([]byte, error) {
	switch format {
	case FormatJSON:
		return renderJSON(owner, exportedAt, cycles)
	case FormatXLSX:
		return renderWorkbook(cycles)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func renderJSON(owner string, exportedAt time.Time, cycles []domain.CycleAggregate) ([]byte, error) {
	doc := Document{OwnerID: owner, ExportedAt: exportedAt, Cycles: make([]CycleRecord, 0, len(cycles))}
	for _, c := range cycles {
		doc.Cycles = append(doc.Cycles, CycleRecord{CycleAggregate: c, Progress: c.Progress()})
	}
	return json.MarshalIndent(doc, "", "  ")
}
