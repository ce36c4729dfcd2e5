package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/ticketmiam/internal/history"
	"github.com/zombor/ticketmiam/internal/nutrition"
	"github.com/zombor/ticketmiam/internal/scanning"
)

// ErrProductNotFound is returned when a scan has no product with the requested id
var ErrProductNotFound = errors.New("product not found")

var (
	filenameSpecialChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces       = regexp.MustCompile(`\s+`)
)

// History is the scan history the service reads and mutates
type History interface {
	List() []*nutrition.ScanResult
	FindByID(id string) (*nutrition.ScanResult, error)
	Upsert(ctx context.Context, result *nutrition.ScanResult) ([]*nutrition.ScanResult, error)
	Clear(ctx context.Context) error
	Remove(ctx context.Context, id string) error
}

// Notifier is told about every history change
type Notifier interface {
	Notify(scans []*nutrition.ScanResult)
}

// IDGenerator generates unique IDs for scans
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates time-ordered UUIDv7 ids
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

type noopNotifier struct{}

func (noopNotifier) Notify([]*nutrition.ScanResult) {}

// Service handles scan operations
type Service struct {
	history     History
	scanner     scanning.Scanner
	storage     Storage
	notifier    Notifier
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(history History, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(history, scanner, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(history History, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		history:     history,
		scanner:     scanner,
		storage:     storage,
		notifier:    noopNotifier{},
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// SetNotifier registers the receiver of history changes
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = filenameSpecialChars.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if filenameSpecialChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	return base + ext
}

// ProcessReceipt stores a receipt image, analyzes it, scores the basket and
// records it in the history. When the history cannot be persisted the scan
// is still returned, together with a *PersistenceError.
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*nutrition.ScanResult, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		slog.Warn("Failed to save receipt image", "scan_id", id, "error", err)
		savedPath = ""
	}

	analysis, err := s.scanner.ScanReceipt(data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if savedPath != "" {
			s.deleteImage(savedPath)
		}
		if !errors.Is(err, scanning.ErrAnalysis) {
			err = fmt.Errorf("%w: %w", scanning.ErrAnalysis, err)
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	products := make([]nutrition.Product, 0, len(analysis.Products))
	for _, in := range analysis.Products {
		p, fixed := nutrition.NewProduct(in)
		if len(fixed) > 0 {
			slog.Warn("Corrected product values", "scan_id", id, "product", p.Name, "fields", fixed)
		}
		products = append(products, p)
	}

	result := nutrition.NewScanResult(id, now, analysis.StoreName, products)

	before := s.history.List()
	entries, err := s.history.Upsert(ctx, result)
	s.pruneImages(before, entries)
	s.notifier.Notify(entries)

	slog.Info("Scanned receipt",
		"scan_id", id,
		"store", result.StoreName,
		"products", len(products),
		"score", result.TotalScore(),
	)

	if err != nil {
		slog.Error("Failed to persist history", "scan_id", id, "error", err)
		return result, &PersistenceError{Result: result, Err: err}
	}
	return result, nil
}

// ListScans returns the history, most recent first
func (s *Service) ListScans() []*nutrition.ScanResult {
	return s.history.List()
}

// GetScan retrieves a scan by ID
func (s *Service) GetScan(id string) (*nutrition.ScanResult, error) {
	scan, err := s.history.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	return scan, nil
}

// ClearHistory erases every scan and its image. It refuses to run unless
// confirm is true.
func (s *Service) ClearHistory(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}

	scans := s.history.List()
	err := s.history.Clear(ctx)
	for _, scan := range scans {
		s.deleteScanImage(scan.ID)
	}
	s.notifier.Notify(s.history.List())

	if err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	slog.Info("Cleared history", "scans", len(scans))
	return nil
}

// DeleteScan removes a single scan and its image
func (s *Service) DeleteScan(ctx context.Context, id string) error {
	err := s.history.Remove(ctx, id)
	if err != nil && !errors.Is(err, history.ErrPersistence) {
		return fmt.Errorf("deleting scan: %w", err)
	}

	s.deleteScanImage(id)
	s.notifier.Notify(s.history.List())

	if err != nil {
		return fmt.Errorf("deleting scan: %w", err)
	}
	return nil
}

// CycleProductScore manually overrides a product grade with the next one in
// the A-E cycle. The basket is rescored and the scan upserted.
func (s *Service) CycleProductScore(ctx context.Context, scanID, productID string) (*nutrition.ScanResult, error) {
	scan, err := s.history.FindByID(scanID)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	if _, err := scan.CycleProductScore(productID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	entries, err := s.history.Upsert(ctx, scan)
	s.notifier.Notify(entries)
	if err != nil {
		return scan, &PersistenceError{Result: scan, Err: err}
	}
	return scan, nil
}

// MacroTotals returns the macro chart data of a scan. ok is false when the
// basket has no macronutrient data at all.
func (s *Service) MacroTotals(id string) (Macros, bool, error) {
	scan, err := s.GetScan(id)
	if err != nil {
		return Macros{}, false, err
	}
	totals, ok := nutrition.ComputeMacroTotals(scan.Products())
	if !ok {
		return Macros{}, false, nil
	}
	return Macros{Totals: totals, Shares: totals.Shares()}, true, nil
}

// Trend returns the score trend series, oldest first
func (s *Service) Trend() []nutrition.TrendPoint {
	return nutrition.ScoreTrend(s.history.List())
}

// GetScanImage retrieves the stored receipt image of a scan
func (s *Service) GetScanImage(id string) ([]byte, string, error) {
	if _, err := s.history.FindByID(id); err != nil {
		return nil, "", fmt.Errorf("getting scan: %w", err)
	}

	path, err := s.storage.Find(id + "_")
	if err != nil {
		return nil, "", fmt.Errorf("finding receipt image: %w", err)
	}
	data, err := s.storage.Get(path)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, contentTypeFor(path, data), nil
}

// pruneImages deletes the images of scans that fell out of the history
func (s *Service) pruneImages(before, after []*nutrition.ScanResult) {
	kept := make(map[string]bool, len(after))
	for _, r := range after {
		kept[r.ID] = true
	}
	for _, r := range before {
		if !kept[r.ID] {
			s.deleteScanImage(r.ID)
		}
	}
}

func (s *Service) deleteScanImage(id string) {
	path, err := s.storage.Find(id + "_")
	if err != nil {
		return
	}
	s.deleteImage(path)
}

func (s *Service) deleteImage(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}
