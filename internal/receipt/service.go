package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/money"
	"github.com/zombor/tabsplit/internal/parser"
	"github.com/zombor/tabsplit/internal/scanning"
)

var (
	// ErrRecognitionFailed wraps errors returned by the text recognizer.
	ErrRecognitionFailed = errors.New("processing failed")
	// ErrNothingDetected means the image held no items, total or subtotal.
	ErrNothingDetected = errors.New("nothing detected")
	ErrInvalidInput    = errors.New("invalid input")
)

var (
	filenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces        = regexp.MustCompile(`\s+`)
	maxRate       = decimal.NewFromInt(100)
)

// IDGenerator generates unique IDs for receipts, items and people
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Rates are the VAT and service percentages used when a receipt does not
// print them.
type Rates struct {
	VAT     decimal.Decimal
	Service decimal.Decimal
}

// Service handles receipt operations
type Service struct {
	db          DB
	recognizer  scanning.Recognizer
	detector    scanning.RectangleDetector
	parser      *parser.Parser
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	defaults    Rates
	logger      *slog.Logger

	// serializes read-modify-write edits
	mu sync.Mutex
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithDetector sets the receipt boundary detector used before recognition
func WithDetector(d scanning.RectangleDetector) ServiceOption {
	return func(s *Service) { s.detector = d }
}

// WithDefaultRates sets the rates applied when a receipt prints none
func WithDefaultRates(r Rates) ServiceOption {
	return func(s *Service) { s.defaults = r }
}

// WithLogger sets the service logger
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, recognizer scanning.Recognizer, storage Storage, p *parser.Parser, opts ...ServiceOption) *Service {
	return NewServiceWithDeps(db, recognizer, storage, p, &uuidGenerator{}, &defaultTimeSource{}, opts...)
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer scanning.Recognizer, storage Storage, p *parser.Parser, idGen IDGenerator, timeSrc TimeSource, opts ...ServiceOption) *Service {
	s := &Service{
		db:          db,
		recognizer:  recognizer,
		storage:     storage,
		parser:      p,
		idGenerator: idGen,
		timeSource:  timeSrc,
		defaults:    Rates{VAT: decimal.Zero, Service: decimal.Zero},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	base = filenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaces.ReplaceAllString(base, " "))

	// phones produce very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	if ext = filenameChars.ReplaceAllString(strings.TrimPrefix(ext, "."), ""); ext != "" {
		ext = "." + ext
	}
	return base + ext
}

// ProcessReceipt stores an uploaded receipt image, recognizes and parses its
// text, and saves the resulting receipt. The parse diagnostics are returned
// when the parser has them enabled, also alongside ErrNothingDetected.
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, *parser.Diagnostics, error) {
	img, err := scanning.DecodeImage(data, contentType)
	if err != nil {
		return nil, nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, nil, fmt.Errorf("saving file: %w", err)
	}
	discard := func() {
		if err := s.storage.Delete(savedPath); err != nil {
			s.logger.Warn("Failed to delete file", "filename", savedPath, "error", err)
		}
	}

	region := scanning.ReceiptRegion(s.detector, img, s.logger)
	processed := scanning.Preprocess(img, region)

	observations, err := s.recognizer.Recognize(ctx, processed)
	if err != nil {
		s.logger.Error("Failed to recognize receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		discard()
		return nil, nil, fmt.Errorf("%w: %w", ErrRecognitionFailed, err)
	}

	result, err := s.parser.Parse(observations, scanning.SizeOf(processed))
	if errors.Is(err, parser.ErrNoObservations) {
		discard()
		return nil, nil, ErrNothingDetected
	}
	if err != nil {
		discard()
		return nil, nil, fmt.Errorf("parsing receipt: %w", err)
	}
	if result.NothingDetected {
		discard()
		return nil, result.Diagnostics, ErrNothingDetected
	}

	receipt := s.fromResult(result)
	receipt.ID = id
	receipt.Timestamp = now
	receipt.Filename = savedPath
	receipt.ContentType = contentType
	receipt.CreatedAt = now
	receipt.UpdatedAt = now

	if err := s.db.SaveReceipt(receipt); err != nil {
		discard()
		return nil, nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	s.logger.Info("Processed receipt",
		"id", id,
		"items", len(receipt.Items),
		"total", receipt.Total,
		"confidence", result.Confidence,
	)
	return receipt, result.Diagnostics, nil
}

// fromResult builds a receipt from a parse, filling unknown rates from the
// defaults and an unknown total from the subtotal.
func (s *Service) fromResult(result *parser.Result) *Receipt {
	r := &Receipt{
		Items:             make([]Item, 0, len(result.Items)),
		People:            []Person{},
		VATPercentage:     s.defaults.VAT,
		ServicePercentage: s.defaults.Service,
		TotalConfidence:   result.TotalConfidence,
		Confidence:        result.Confidence,
		Boxes:             result.Boxes,
	}
	for _, pi := range result.Items {
		item := NewItem(s.idGenerator.Generate(), pi.Name, pi.UnitPrice, pi.Quantity)
		item.Uncertain = pi.Uncertain
		r.Items = append(r.Items, item)
	}

	if result.Subtotal.Valid {
		r.Subtotal = result.Subtotal.Decimal
	} else {
		r.Subtotal = r.ItemsSubtotal()
	}
	if result.VATPercentage.Valid {
		r.VATPercentage = result.VATPercentage.Decimal
	}
	if result.ServicePercentage.Valid {
		r.ServicePercentage = result.ServicePercentage.Decimal
	}
	r.Total = r.Subtotal
	if result.Total.Valid {
		r.Total = result.Total.Decimal
	}
	return r
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].Timestamp.After(receipts[j].Timestamp)
	})
	return receipts, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.Filename != "" {
		if err := s.storage.Delete(receipt.Filename); err != nil {
			// continue with database deletion
			s.logger.Warn("Failed to delete file", "filename", receipt.Filename, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the uploaded file for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.Filename == "" {
		return nil, "", fmt.Errorf("%w: receipt %s has no file", ErrNotFound, id)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}

// update loads a receipt, applies fn and saves it.
func (s *Service) update(id string, fn func(r *Receipt) error) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	r.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveReceipt(r); err != nil {
		return nil, fmt.Errorf("saving receipt: %w", err)
	}
	return r, nil
}

func findItem(r *Receipt, itemID string) (int, error) {
	i, ok := r.Item(itemID)
	if !ok {
		return -1, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	return i, nil
}

// AddPerson adds a person to the receipt
func (s *Service) AddPerson(id, name string) (*Receipt, Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Person{}, fmt.Errorf("%w: person name is required", ErrInvalidInput)
	}

	person := Person{ID: s.idGenerator.Generate(), Name: name}
	r, err := s.update(id, func(r *Receipt) error {
		r.People = append(r.People, person)
		return nil
	})
	if err != nil {
		return nil, Person{}, err
	}
	return r, person, nil
}

// RemovePerson removes a person and every unit assignment naming them
func (s *Service) RemovePerson(id, personID string) (*Receipt, error) {
	return s.update(id, func(r *Receipt) error {
		if _, ok := r.Person(personID); !ok {
			return fmt.Errorf("%w: person %s", ErrNotFound, personID)
		}
		r.People = slices.DeleteFunc(r.People, func(p Person) bool { return p.ID == personID })
		for i := range r.Items {
			for u := range r.Items[i].UnitAssignments {
				r.Items[i].UnitAssignments[u] = slices.DeleteFunc(r.Items[i].UnitAssignments[u], func(pid string) bool {
					return pid == personID
				})
			}
		}
		return nil
	})
}

// ToggleAssignment adds a person to a unit of an item, or removes them if
// they are already assigned and someone else shares the unit. The last
// person on a unit is never removed.
func (s *Service) ToggleAssignment(id, itemID string, unit int, personID string) (*Receipt, error) {
	return s.update(id, func(r *Receipt) error {
		i, err := findItem(r, itemID)
		if err != nil {
			return err
		}
		if _, ok := r.Person(personID); !ok {
			return fmt.Errorf("%w: person %s", ErrNotFound, personID)
		}
		item := &r.Items[i]
		item.EnsureUnitAssignmentsCount()
		if unit < 0 || unit >= len(item.UnitAssignments) {
			return fmt.Errorf("%w: unit %d out of range for quantity %d", ErrInvalidInput, unit, item.Quantity)
		}

		assigned := item.UnitAssignments[unit]
		if idx := slices.Index(assigned, personID); idx >= 0 {
			if len(assigned) > 1 {
				item.UnitAssignments[unit] = slices.Delete(assigned, idx, idx+1)
			}
			return nil
		}
		item.UnitAssignments[unit] = append(assigned, personID)
		return nil
	})
}

// AssignAll puts the given people on every unit of an item, replacing any
// previous assignment.
func (s *Service) AssignAll(id, itemID string, personIDs []string) (*Receipt, error) {
	return s.update(id, func(r *Receipt) error {
		i, err := findItem(r, itemID)
		if err != nil {
			return err
		}
		for _, pid := range personIDs {
			if _, ok := r.Person(pid); !ok {
				return fmt.Errorf("%w: person %s", ErrNotFound, pid)
			}
		}
		var unique []string
		for _, pid := range personIDs {
			if !slices.Contains(unique, pid) {
				unique = append(unique, pid)
			}
		}
		item := &r.Items[i]
		item.EnsureUnitAssignmentsCount()
		for u := range item.UnitAssignments {
			item.UnitAssignments[u] = slices.Clone(unique)
		}
		return nil
	})
}

// ItemUpdate holds the fields to change on an item; nil fields are kept.
type ItemUpdate struct {
	Name      *string          `json:"name,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Quantity  *int             `json:"quantity,omitempty"`
}

func validateItem(name string, unitPrice decimal.Decimal, quantity int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: item name is required", ErrInvalidInput)
	}
	if !unitPrice.IsPositive() {
		return fmt.Errorf("%w: unit price must be positive", ErrInvalidInput)
	}
	if quantity < 1 || quantity > 999 {
		return fmt.Errorf("%w: quantity must be between 1 and 999", ErrInvalidInput)
	}
	return nil
}

// UpdateItem edits an item and recomputes the subtotal and total
func (s *Service) UpdateItem(id, itemID string, u ItemUpdate) (*Receipt, error) {
	return s.update(id, func(r *Receipt) error {
		i, err := findItem(r, itemID)
		if err != nil {
			return err
		}
		item := r.Items[i]
		if u.Name != nil {
			item.Name = strings.TrimSpace(*u.Name)
		}
		if u.UnitPrice != nil {
			item.UnitPrice = *u.UnitPrice
		}
		if u.Quantity != nil {
			item.SetQuantity(*u.Quantity)
		}
		if err := validateItem(item.Name, item.UnitPrice, item.Quantity); err != nil {
			return err
		}
		item.Uncertain = false
		r.Items[i] = item
		r.Recalculate()
		return nil
	})
}

// AddItem appends an item and recomputes the subtotal and total
func (s *Service) AddItem(id, name string, unitPrice decimal.Decimal, quantity int) (*Receipt, Item, error) {
	name = strings.TrimSpace(name)
	if err := validateItem(name, unitPrice, quantity); err != nil {
		return nil, Item{}, err
	}

	item := NewItem(s.idGenerator.Generate(), name, unitPrice, quantity)
	r, err := s.update(id, func(r *Receipt) error {
		r.Items = append(r.Items, item)
		r.Recalculate()
		return nil
	})
	if err != nil {
		return nil, Item{}, err
	}
	return r, item, nil
}

// DeleteItem removes an item and recomputes the subtotal and total
func (s *Service) DeleteItem(id, itemID string) (*Receipt, error) {
	return s.update(id, func(r *Receipt) error {
		i, err := findItem(r, itemID)
		if err != nil {
			return err
		}
		r.Items = slices.Delete(r.Items, i, i+1)
		r.Recalculate()
		return nil
	})
}

// UpdateRates sets the VAT and service percentages and recomputes the total.
// Percentages must lie within [0, 100].
func (s *Service) UpdateRates(id string, rates Rates) (*Receipt, error) {
	for _, p := range []decimal.Decimal{rates.VAT, rates.Service} {
		if p.IsNegative() || p.GreaterThan(maxRate) {
			return nil, fmt.Errorf("%w: percentage %s outside 0-100", ErrInvalidInput, p)
		}
	}
	return s.update(id, func(r *Receipt) error {
		r.VATPercentage = rates.VAT
		r.ServicePercentage = rates.Service
		r.Total = money.Round(r.CalculatedTotal())
		return nil
	})
}

// Splits is the per-person breakdown of a receipt.
type Splits struct {
	Splits []PersonSplit `json:"splits"`
	// Complete is true when every unit of every item has someone assigned.
	Complete bool `json:"complete"`
}

// Splits calculates what each person owes
func (s *Service) Splits(id string) (*Splits, error) {
	r, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return &Splits{Splits: CalculateSplits(r), Complete: ValidateAssignments(r)}, nil
}

// Parse runs the parser on observations supplied by the caller
func (s *Service) Parse(observations []parser.Observation, size parser.Size) (*parser.Result, error) {
	return s.parser.Parse(observations, size)
}
