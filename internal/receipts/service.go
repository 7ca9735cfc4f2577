package receipts

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/aimms/backend/internal/domain"
	"github.com/aimms/backend/internal/repository"
)

var (
	ErrEmptyUpload  = errors.New("empty upload")
	ErrUserNotFound = errors.New("receipt owner not found")
)

const (
	ocrConfidence    = 0.95
	receiptDateFmt   = "2006-01-02"
	defaultCacheSize = 256
)

// MissingUserPolicy decides what happens when the receipt owner is absent.
type MissingUserPolicy string

const (
	// MissingUserSkip returns the extraction without storing a receipt.
	MissingUserSkip MissingUserPolicy = "skip"
	// MissingUserError fails the upload with ErrUserNotFound.
	MissingUserError MissingUserPolicy = "error"
)

func ParseMissingUserPolicy(s string) (MissingUserPolicy, error) {
	switch p := MissingUserPolicy(s); p {
	case MissingUserSkip, MissingUserError:
		return p, nil
	}
	return "", fmt.Errorf("unknown missing user policy %q", s)
}

type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (*ReceiptData, error)
}

type UserFinder interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type ReceiptStore interface {
	Insert(ctx context.Context, rc *domain.Receipt) error
	FindByHash(ctx context.Context, hash string) (*domain.Receipt, error)
}

// OutcomeRecorder receives the success or failure of every extraction call.
type OutcomeRecorder interface {
	Record(ok bool)
}

type Options struct {
	DefaultUserID int64
	MissingUser   MissingUserPolicy
	CacheSize     int
}

// Service runs the upload pipeline: extract, resolve owner, persist.
type Service struct {
	extractor Extractor
	users     UserFinder
	receipts  ReceiptStore
	outcomes  OutcomeRecorder
	log       *zap.SugaredLogger
	opts      Options

	// recent maps the sha256 of stored uploads to their extraction. It sits
	// in front of the file_hash lookup on the receipts table.
	recent *lru.Cache[string, ReceiptData]

	now func() time.Time
}

func NewService(
	extractor Extractor,
	users UserFinder,
	receipts ReceiptStore,
	outcomes OutcomeRecorder,
	log *zap.SugaredLogger,
	opts Options,
) (*Service, error) {
	if opts.DefaultUserID <= 0 {
		opts.DefaultUserID = 1
	}
	if opts.MissingUser == "" {
		opts.MissingUser = MissingUserSkip
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, ReceiptData](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("upload cache: %w", err)
	}
	return &Service{
		extractor: extractor,
		users:     users,
		receipts:  receipts,
		outcomes:  outcomes,
		log:       log,
		opts:      opts,
		recent:    cache,
		now:       time.Now,
	}, nil
}

// Ingest extracts a receipt from an uploaded image and stores it for the
// default owner. Re-uploading a stored file returns the earlier extraction
// without calling the OCR service again.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (*ReceiptData, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	if cached, ok := s.recent.Get(hash); ok {
		s.log.Infow("upload already ingested", "file", filename, "hash", hash[:12])
		return &cached, nil
	}

	prior, err := s.receipts.FindByHash(ctx, hash)
	switch {
	case err == nil:
		s.log.Infow("upload already stored", "file", filename, "hash", hash[:12], "receipt_id", prior.ID)
		stored := fromReceipt(prior)
		s.recent.Add(hash, *stored)
		return stored, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("check upload %s: %w", filename, err)
	}

	extracted, err := s.extractor.Extract(ctx, filename, data)
	if s.outcomes != nil {
		s.outcomes.Record(err == nil)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filename, err)
	}

	user, err := s.users.GetByID(ctx, s.opts.DefaultUserID)
	if errors.Is(err, repository.ErrNotFound) {
		if s.opts.MissingUser == MissingUserError {
			return nil, fmt.Errorf("user %d: %w", s.opts.DefaultUserID, ErrUserNotFound)
		}
		s.log.Warnw("receipt owner missing, not storing receipt",
			"user_id", s.opts.DefaultUserID, "file", filename)
		return extracted, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", s.opts.DefaultUserID, err)
	}

	rc := s.buildReceipt(user.ID, hash, extracted)
	if err := s.receipts.Insert(ctx, rc); err != nil {
		return nil, fmt.Errorf("store receipt: %w", err)
	}

	s.recent.Add(hash, *extracted)
	s.log.Infow("receipt stored",
		"id", rc.ID, "user_id", rc.UserID, "merchant", rc.Merchant, "dated", rc.ReceiptDate != nil)
	return extracted, nil
}

func (s *Service) buildReceipt(userID int64, hash string, d *ReceiptData) *domain.Receipt {
	rc := &domain.Receipt{
		ID:            uuid.NewString(),
		UserID:        userID,
		Merchant:      d.MerchantName,
		TotalAmount:   d.TotalAmount,
		ExtractedText: string(d.RawText),
		OCRConfidence: ocrConfidence,
		Processed:     true,
		FileHash:      hash,
		CreatedAt:     s.now(),
	}
	if d.Date != "" {
		if t, err := time.Parse(receiptDateFmt, d.Date); err == nil {
			rc.ReceiptDate = &t
		}
	}
	return rc
}

// fromReceipt rebuilds the extraction payload from a stored receipt.
func fromReceipt(rc *domain.Receipt) *ReceiptData {
	d := &ReceiptData{
		MerchantName: rc.Merchant,
		TotalAmount:  rc.TotalAmount,
		RawText:      RawText(rc.ExtractedText),
	}
	if rc.ReceiptDate != nil {
		d.Date = rc.ReceiptDate.UTC().Format(receiptDateFmt)
	}
	return d
}
