package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"lan-registration-platform/internal/config"
)

// StorageFactory creates the ticket archive with its fallback
type StorageFactory struct {
	config *config.Config
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg *config.Config) *StorageFactory {
	return &StorageFactory{config: cfg}
}

// CreateStorageService returns R2 backed by the local archive directory,
// or the local archive alone when R2 is not usable
func (f *StorageFactory) CreateStorageService(ctx context.Context) StorageService {
	fallbackURL := fmt.Sprintf("http://%s:%s/tickets", f.config.Server.Host, f.config.Server.Port)
	fallback := NewFallbackStorageService(f.config.Cart.TicketArchiveDir, fallbackURL)

	r2Service, err := NewR2Service(ctx, f.config.R2)
	if err != nil {
		log.Printf("Storage: R2 unavailable, archiving tickets locally: %v", err)
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r2Service.HealthCheck(ctx); err != nil {
		log.Printf("Storage: R2 health check failed, archiving tickets locally: %v", err)
		return fallback
	}

	log.Println("Storage: archiving tickets in R2")
	return NewStorageServiceWithFallback(r2Service, fallback)
}

// SetupR2Bucket creates the archive bucket
func (f *StorageFactory) SetupR2Bucket(ctx context.Context) error {
	if err := f.ValidateR2Configuration(); err != nil {
		return err
	}

	r2Service, err := NewR2Service(ctx, f.config.R2)
	if err != nil {
		return fmt.Errorf("failed to create R2 service: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := r2Service.CreateBucket(ctx); err != nil {
		return fmt.Errorf("failed to create R2 bucket: %w", err)
	}

	log.Printf("Storage: R2 bucket '%s' ready", f.config.R2.BucketName)
	return nil
}

// ValidateR2Configuration validates the R2 configuration
func (f *StorageFactory) ValidateR2Configuration() error {
	cfg := f.config.R2

	if cfg.AccountID == "" && cfg.Endpoint == "" {
		return fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required")
	}
	if cfg.AccessKeyID == "" {
		return fmt.Errorf("R2_ACCESS_KEY_ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return fmt.Errorf("R2_SECRET_ACCESS_KEY is required")
	}
	if cfg.BucketName == "" {
		return fmt.Errorf("R2_BUCKET_NAME is required")
	}
	return nil
}
