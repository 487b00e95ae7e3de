package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dkovalev/vaultcore/internal/common"
	"github.com/dkovalev/vaultcore/internal/dbx"
	"github.com/dkovalev/vaultcore/internal/logging"
	sc "github.com/dkovalev/vaultcore/internal/server/config"
	"github.com/dkovalev/vaultcore/internal/server/models"
	"github.com/dkovalev/vaultcore/internal/server/repositories/repomanager"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

const presignValidity = 15 * time.Minute

// AttachmentService offloads oversized entry payloads to S3-compatible
// object storage. The database keeps only a storage key and an upload state;
// the ciphertext moves directly between the client and the bucket through
// presigned URLs. The data plane's rotation lock applies here too.
type AttachmentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	log         logging.Logger
}

// NewAttachmentService constructs an AttachmentService.
func NewAttachmentService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, log logging.Logger) *AttachmentService {
	return &AttachmentService{
		db:          db,
		repomanager: m,
		config:      cfg,
		log:         log,
	}
}

func randomStorageKey() string {
	d := time.Now()
	return fmt.Sprintf("accounts/%d/%d/%d/%v", d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *AttachmentService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

// PresignUpload allocates a storage key for the entry's payload and returns
// a presigned PUT URL the client uploads the ciphertext to. The attachment
// record stays pending until MarkUploaded.
func (s *AttachmentService) PresignUpload(ctx context.Context, accountID, entryPublicID string) (string, error) {
	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", mapError(ctx, s.log, "attachment.presign_upload", err)
	}

	var url string
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolveEntry(ctx, tx, accountID, entryPublicID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}

		att := &models.Attachment{
			EntryID:      e.ID,
			AccountID:    accountID,
			StorageKey:   randomStorageKey(),
			UploadStatus: models.UploadPending,
		}
		if err := s.repomanager.Attachments(tx).Create(ctx, att); err != nil {
			return err
		}

		bucket := s.config.S3Bucket
		req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &att.StorageKey,
		}, s3.WithPresignExpires(presignValidity))
		if err != nil {
			return err
		}
		url = req.URL
		return nil
	})
	if err != nil {
		return "", mapError(ctx, s.log, "attachment.presign_upload", err)
	}
	return url, nil
}

// MarkUploaded records that the client finished its PUT for the entry's
// attachment.
func (s *AttachmentService) MarkUploaded(ctx context.Context, accountID, entryPublicID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolveEntry(ctx, tx, accountID, entryPublicID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}
		return s.repomanager.Attachments(tx).MarkUploaded(ctx, e.ID)
	})
	return mapError(ctx, s.log, "attachment.mark_uploaded", err)
}

// PresignDownload returns a presigned GET URL for a completed attachment.
func (s *AttachmentService) PresignDownload(ctx context.Context, accountID, entryPublicID string) (string, error) {
	presignClient, err := s.getPresignClient(ctx)
	if err != nil {
		return "", mapError(ctx, s.log, "attachment.presign_download", err)
	}

	var url string
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolveEntry(ctx, tx, accountID, entryPublicID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}

		att, err := s.repomanager.Attachments(tx).GetByEntryID(ctx, e.ID)
		if err != nil {
			return err
		}
		if att.UploadStatus != models.UploadCompleted {
			return common.ErrorNotFound
		}

		bucket := s.config.S3Bucket
		req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
			Bucket: &bucket,
			Key:    &att.StorageKey,
		}, s3.WithPresignExpires(presignValidity))
		if err != nil {
			return err
		}
		url = req.URL
		return nil
	})
	if err != nil {
		return "", mapError(ctx, s.log, "attachment.presign_download", err)
	}
	return url, nil
}

// Delete removes the attachment metadata for an entry. The object itself is
// left for bucket lifecycle rules.
func (s *AttachmentService) Delete(ctx context.Context, accountID, entryPublicID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		e, account, err := s.resolveEntry(ctx, tx, accountID, entryPublicID)
		if err != nil {
			return err
		}
		if err := requireNormal(account); err != nil {
			return err
		}
		return s.repomanager.Attachments(tx).Delete(ctx, e.ID)
	})
	return mapError(ctx, s.log, "attachment.delete", err)
}

func (s *AttachmentService) resolveEntry(ctx context.Context, tx dbx.DBTX, accountID, entryPublicID string) (*models.DataEntry, *models.Account, error) {
	e, err := s.repomanager.Entries(tx).GetByPublicID(ctx, entryPublicID)
	if err != nil {
		return nil, nil, err
	}
	if e.AccountID != accountID {
		return nil, nil, common.ErrorNotFound
	}
	account, err := s.repomanager.Accounts(tx).GetByID(ctx, e.AccountID)
	if err != nil {
		return nil, nil, err
	}
	return e, account, nil
}
