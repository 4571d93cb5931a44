package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	"github.com/google/uuid"
)

const (
	ArchiveDocumentType = "archive_snapshot"
	ArchiveURLExpiry    = 15 * time.Minute
)

// ArchiveStorage is the object store archived snapshots are written to.
type ArchiveStorage interface {
	UploadBytes(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error
	GetPresignedURL(ctx context.Context, bucketName, objectName string, expiry time.Duration) (string, error)
}

func WithArchiveStorage(storage ArchiveStorage, bucket string) EngineOption {
	return func(e *PolicyEngine) {
		e.archive = storage
		e.archiveBucket = bucket
	}
}

func isArchivable(status models.PolicyStatus) bool {
	return status.IsTerminal() || status == models.PolicyLapsed
}

func archiveObjectName(p *models.Policy) string {
	return fmt.Sprintf("policies/%s/%s/v%d.json", p.ClientID, p.ID, p.Version)
}

// Archive writes a JSON snapshot of a closed or lapsed policy to object
// storage and stamps archivedAt. The record itself is never deleted.
// The upload happens outside the policy lock; the stamp is only committed
// if the policy is still at the version that was uploaded.
func (e *PolicyEngine) Archive(ctx context.Context, id, actor string) (*models.Policy, error) {
	if e.archive == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "archive storage is not configured")
	}

	snapshot, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isArchivable(snapshot.Status) {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			fmt.Sprintf("policy %s is %s; only closed or lapsed policies can be archived", id, snapshot.Status),
			map[string]string{"from_status": string(snapshot.Status), "operation": "archive"})
	}
	if snapshot.ArchivedAt != nil {
		snapshot.RefreshDaysToExpiry(e.clock())
		return snapshot, nil
	}

	data, err := utils.SerializeModel(snapshot)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to serialize policy snapshot", err)
	}
	object := archiveObjectName(snapshot)

	start := time.Now()
	if err := e.archive.UploadBytes(ctx, e.archiveBucket, object, data, "application/json"); err != nil {
		slog.Error("failed to upload policy archive", "policy_id", id, "object", object, "error", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to upload policy archive", err)
	}
	slog.Info("policy snapshot uploaded", "policy_id", id, "object", object,
		"bytes", len(data), "duration", time.Since(start))

	return e.mutate(ctx, id, "archive", func(p *models.Policy, now time.Time) (bool, error) {
		if p.ArchivedAt != nil {
			return false, nil
		}
		if p.Version != snapshot.Version {
			return false, apperrors.WithMetadata(apperrors.CodeVersionConflict,
				fmt.Sprintf("policy %s changed while its archive was uploaded", id),
				map[string]string{
					"expected_version": fmt.Sprint(snapshot.Version),
					"current_version":  fmt.Sprint(p.Version),
				})
		}

		archivedAt := now
		p.ArchivedAt = &archivedAt
		doc := models.Document{
			ID:         uuid.NewString(),
			PolicyID:   p.ID,
			Type:       ArchiveDocumentType,
			Name:       object,
			URL:        fmt.Sprintf("s3://%s/%s", e.archiveBucket, object),
			UploadedAt: now,
		}
		p.Documents = append(p.Documents, doc)
		appendTimelineEvent(p, now, models.EventPolicyArchived,
			"Snapshot archived to "+doc.URL, actor, &doc.ID, utils.JSONMap{"bucket": e.archiveBucket, "object": object})
		return true, nil
	})
}

// ArchiveDownloadURL returns a short-lived download link for the most recent
// archived snapshot of a policy.
func (e *PolicyEngine) ArchiveDownloadURL(ctx context.Context, id string) (string, error) {
	if e.archive == nil {
		return "", apperrors.New(apperrors.CodeInternal, "archive storage is not configured")
	}

	p, err := e.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	var object string
	for _, doc := range p.Documents {
		if doc.Type == ArchiveDocumentType {
			object = doc.Name
		}
	}
	if p.ArchivedAt == nil || object == "" {
		return "", apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("policy %s has no archived snapshot", id),
			map[string]string{"policy_id": id})
	}

	url, err := e.archive.GetPresignedURL(ctx, e.archiveBucket, object, ArchiveURLExpiry)
	if err != nil {
		slog.Error("failed to presign policy archive", "policy_id", id, "object", object, "error", err)
		return "", apperrors.Wrap(apperrors.CodeInternal, "failed to create archive download url", err)
	}
	return url, nil
}
