// Package audit serializes terminal decisions into compact audit envelopes
// and uploads them to object storage.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vantagetrading/approvald/internal/models"
)

// Envelope is the archived audit record for one terminal decision.
type Envelope struct {
	ID          string            `json:"id"`
	ApprovalKey string            `json:"approvalKey"`
	Kind        string            `json:"kind"`
	Action      string            `json:"action,omitempty"`
	Approvers   []models.Approver `json:"approvers,omitempty"`
	Reasons     []string          `json:"reasons,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Ts          time.Time         `json:"ts"`
}

// EnvelopeFor builds the audit envelope for a decision.
func EnvelopeFor(d models.Decision) Envelope {
	return Envelope{
		ID:          d.ID,
		ApprovalKey: d.ApprovalKey,
		Kind:        string(d.Kind),
		Action:      d.Action,
		Approvers:   d.Approvers,
		Reasons:     d.Reasons,
		Reason:      d.Reason,
		Ts:          d.DecidedAt,
	}
}

// Archiver uploads decision envelopes to durable storage.
type Archiver interface {
	ArchiveDecision(ctx context.Context, d models.Decision) error
}

// S3Archiver writes envelopes to paths like:
//
//	s3://<bucket>/<prefix>/decisions/YYYY/MM/DD/<decisionID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an archiver. Region and credentials come from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET etc.).
func NewS3Archiver(ctx context.Context, bucket string, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveDecision uploads the decision's audit envelope.
func (s *S3Archiver) ArchiveDecision(ctx context.Context, d models.Decision) error {
	env := EnvelopeFor(d)
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	key := path.Join(s.prefix, "decisions", env.Ts.UTC().Format("2006/01/02"), env.ID+".json")
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// NopArchiver is used when no bucket is configured.
type NopArchiver struct{}

func (NopArchiver) ArchiveDecision(ctx context.Context, d models.Decision) error { return nil }
