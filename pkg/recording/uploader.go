// Package recording implements the optional S3 pass-through upload of
// carrier call recordings (§1 non-goal: "optional pass-through only,
// not a recording pipeline" — this never transcodes, inspects, or
// retains recordings beyond copying the carrier's own file to the
// configured bucket).
package recording

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
)

// Uploader copies a carrier-hosted recording to S3 unmodified. Grounded
// on the teacher pack's S3Store.NewS3Store: awsconfig.LoadDefaultConfig
// with an optional static credentials override and an optional custom
// endpoint for S3-compatible services.
type Uploader struct {
	client *s3.Client
	bucket string
	http   *http.Client
}

// NewUploader constructs an Uploader from cfg. Returns (nil, nil) when
// cfg.RecordingBucket is empty, since the feature is opt-in.
func NewUploader(ctx context.Context, cfg *config.DeliveryConfig) (*Uploader, error) {
	if cfg.RecordingBucket == "" {
		return nil, nil
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.RecordingRegion),
	}
	if cfg.RecordingAccessKey != "" && cfg.RecordingSecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.RecordingAccessKey, cfg.RecordingSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("recording: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.RecordingEndpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.RecordingEndpoint)
			o.UsePathStyle = true
		})
	}

	return &Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.RecordingBucket,
		http:   &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Upload fetches sourceURL (the carrier's hosted recording) and copies
// it byte-for-byte to s3://bucket/recordings/{callID}.audio.
func (u *Uploader) Upload(ctx context.Context, callID, sourceURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("recording: build request: %w", err)
	}
	resp, err := u.http.Do(req)
	if err != nil {
		return fmt.Errorf("recording: fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recording: fetch %s: unexpected status %d", sourceURL, resp.StatusCode)
	}

	// S3 PutObject needs a known content length or a seekable body;
	// recordings are small enough (minutes of compressed audio) to
	// buffer whole rather than stream a multipart upload.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("recording: read %s: %w", sourceURL, err)
	}

	key := fmt.Sprintf("recordings/%s.audio", callID)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(resp.Header.Get("Content-Type")),
	})
	if err != nil {
		return fmt.Errorf("recording: put %s: %w", key, err)
	}
	return nil
}
