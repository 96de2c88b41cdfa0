package report

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3UploaderInput struct {
	AwsConfig aws.Config
	Bucket    string
	Prefix    string
}

// Uploads sweep reports to S3 under <prefix>/<run id>/report.json.
type S3Uploader struct {
	input    *S3UploaderInput
	uploader *manager.Uploader
}

func NewS3Uploader(input *S3UploaderInput) *S3Uploader {
	return &S3Uploader{
		input:    input,
		uploader: manager.NewUploader(s3.NewFromConfig(input.AwsConfig)),
	}
}

func (u *S3Uploader) Key(r *SweepReport) string {
	return path.Join(u.input.Prefix, r.RunID, "report.json")
}

func (u *S3Uploader) Upload(ctx context.Context, r *SweepReport) (string, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	key := u.Key(r)
	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.input.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", err
	}
	slog.Info("uploaded sweep report", slog.String("bucket", u.input.Bucket), slog.String("key", key))
	return key, nil
}
