package media

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// parseS3Ref splits s3://bucket/key.
func parseS3Ref(ref string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(ref, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: want s3://bucket/key, got %q", ErrUnsupported, ref)
	}
	return bucket, key, nil
}

func (r *Resolver) s3Client(ctx context.Context) (*s3.Client, error) {
	r.s3Once.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{}
		if r.cfg.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(r.cfg.S3Region))
		}
		if r.cfg.S3AccessKeyID != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(r.cfg.S3AccessKeyID, r.cfg.S3SecretAccessKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			r.s3Err = fmt.Errorf("load aws config: %w", err)
			return
		}
		r.s3 = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if r.cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(r.cfg.S3Endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return r.s3, r.s3Err
}

func (r *Resolver) fetchS3(ctx context.Context, ref string) (Blob, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return Blob{}, err
	}
	client, err := r.s3Client(ctx)
	if err != nil {
		return Blob{}, err
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Blob{}, fmt.Errorf("head s3 object: %w", err)
	}
	size := aws.ToInt64(head.ContentLength)
	if size > r.cfg.MaxBytes {
		return Blob{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
	downloader := manager.NewDownloader(client)
	if _, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return Blob{}, fmt.Errorf("download s3 object: %w", err)
	}

	return Blob{
		Data:     buf.Bytes(),
		MimeType: aws.ToString(head.ContentType),
		FileName: path.Base(key),
	}, nil
}
