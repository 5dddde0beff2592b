package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	appConfig "github.com/CodeTease/wmcache/pkg/config"
	"github.com/CodeTease/wmcache/pkg/metrics"
)

type S3Store struct {
	client       *s3.Client
	bucket       string
	backupBucket string
	prefix       string
}

// Ensure S3Store implements BlobStore
var _ BlobStore = (*S3Store)(nil)

func NewS3Store(cfg appConfig.Config) (*S3Store, error) {
	clientLogMode := aws.LogRequest
	if !cfg.Debug {
		clientLogMode = aws.ClientLogMode(0)
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		config.WithClientLogMode(clientLogMode),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})

	return &S3Store{
		client:       client,
		bucket:       cfg.S3Bucket,
		backupBucket: cfg.S3BackupBucket,
		prefix:       strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

func (s *S3Store) key(p string) string {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if s.prefix == "" {
		return clean
	}
	return s.prefix + "/" + clean
}

func (s *S3Store) Path(p string) string {
	return "s3://" + s.bucket + "/" + s.key(p)
}

func (s *S3Store) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.Stat(ctx, p)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *S3Store) Read(ctx context.Context, p string) ([]byte, error) {
	start := time.Now()
	key := s.key(p)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// Failover Logic
		if s.backupBucket != "" && shouldFailover(err) {
			respBackup, errBackup := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.backupBucket),
				Key:    aws.String(key),
			})
			if errBackup == nil {
				resp, err = respBackup, nil
			}
		}
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
			}
			return nil, err
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.StorageOpDuration.WithLabelValues("s3", "read").Observe(time.Since(start).Seconds())
	return data, err
}

func (s *S3Store) Write(ctx context.Context, p string, data []byte) error {
	start := time.Now()
	contentType := mime.TypeByExtension(path.Ext(p))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	// A single PutObject is atomic: the object becomes visible only once fully uploaded.
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(p)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	metrics.StorageOpDuration.WithLabelValues("s3", "write").Observe(time.Since(start).Seconds())
	return err
}

func (s *S3Store) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (s *S3Store) ListFiles(ctx context.Context, dir string) ([]string, error) {
	prefix := s.key(dir)
	if d := strings.Trim(dir, "/"); d == "" || d == "." {
		prefix = s.prefix
	}
	if prefix != "" {
		prefix += "/"
	}

	var files []string
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			files = append(files, key)
		}
	}
	return files, nil
}

func (s *S3Store) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return ObjectInfo{}, err
	}
	info := ObjectInfo{Path: p}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		info.ModTime = *resp.LastModified
	}
	return info, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" {
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

func shouldFailover(err error) bool {
	// 1. Check specific API error codes (e.g. "NoSuchKey")
	if isNotFound(err) {
		return true
	}

	// 2. Check HTTP Status Codes via ResponseError
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.Response.StatusCode
		if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
			return true
		}
		if status >= 500 {
			return true
		}
		// Client error (4xx) that isn't 404/408/429 -> Do NOT failover
		if status >= 400 && status < 500 {
			return false
		}
	}

	// 3. Generic/Network errors -> Failover as safety net
	return true
}
