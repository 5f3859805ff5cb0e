package fileio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/icetable/utils"
	"github.com/rs/zerolog"
)

type (
	// S3FileIO stores the table under a bucket. Rename is a copy followed by a
	// delete: it refuses to clobber but is not atomic.
	S3FileIO struct {
		client   s3iface.S3API
		uploader *s3manager.Uploader
		bucket   string
	}

	// s3OutputStream buffers the object and uploads it on Close.
	s3OutputStream struct {
		ctx  context.Context
		fio  *S3FileIO
		key  string
		buf  bytes.Buffer
		done bool
		countingWriter
	}
)

func NewS3FileIO(bucket string) (*S3FileIO, error) {
	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}

	client := s3.New(s3Session)
	logger.Debug().Str("bucket", bucket).Str("endpoint", utils.S3_ENDPOINT).Msg("created s3 file io")
	return NewS3FileIOWithClient(client, bucket), nil
}

func NewS3FileIOWithClient(client s3iface.S3API, bucket string) *S3FileIO {
	return &S3FileIO{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   bucket,
	}
}

func (sf *S3FileIO) key(path string) string {
	return strings.TrimPrefix(path, "/")
}

func (sf *S3FileIO) NewInputStream(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := sf.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sf.bucket),
		Key:    aws.String(sf.key(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("error in GetObject for %s: %w", path, wrapS3NotFound(err))
	}
	return out.Body, nil
}

func (sf *S3FileIO) NewRangeInputStream(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	out, err := sf.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sf.bucket),
		Key:    aws.String(sf.key(path)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("error in ranged GetObject for %s: %w", path, wrapS3NotFound(err))
	}
	return out.Body, nil
}

func (sf *S3FileIO) NewOutputStream(ctx context.Context, path string, overwrite bool) (PositionOutputStream, error) {
	if !overwrite {
		exists, err := sf.Exists(ctx, path)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
		}
	}
	out := &s3OutputStream{ctx: ctx, fio: sf, key: sf.key(path)}
	out.countingWriter = countingWriter{w: &out.buf}
	return out, nil
}

func (sf *S3FileIO) Delete(ctx context.Context, path string) error {
	_, err := sf.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sf.bucket),
		Key:    aws.String(sf.key(path)),
	})
	if err != nil {
		return fmt.Errorf("error in DeleteObject for %s: %w", path, err)
	}
	return nil
}

func (sf *S3FileIO) Rename(ctx context.Context, src, dst string) error {
	exists, err := sf.Exists(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrFileExists, dst)
	}

	_, err = sf.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(sf.bucket),
		Key:        aws.String(sf.key(dst)),
		CopySource: aws.String(url.PathEscape(sf.bucket + "/" + sf.key(src))),
	})
	if err != nil {
		return fmt.Errorf("error in CopyObject %s -> %s: %w", src, dst, wrapS3NotFound(err))
	}
	if err := sf.Delete(ctx, src); err != nil {
		return fmt.Errorf("error deleting rename source: %w", err)
	}
	return nil
}

func (sf *S3FileIO) Exists(ctx context.Context, path string) (bool, error) {
	_, err := sf.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sf.bucket),
		Key:    aws.String(sf.key(path)),
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(wrapS3NotFound(err), ErrFileNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("error in HeadObject for %s: %w", path, err)
}

func (s *s3OutputStream) Pos() int64 {
	return s.pos
}

// Discard drops the buffered object, nothing is uploaded.
func (s *s3OutputStream) Discard() {
	s.done = true
	s.buf.Reset()
}

func (s *s3OutputStream) Close() error {
	if s.done {
		return nil
	}
	s.done = true

	logger := zerolog.Ctx(s.ctx)
	st := time.Now()
	_, err := s.fio.uploader.UploadWithContext(s.ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.fio.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(s.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("error uploading to s3: %w", err)
	}

	d := time.Since(st)
	logger.Debug().Str("key", s.key).Int64("bytes", s.pos).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")
	return nil
}

func wrapS3NotFound(err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%w: %s", ErrFileNotFound, aerr.Error())
		}
	}
	return err
}
