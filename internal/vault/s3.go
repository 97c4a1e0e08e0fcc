package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"tasksnap/internal/config"
	"tasksnap/internal/tasksnap"
)

// s3Client is the subset of the S3 API the vault uses.
type s3Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// versionMetaKey is the user metadata entry holding a metadata item's version.
const versionMetaKey = "tasksnap-version"

// S3Vault stores objects and metadata in an S3 bucket:
//
//	<prefix>/objects/<key>
//	<prefix>/metadata/<hostID>.<name>   (version kept in object metadata)
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   s3Client
	uploader *manager.Uploader
	timeout  time.Duration
}

// NewS3VaultFromConfig builds an S3 vault using the default AWS credential
// chain, or static credentials when the config carries them.
func NewS3VaultFromConfig(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
}

// NewS3Vault wraps an existing client.
func NewS3Vault(name, bucket, prefix string, client s3Client) *S3Vault {
	return &S3Vault{
		name:     name,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
		timeout:  2 * time.Minute,
	}
}

// Name returns the vault name.
func (v *S3Vault) Name() string {
	return v.name
}

func (v *S3Vault) objectKey(key string) string {
	return path.Join(v.prefix, "objects", key)
}

func (v *S3Vault) metadataKey(hostID, name string) string {
	return path.Join(v.prefix, "metadata", hostID+"."+name)
}

func (v *S3Vault) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), v.timeout)
}

// Put uploads the object at key.
func (v *S3Vault) Put(key string, r io.Reader, size int64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return v.upload(v.objectKey(key), r, size, nil)
}

func (v *S3Vault) upload(objectKey string, r io.Reader, size int64, meta map[string]string) error {
	ctx, cancel := v.opContext()
	defer cancel()

	cr := &countingReader{r: r}
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(v.bucket),
		Key:      aws.String(objectKey),
		Body:     cr,
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", objectKey, err)
	}
	if cr.n != size {
		v.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(objectKey)})
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, cr.n)
	}
	return nil
}

// Get downloads the object at key into w.
func (v *S3Vault) Get(key string, w io.Writer) error {
	return v.download(v.objectKey(key), w, key)
}

func (v *S3Vault) download(objectKey string, w io.Writer, what string) error {
	ctx, cancel := v.opContext()
	defer cancel()

	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", tasksnap.ErrObjectNotFound, what)
		}
		return fmt.Errorf("downloading %s: %w", objectKey, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading %s: %w", objectKey, err)
	}
	return nil
}

// Delete removes the object at key. S3 deletes are silent for missing keys,
// so existence is checked first.
func (v *S3Vault) Delete(key string) error {
	ctx, cancel := v.opContext()
	defer cancel()

	objectKey := v.objectKey(key)
	if _, err := v.head(ctx, objectKey); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", tasksnap.ErrObjectNotFound, key)
		}
		return fmt.Errorf("checking %s: %w", objectKey, err)
	}

	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", objectKey, err)
	}
	return nil
}

// List returns the keys starting with prefix in lexical order.
func (v *S3Vault) List(prefix string) ([]string, error) {
	ctx, cancel := v.opContext()
	defer cancel()

	root := v.objectKey("") + "/"
	p := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(root + prefix),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), root))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// PutMetadata uploads a metadata item with its version in object metadata,
// so data and version change together.
func (v *S3Vault) PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error {
	meta := map[string]string{versionMetaKey: strconv.FormatInt(version, 10)}
	return v.upload(v.metadataKey(hostID, name), r, size, meta)
}

// GetMetadata downloads a metadata item into w.
func (v *S3Vault) GetMetadata(hostID string, name string, w io.Writer) error {
	return v.download(v.metadataKey(hostID, name), w, fmt.Sprintf("metadata %q for host %s", name, hostID))
}

// GetMetadataVersion returns the stored version, or 0 if the item does not exist.
func (v *S3Vault) GetMetadataVersion(hostID string, name string) (int64, error) {
	ctx, cancel := v.opContext()
	defer cancel()

	out, err := v.head(ctx, v.metadataKey(hostID, name))
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading metadata version: %w", err)
	}
	raw, ok := out.Metadata[versionMetaKey]
	if !ok {
		return 0, nil
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup checks that the bucket can be listed and written.
func (v *S3Vault) ValidateSetup() error {
	ctx, cancel := v.opContext()
	defer cancel()

	_, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(v.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}

	probe := path.Join(v.prefix, ".tasksnap-probe")
	_, err = v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(probe),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("s3 bucket %s not writable: %w", v.bucket, err)
	}
	v.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(probe)})
	return nil
}

func (v *S3Vault) head(ctx context.Context, objectKey string) (*s3.HeadObjectOutput, error) {
	return v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(objectKey),
	})
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ tasksnap.Vault = (*S3Vault)(nil)
