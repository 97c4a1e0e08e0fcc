package vault

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"tasksnap/internal/tasksnap"
)

// fakeS3 is an in-memory bucket. Multipart calls are inherited from the nil
// embedded interface; uploads in these tests stay below the part size.
type fakeS3 struct {
	manager.UploadAPIClient

	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	failList error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.metadata[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), Metadata: f.metadata[key]}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Vault_Contract(t *testing.T) {
	runVaultContract(t, func(t *testing.T) tasksnap.Vault {
		return NewS3Vault("cloud", "bucket", "tasksnap/", newFakeS3())
	})
}

func TestS3Vault_KeyLayout(t *testing.T) {
	client := newFakeS3()
	v := NewS3Vault("cloud", "bucket", "/team/", client)

	mustPut(t, v, "snapshots/a.json", "a")
	if err := v.PutMetadata("host-1", "db", strings.NewReader("db"), 2, 9); err != nil {
		t.Fatalf("PutMetadata() error = %v", err)
	}

	if _, ok := client.objects["team/objects/snapshots/a.json"]; !ok {
		t.Errorf("object keys = %v, want team/objects/snapshots/a.json", keysOf(client.objects))
	}
	meta, ok := client.metadata["team/metadata/host-1.db"]
	if !ok {
		t.Fatalf("object keys = %v, want team/metadata/host-1.db", keysOf(client.objects))
	}
	if meta[versionMetaKey] != "9" {
		t.Errorf("version metadata = %q, want %q", meta[versionMetaKey], "9")
	}
}

func TestS3Vault_ValidateSetup_ListFails(t *testing.T) {
	client := newFakeS3()
	client.failList = errors.New("access denied")
	v := NewS3Vault("cloud", "bucket", "", client)

	if err := v.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() expected error when listing fails")
	}
}

func TestS3Vault_ValidateSetup_LeavesNoProbe(t *testing.T) {
	client := newFakeS3()
	v := NewS3Vault("cloud", "bucket", "p", client)

	if err := v.ValidateSetup(); err != nil {
		t.Fatalf("ValidateSetup() error = %v", err)
	}
	if len(client.objects) != 0 {
		t.Errorf("objects after ValidateSetup = %v, want none", keysOf(client.objects))
	}
}

func keysOf(m map[string][]byte) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
