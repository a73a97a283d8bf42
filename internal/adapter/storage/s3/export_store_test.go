package s3

import (
	"context"
	"errors"
	"io"
	"testing"

	"token-ledger/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API
	puts    []*s3.PutObjectInput
	bodies  [][]byte
	putErr  error
	headErr error
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucketWithContext(_ aws.Context, _ *s3.HeadBucketInput, _ ...request.Option) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestExportStore_Put(t *testing.T) {
	fake := &fakeS3{}
	store := NewExportStoreWithClient(fake, "ledger-exports", "exports/")

	loc, err := store.Put(context.Background(), "ledger-entries.csv", []byte("seq,id\n1,a\n"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "s3://ledger-exports/exports/ledger-entries.csv", loc)

	require.Len(t, fake.puts, 1)
	assert.Equal(t, "ledger-exports", aws.StringValue(fake.puts[0].Bucket))
	assert.Equal(t, "exports/ledger-entries.csv", aws.StringValue(fake.puts[0].Key))
	assert.Equal(t, "text/csv", aws.StringValue(fake.puts[0].ContentType))
	assert.Equal(t, "seq,id\n1,a\n", string(fake.bodies[0]))
}

func TestExportStore_PutError(t *testing.T) {
	store := NewExportStoreWithClient(&fakeS3{putErr: errors.New("AccessDenied")}, "b", "")

	_, err := store.Put(context.Background(), "k.csv", nil, "text/csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploading k.csv")
}

func TestExportStore_Ping(t *testing.T) {
	store := NewExportStoreWithClient(&fakeS3{}, "b", "")
	assert.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, "s3", store.Name())

	down := NewExportStoreWithClient(&fakeS3{headErr: errors.New("NotFound")}, "b", "")
	assert.Error(t, down.Ping(context.Background()))
}

func TestNewExportStore_MinIOEndpoint(t *testing.T) {
	store, err := NewExportStore(config.ExportConfig{
		Bucket:    "ledger-exports",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		Prefix:    "exports/",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)

	client, ok := store.client.(*s3.S3)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9000", aws.StringValue(client.Config.Endpoint))
	assert.True(t, aws.BoolValue(client.Config.S3ForcePathStyle))
	assert.True(t, aws.BoolValue(client.Config.DisableSSL))
	assert.Equal(t, "exports/", store.prefix)
}
