package s3store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockS3 is a func-field S3API; unset fields return empty outputs
type mockS3 struct {
	CreateMultipartUploadFunc   func(context.Context, *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error)
	UploadPartFunc              func(context.Context, *s3.UploadPartInput) (*s3.UploadPartOutput, error)
	ListPartsFunc               func(context.Context, *s3.ListPartsInput) (*s3.ListPartsOutput, error)
	ListMultipartUploadsFunc    func(context.Context, *s3.ListMultipartUploadsInput) (*s3.ListMultipartUploadsOutput, error)
	CompleteMultipartUploadFunc func(context.Context, *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
	HeadObjectFunc              func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
}

func (m *mockS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if m.CreateMultipartUploadFunc != nil {
		return m.CreateMultipartUploadFunc(ctx, params)
	}
	return &s3.CreateMultipartUploadOutput{}, nil
}

func (m *mockS3) UploadPart(ctx context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if m.UploadPartFunc != nil {
		return m.UploadPartFunc(ctx, params)
	}
	return &s3.UploadPartOutput{}, nil
}

func (m *mockS3) ListParts(ctx context.Context, params *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	if m.ListPartsFunc != nil {
		return m.ListPartsFunc(ctx, params)
	}
	return &s3.ListPartsOutput{}, nil
}

func (m *mockS3) ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	if m.ListMultipartUploadsFunc != nil {
		return m.ListMultipartUploadsFunc(ctx, params)
	}
	return &s3.ListMultipartUploadsOutput{}, nil
}

func (m *mockS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if m.CompleteMultipartUploadFunc != nil {
		return m.CompleteMultipartUploadFunc(ctx, params)
	}
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (m *mockS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.HeadObjectFunc != nil {
		return m.HeadObjectFunc(ctx, params)
	}
	return &s3.HeadObjectOutput{}, nil
}
