package s3store

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkup/internal/config"
	"chunkup/internal/storage"
	"chunkup/pkg/types"
)

func newTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Storage = config.StorageS3
	cfg.ChunkSize = config.MinS3PartSize
	cfg.UploadFolderPath = "/videos"
	cfg.S3 = config.S3Config{Bucket: "media", KeyPrefix: "incoming"}
	return cfg
}

func notFound() error {
	return &awstypes.NotFound{Message: aws.String("not found")}
}

func parts(numbers ...int32) []awstypes.Part {
	out := make([]awstypes.Part, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, awstypes.Part{PartNumber: aws.Int32(n), ETag: aws.String("etag-" + string(rune('0'+n)))})
	}
	return out
}

func TestStore_ObjectKey(t *testing.T) {
	cfg := newTestConfig()
	store := NewWithClient(cfg, &mockS3{}, nil)
	assert.Equal(t, "incoming/videos/trip/clip.mp4", store.objectKey("trip/clip.mp4"))

	cfg.S3.KeyPrefix = ""
	cfg.UploadFolderPath = ""
	assert.Equal(t, "clip.mp4", store.objectKey("clip.mp4"))
}

func TestStore_UploadChunk_CreatesUploadOnce(t *testing.T) {
	var created int
	var uploaded []int32
	mock := &mockS3{
		CreateMultipartUploadFunc: func(_ context.Context, in *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			created++
			assert.Equal(t, "incoming/videos/clip.mp4", aws.ToString(in.Key))
			assert.Equal(t, "id-1", in.Metadata["identifier"])
			assert.Equal(t, "video/mp4", aws.ToString(in.ContentType))
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("up-1")}, nil
		},
		UploadPartFunc: func(_ context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			assert.Equal(t, "up-1", aws.ToString(in.UploadId))
			data, err := io.ReadAll(in.Body)
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), aws.ToInt64(in.ContentLength))
			uploaded = append(uploaded, aws.ToInt32(in.PartNumber))
			return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
		},
	}
	store := NewWithClient(newTestConfig(), mock, nil)

	var sent, total int64
	for n := 1; n <= 2; n++ {
		req := storage.ChunkRequest{
			ChunkNumber:      n,
			CurrentChunkSize: 4,
			Identifier:       "id-1",
			Filename:         "clip.mp4",
			RelativePath:     "clip.mp4",
			MimeType:         "video/mp4",
		}
		err := store.UploadChunk(context.Background(), req, strings.NewReader("abcdEXTRA"), func(s, tot int64) {
			sent, total = s, tot
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, created)
	assert.Equal(t, []int32{1, 2}, uploaded)
	assert.Equal(t, int64(4), sent)
	assert.Equal(t, int64(4), total)
}

func TestStore_UploadChunk_ReusesNewestUpload(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := &mockS3{
		ListMultipartUploadsFunc: func(_ context.Context, in *s3.ListMultipartUploadsInput) (*s3.ListMultipartUploadsOutput, error) {
			return &s3.ListMultipartUploadsOutput{Uploads: []awstypes.MultipartUpload{
				{Key: aws.String("incoming/videos/clip.mp4"), UploadId: aws.String("old"), Initiated: aws.Time(older)},
				{Key: aws.String("incoming/videos/clip.mp4"), UploadId: aws.String("new"), Initiated: aws.Time(older.Add(time.Hour))},
				{Key: aws.String("incoming/videos/clip.mp4.bak"), UploadId: aws.String("other"), Initiated: aws.Time(older.Add(2 * time.Hour))},
			}}, nil
		},
		CreateMultipartUploadFunc: func(context.Context, *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			t.Fatal("unexpected CreateMultipartUpload")
			return nil, nil
		},
		UploadPartFunc: func(_ context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			assert.Equal(t, "new", aws.ToString(in.UploadId))
			return &s3.UploadPartOutput{}, nil
		},
	}
	store := NewWithClient(newTestConfig(), mock, nil)

	req := storage.ChunkRequest{ChunkNumber: 3, CurrentChunkSize: 1, Identifier: "id-1", RelativePath: "clip.mp4"}
	require.NoError(t, store.UploadChunk(context.Background(), req, strings.NewReader("x"), nil))
}

func TestStore_UploadChunk_PartError(t *testing.T) {
	boom := errors.New("slow down")
	mock := &mockS3{
		CreateMultipartUploadFunc: func(context.Context, *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("up-1")}, nil
		},
		UploadPartFunc: func(context.Context, *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			return nil, boom
		},
	}
	store := NewWithClient(newTestConfig(), mock, nil)

	req := storage.ChunkRequest{ChunkNumber: 1, CurrentChunkSize: 1, Identifier: "id-1", RelativePath: "clip.mp4"}
	err := store.UploadChunk(context.Background(), req, strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "failed to upload part 1")
}

func TestStore_CheckResumable(t *testing.T) {
	query := storage.FileQuery{
		FileMetadata: types.FileMetadata{Identifier: "id-1", RelativePath: "clip.mp4"},
		TotalChunks:  4,
	}
	uploads := func(context.Context, *s3.ListMultipartUploadsInput) (*s3.ListMultipartUploadsOutput, error) {
		return &s3.ListMultipartUploadsOutput{Uploads: []awstypes.MultipartUpload{
			{Key: aws.String("incoming/videos/clip.mp4"), UploadId: aws.String("up-1")},
		}}, nil
	}

	tests := []struct {
		name string
		mock *mockS3
		want storage.ResumeState
	}{
		{
			name: "completed object with same identifier",
			mock: &mockS3{
				HeadObjectFunc: func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
					return &s3.HeadObjectOutput{Metadata: map[string]string{"identifier": "id-1"}}, nil
				},
			},
			want: storage.ResumeState{SkipUpload: true},
		},
		{
			name: "nothing uploaded yet",
			mock: &mockS3{
				HeadObjectFunc: func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
					return nil, notFound()
				},
			},
			want: storage.ResumeState{},
		},
		{
			name: "contiguous prefix only",
			mock: &mockS3{
				HeadObjectFunc: func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
					return nil, notFound()
				},
				ListMultipartUploadsFunc: uploads,
				ListPartsFunc: func(context.Context, *s3.ListPartsInput) (*s3.ListPartsOutput, error) {
					return &s3.ListPartsOutput{Parts: parts(2, 1, 4)}, nil
				},
			},
			want: storage.ResumeState{UploadedChunks: []int{1, 2}},
		},
		{
			name: "object from another file is overwritten",
			mock: &mockS3{
				HeadObjectFunc: func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
					return &s3.HeadObjectOutput{Metadata: map[string]string{"identifier": "other"}}, nil
				},
				ListMultipartUploadsFunc: uploads,
				ListPartsFunc: func(context.Context, *s3.ListPartsInput) (*s3.ListPartsOutput, error) {
					return &s3.ListPartsOutput{Parts: parts(1)}, nil
				},
			},
			want: storage.ResumeState{UploadedChunks: []int{1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewWithClient(newTestConfig(), tt.mock, nil)
			state, err := store.CheckResumable(context.Background(), query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestStore_CheckResumable_HeadError(t *testing.T) {
	mock := &mockS3{
		HeadObjectFunc: func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return nil, errors.New("access denied")
		},
	}
	_, err := NewWithClient(newTestConfig(), mock, nil).CheckResumable(context.Background(), storage.FileQuery{})
	assert.ErrorContains(t, err, "access denied")
}

func TestStore_Merge(t *testing.T) {
	var completed *s3.CompleteMultipartUploadInput
	pages := [][]awstypes.Part{parts(3), parts(1, 2)}
	mock := &mockS3{
		ListMultipartUploadsFunc: func(context.Context, *s3.ListMultipartUploadsInput) (*s3.ListMultipartUploadsOutput, error) {
			return &s3.ListMultipartUploadsOutput{Uploads: []awstypes.MultipartUpload{
				{Key: aws.String("incoming/videos/clip.mp4"), UploadId: aws.String("up-1")},
			}}, nil
		},
		ListPartsFunc: func(_ context.Context, in *s3.ListPartsInput) (*s3.ListPartsOutput, error) {
			if in.PartNumberMarker == nil {
				return &s3.ListPartsOutput{Parts: pages[0], IsTruncated: aws.Bool(true), NextPartNumberMarker: aws.String("3")}, nil
			}
			return &s3.ListPartsOutput{Parts: pages[1], IsTruncated: aws.Bool(false)}, nil
		},
		CompleteMultipartUploadFunc: func(_ context.Context, in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			completed = in
			return &s3.CompleteMultipartUploadOutput{}, nil
		},
	}
	store := NewWithClient(newTestConfig(), mock, nil)

	err := store.Merge(context.Background(), storage.MergeRequest{Identifier: "id-1", RelativePath: "clip.mp4", TotalChunks: 3})
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, "up-1", aws.ToString(completed.UploadId))

	var numbers []int32
	for _, p := range completed.MultipartUpload.Parts {
		numbers = append(numbers, aws.ToInt32(p.PartNumber))
	}
	assert.Equal(t, []int32{1, 2, 3}, numbers)
	assert.Empty(t, store.uploads)
}

func TestStore_Merge_Errors(t *testing.T) {
	t.Run("no upload", func(t *testing.T) {
		store := NewWithClient(newTestConfig(), &mockS3{}, nil)
		err := store.Merge(context.Background(), storage.MergeRequest{Identifier: "id-1", RelativePath: "clip.mp4", TotalChunks: 1})
		assert.ErrorContains(t, err, "no multipart upload in progress")
	})

	t.Run("missing parts", func(t *testing.T) {
		mock := &mockS3{
			ListPartsFunc: func(context.Context, *s3.ListPartsInput) (*s3.ListPartsOutput, error) {
				return &s3.ListPartsOutput{Parts: parts(1)}, nil
			},
			CompleteMultipartUploadFunc: func(context.Context, *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
				t.Fatal("unexpected CompleteMultipartUpload")
				return nil, nil
			},
		}
		store := NewWithClient(newTestConfig(), mock, nil)
		store.uploads["id-1"] = "up-1"

		err := store.Merge(context.Background(), storage.MergeRequest{Identifier: "id-1", RelativePath: "clip.mp4", TotalChunks: 2})
		assert.ErrorContains(t, err, "expected 2 parts")
	})
}

func TestCountingReader_Rewind(t *testing.T) {
	var reports []int64
	r := newCountingReader([]byte("abcdef"), func(sent, _ int64) { reports = append(reports, sent) })

	buf := make([]byte, 4)
	_, _ = r.Read(buf)
	_, err := r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Equal(t, "abcdef", string(data))
	assert.Equal(t, []int64{4, 6}, reports)
}
