package checkpoint

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/absmach/flcoord/pkg/fl"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	s3RoundPrefix = "rounds/"
	s3ActiveKey   = "active"
)

var errBucketRequired = errors.New("s3 bucket is required")

type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store writes each round as its own object and then overwrites a small
// active pointer object. S3 PUTs are atomic per object, so readers either see
// the previous pointer or one that names a fully written round.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	mu     sync.Mutex
}

var _ Store = (*S3Store)(nil)

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errBucketRequired
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return NewS3StoreWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

func NewS3StoreWithClient(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3Store) roundKey(round uint64) string {
	return fmt.Sprintf("%s%s%020d", s.prefix, s3RoundPrefix, round)
}

func (s *S3Store) Save(ctx context.Context, round uint64, params fl.ParameterSet) error {
	data, err := Marshal(newCheckpoint(round, params))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.put(ctx, s.roundKey(round), data); err != nil {
		return fmt.Errorf("failed to write round checkpoint: %w", err)
	}
	if err := s.put(ctx, s.prefix+s3ActiveKey, []byte(strconv.FormatUint(round, 10))); err != nil {
		return fmt.Errorf("failed to update active checkpoint: %w", err)
	}

	return nil
}

func (s *S3Store) LoadActive(ctx context.Context) (Checkpoint, error) {
	round, ok, err := s.active(ctx)
	if err != nil {
		return Checkpoint{}, err
	}
	if !ok {
		return Checkpoint{}, ErrNoActiveModel
	}

	return s.Load(ctx, round)
}

func (s *S3Store) Load(ctx context.Context, round uint64) (Checkpoint, error) {
	data, err := s.get(ctx, s.roundKey(round))
	if err != nil {
		if isNoSuchKey(err) {
			return Checkpoint{}, ErrNotFound
		}

		return Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	return Unmarshal(data)
}

func (s *S3Store) List(ctx context.Context) ([]Info, error) {
	active, hasActive, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	objects, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(objects))
	for _, obj := range objects {
		info := Info{
			Round:  obj.round,
			Size:   int(obj.size),
			Active: hasActive && obj.round == active,
		}
		if obj.modified != nil {
			info.CreatedAt = obj.modified.UTC()
		}
		infos = append(infos, info)
	}

	return infos, nil
}

func (s *S3Store) Prune(ctx context.Context, keep int) error {
	if keep < 1 {
		return ErrInvalidKeep
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, hasActive, err := s.active(ctx)
	if err != nil {
		return err
	}
	objects, err := s.list(ctx)
	if err != nil {
		return err
	}
	rounds := make([]uint64, len(objects))
	for i, obj := range objects {
		rounds[i] = obj.round
	}

	for _, r := range pruneCandidates(rounds, active, hasActive, keep) {
		if err := s.delete(ctx, s.roundKey(r)); err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
	}

	return nil
}

func (s *S3Store) Revert(ctx context.Context, round uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, err := s.list(ctx)
	if err != nil {
		return err
	}
	rounds := make([]uint64, len(objects))
	for i, obj := range objects {
		rounds[i] = obj.round
	}

	if prev, ok := previousRound(rounds, round); ok {
		if err := s.put(ctx, s.prefix+s3ActiveKey, []byte(strconv.FormatUint(prev, 10))); err != nil {
			return fmt.Errorf("failed to update active checkpoint: %w", err)
		}
	} else if err := s.delete(ctx, s.prefix+s3ActiveKey); err != nil {
		return fmt.Errorf("failed to clear active checkpoint: %w", err)
	}
	if err := s.delete(ctx, s.roundKey(round)); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	return nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})

	return err
}

func (s *S3Store) delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	return err
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (s *S3Store) active(ctx context.Context) (uint64, bool, error) {
	data, err := s.get(ctx, s.prefix+s3ActiveKey)
	if err != nil {
		if isNoSuchKey(err) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("failed to read active pointer: %w", err)
	}
	round, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: active pointer: %w", ErrCorrupt, err)
	}

	return round, true, nil
}

type s3Object struct {
	round    uint64
	size     int64
	modified *time.Time
}

func (s *S3Store) list(ctx context.Context) ([]s3Object, error) {
	prefix := s.prefix + s3RoundPrefix
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []s3Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list checkpoints: %w", err)
		}
		for _, obj := range page.Contents {
			round, err := strconv.ParseUint(strings.TrimPrefix(aws.ToString(obj.Key), prefix), 10, 64)
			if err != nil {
				continue
			}
			objects = append(objects, s3Object{
				round:    round,
				size:     aws.ToInt64(obj.Size),
				modified: obj.LastModified,
			})
		}
	}
	slices.SortFunc(objects, func(a, b s3Object) int {
		return cmp.Compare(a.round, b.round)
	})

	return objects, nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound

	return errors.As(err, &nf)
}
