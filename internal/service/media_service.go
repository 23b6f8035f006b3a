package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/h2non/filetype"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/apperror"
	"github.com/maheshrc27/crosspost/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const maxUploadSize = 512 << 20

// Presigner is the part of s3.PresignClient the media service needs.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// MediaService hands out presigned R2 upload URLs. Clients PUT the file
// directly and reference the public URL in a post.
type MediaService interface {
	UploadURL(ctx context.Context, userID int64, req *transfer.UploadURLRequest) (*transfer.UploadURLResponse, error)
}

type mediaService struct {
	presigner     Presigner
	bucket        string
	publicBaseURL string
	expiry        time.Duration
}

func NewMediaService(presigner Presigner, cfg config.R2) MediaService {
	return &mediaService{
		presigner:     presigner,
		bucket:        cfg.BucketName,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		expiry:        cfg.PresignExpiry.Duration,
	}
}

// NewR2Presigner builds a presign client for the account's R2 endpoint.
func NewR2Presigner(ctx context.Context, cfg config.R2) (*s3.PresignClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading r2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})
	return s3.NewPresignClient(client), nil
}

func (s *mediaService) UploadURL(ctx context.Context, userID int64, req *transfer.UploadURLRequest) (*transfer.UploadURLResponse, error) {
	if req.FileSize > maxUploadSize {
		return nil, apperror.New(apperror.KindInvalid, "file exceeds the %d MB upload limit", maxUploadSize>>20)
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(req.FileName), "."))
	if ext == "jpeg" {
		ext = "jpg"
	}
	kind := filetype.GetType(ext)
	if kind == filetype.Unknown || (kind.MIME.Type != "image" && kind.MIME.Type != "video") {
		return nil, apperror.New(apperror.KindInvalid, "unsupported file type %q", ext)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("error generating object key: %w", err)
	}
	key := fmt.Sprintf("%d/%s.%s", userID, id, kind.Extension)

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(kind.MIME.Value),
	}
	if req.FileSize > 0 {
		input.ContentLength = aws.Int64(req.FileSize)
	}

	presigned, err := s.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(s.expiry))
	if err != nil {
		zap.L().Error("failed to presign upload", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("error presigning upload: %w", err)
	}

	return &transfer.UploadURLResponse{
		UploadURL: presigned.URL,
		PublicURL: s.publicBaseURL + "/" + key,
		Key:       key,
	}, nil
}
