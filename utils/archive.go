// crossword-game-system/utils/archive.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var archiveClient *s3.Client
var archiveBucket string

// InitArchiveStore configures the R2 client used for finished-game recaps.
// Archiving is optional: with no R2_BUCKET_NAME set the store stays disabled
// and uploads become no-ops.
func InitArchiveStore() error {
	archiveBucket = os.Getenv("R2_BUCKET_NAME")
	if archiveBucket == "" {
		return nil
	}
	accountID := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	accessKeyID := os.Getenv("R2_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("R2_ACCESS_KEY_SECRET")

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
		config.WithEndpointResolver(aws.EndpointResolverFunc(
			func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID),
				}, nil
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to load R2 config: %w", err)
	}

	archiveClient = s3.NewFromConfig(cfg)
	return nil
}

// UploadGameArchive stores the final JSON snapshot of a finished room and
// returns the object URL, or "" when archiving is disabled.
func UploadGameArchive(roomID uint, payload []byte) (string, error) {
	if archiveClient == nil {
		return "", nil
	}
	key := fmt.Sprintf("games/%d/%s.json", roomID, time.Now().UTC().Format("20060102T150405"))

	_, err := archiveClient.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(archiveBucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload game archive: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", archiveBucket, key), nil
}
