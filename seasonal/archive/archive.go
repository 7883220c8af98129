package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/eventide-games/seasonal/seasonal/database/repositories"
	"github.com/eventide-games/seasonal/seasonal/logger"
)

// Exporter writes end-of-event standings to S3-compatible object storage so
// seasons stay inspectable after their tables are reset for the next event.
type Exporter struct {
	client *s3.Client
	bucket string
	root   string
}

func NewExporter(ctx context.Context, key, secret, region, bucket, root string) (*Exporter, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
		}, nil
	})

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive storage config: %w", err)
	}

	return &Exporter{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		root:   strings.Trim(root, "/"),
	}, nil
}

type seasonDocument struct {
	Event      string                   `json:"event"`
	ExportedAt time.Time                `json:"exported_at"`
	Standings  []*repositories.Standing `json:"standings"`
}

// ExportStandings uploads the final completion standings as one JSON object
// under <root>/<event>/standings-<date>.json.
func (e *Exporter) ExportStandings(ctx context.Context, eventName string, standings []*repositories.Standing) error {
	doc := seasonDocument{
		Event:      eventName,
		ExportedAt: time.Now().UTC(),
		Standings:  standings,
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode standings: %w", err)
	}

	key := fmt.Sprintf("%s/%s/standings-%s.json",
		e.root, sanitize(eventName), doc.ExportedAt.Format("2006-01-02"))
	contentType := "application/json"

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &e.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload standings: %w", err)
	}

	logger.LogSystem("Season standings archived",
		slog.String("event", eventName),
		slog.String("key", key),
		slog.Int("players", len(standings)))

	return nil
}

func sanitize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "-")
}
