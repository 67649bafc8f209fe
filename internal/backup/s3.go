// Package backup implements the optional off-box snapshot upload the
// persistence scheduler fire-and-forgets after a successful local pass.
// Disabled entirely when no bucket is configured.
package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/serengeti-db/serengeti/internal/logging"
)

// Uploader pushes a database's on-disk artifacts to S3 under a
// node-scoped, timestamped prefix.
type Uploader struct {
	client  *s3.Client
	bucket  string
	dataDir string
	nodeID  string
	log     *logging.Logger

	now func() time.Time
}

// Config configures an Uploader. Bucket empty means backup is disabled;
// callers should check Enabled() before constructing a scheduler hook.
type Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	DataDir         string
	NodeID          string
}

// New builds an Uploader from cfg. Returns (nil, nil) when cfg.Bucket
// is empty, matching the "disabled by default" Domain Stack note.
func New(ctx context.Context, cfg Config, log *logging.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	if log == nil {
		log = logging.Nop()
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}

	return &Uploader{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  cfg.Bucket,
		dataDir: cfg.DataDir,
		nodeID:  cfg.NodeID,
		log:     log.Component("backup"),
		now:     time.Now,
	}, nil
}

// Enabled reports whether u is usable (nil-safe).
func (u *Uploader) Enabled() bool { return u != nil }

// Upload pushes db's meta file and every table's storage/replica
// artifacts under node-<id>/<unixMs>/<db>/...
func (u *Uploader) Upload(db string) error {
	if u == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prefix := "node-" + u.nodeID + "/" + itoa64(u.now().UnixMilli()) + "/" + db

	root := filepath.Join(u.dataDir, db)
	metaPath := filepath.Join(u.dataDir, db+".meta")

	if err := u.uploadFile(ctx, metaPath, prefix+"/"+db+".meta"); err != nil && !os.IsNotExist(err) {
		return err
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return u.uploadFile(ctx, path, prefix+"/"+rel)
	})
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
