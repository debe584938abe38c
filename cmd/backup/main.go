package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// dumpPrefix trennt die Dumps dieser Datenbank von anderen Objekten im
// Bucket; die Rotation fasst nur Objekte mit diesem Prefix an.
const dumpPrefix = "verifai-backup-"

// BackupConfig ist die Konfiguration des One-Shot-Backup-Jobs. Die
// DB_*-Variablen sind dieselben wie beim Server, der Backup-Bucket ist
// bewusst von der Dokumenten-Ablage getrennt.
type BackupConfig struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	BackupBucket    string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint  string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion    string `envconfig:"BACKUP_S3_REGION" required:"true"`

	// Anzahl der Dumps, die die Rotation im Bucket behält.
	BackupKeep int `envconfig:"BACKUP_KEEP" default:"4"`
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	_ = godotenv.Load()
	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("Config load error", zap.Error(err))
	}

	ctx := context.Background()
	log.Info("Starting database backup", zap.String("database", cfg.DBName))

	dump, err := dumpDatabase(cfg)
	if err != nil {
		log.Fatal("pg_dump failed", zap.Error(err))
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		log.Fatal("S3 client creation failed", zap.Error(err))
	}

	key := dumpPrefix + time.Now().UTC().Format("2006-01-02T15-04-05Z") + ".sql.gz"
	if err := upload(ctx, client, cfg.BackupBucket, key, dump); err != nil {
		log.Fatal("Backup upload failed", zap.Error(err))
	}
	log.Info("Backup uploaded",
		zap.String("bucket", cfg.BackupBucket),
		zap.String("key", key),
		zap.Int("bytes", len(dump)))

	if err := rotate(ctx, client, cfg, log); err != nil {
		log.Fatal("Backup rotation failed", zap.Error(err))
	}
	log.Info("Backup completed")
}

// dumpDatabase führt pg_dump aus und komprimiert den Dump im Stream.
func dumpDatabase(cfg BackupConfig) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.DBHost,
		"-p", fmt.Sprint(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort kommt über PGPASSWORD
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+cfg.DBPassword)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, stdout); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newS3Client(ctx context.Context, cfg BackupConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: cfg.BackupEndpoint}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.BackupAccessKey, cfg.BackupSecretKey, "")),
		awsconfig.WithRegion(cfg.BackupRegion),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}

func upload(ctx context.Context, client *s3.Client, bucket, key string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// rotate löscht die ältesten Dumps, sodass höchstens BackupKeep übrig bleiben.
func rotate(ctx context.Context, client *s3.Client, cfg BackupConfig, log *zap.Logger) error {
	output, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.BackupBucket),
		Prefix: aws.String(dumpPrefix),
	})
	if err != nil {
		return err
	}

	if len(output.Contents) <= cfg.BackupKeep {
		log.Info("No rotation needed", zap.Int("backups", len(output.Contents)))
		return nil
	}

	sort.Slice(output.Contents, func(i, j int) bool {
		return output.Contents[i].LastModified.After(*output.Contents[j].LastModified)
	})

	for _, obj := range output.Contents[cfg.BackupKeep:] {
		log.Info("Deleting old backup", zap.String("key", *obj.Key))
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.BackupBucket),
			Key:    obj.Key,
		})
		if err != nil {
			log.Warn("Delete failed", zap.String("key", *obj.Key), zap.Error(err))
		}
	}
	return nil
}
