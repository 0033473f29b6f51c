package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/mwem/pkg/constants"
	"github.com/inferloop/mwem/pkg/errors"
	"github.com/inferloop/mwem/pkg/interfaces"
	"github.com/inferloop/mwem/pkg/models"
)

const objectVersion = "1.0"

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region"`
	Bucket          string        `json:"bucket"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty"`
	Endpoint        string        `json:"endpoint,omitempty"`
	ForcePathStyle  bool          `json:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl"`
	Prefix          string        `json:"prefix"`
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"`
	PartSize        int64         `json:"part_size"`
	UseCompression  bool          `json:"use_compression"`
	StorageClass    string        `json:"storage_class"`
}

// S3Storage stores each release as one JSON object, optionally gzip-compressed
type S3Storage struct {
	config     *S3Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.RWMutex
	metrics    *storageMetrics
	closed     bool
}

type storageMetrics struct {
	readOps      int64
	writeOps     int64
	deleteOps    int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64
	startTime    time.Time
	mu           sync.RWMutex
}

// S3Object is the envelope written for every release
type S3Object struct {
	Release   *models.Release   `json:"release"`
	Metadata  map[string]string `json:"metadata"`
	Version   string            `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}

	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect establishes connection to S3
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil // Already connected
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}

	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}

	// Custom endpoint for S3-compatible services
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}

	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapStorageError(err, constants.StorageTypeS3, "connect").
			WithDetails("failed to create AWS session")
	}

	client := s3.New(sess)
	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.WrapStorageError(err, constants.StorageTypeS3, "connect").
			WithDetails(fmt.Sprintf("failed to access bucket '%s'", s.config.Bucket))
	}

	s.s3Client = client
	s.uploader = s3manager.NewUploaderWithClient(client)
	s.downloader = s3manager.NewDownloaderWithClient(client)
	if s.config.PartSize > 0 {
		s.uploader.PartSize = s.config.PartSize
	}
	s.closed = false

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
	}).Info("Connected to S3")

	return nil
}

// Close closes the S3 connection
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.s3Client = nil
	s.uploader = nil
	s.downloader = nil
	s.closed = true

	s.logger.Info("S3 connection closed")
	return nil
}

// Ping tests the S3 connection
func (s *S3Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NotConnected(constants.StorageTypeS3)
	}

	if _, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		s.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypeS3, "ping")
	}

	return nil
}

// Health returns the health status of the storage
func (s *S3Storage) Health(ctx context.Context) (*interfaces.HealthStatus, error) {
	start := time.Now()
	status := &interfaces.HealthStatus{Status: "healthy"}

	if err := s.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Errors = []string{fmt.Sprintf("Connection failed: %v", err)}
	}

	status.Latency = time.Since(start)
	status.LastCheck = time.Now()

	s.metrics.mu.RLock()
	status.Metadata = map[string]interface{}{
		"bucket":        s.config.Bucket,
		"bucket_region": s.config.Region,
		"bytes_written": s.metrics.bytesWritten,
		"bytes_read":    s.metrics.bytesRead,
		"error_count":   s.metrics.errorCount,
	}
	s.metrics.mu.RUnlock()

	return status, nil
}

// Save uploads a release, replacing any existing object
func (s *S3Storage) Save(ctx context.Context, release *models.Release) error {
	if release == nil || release.ID == "" {
		return errors.NewValidationError(errors.CodeMissingField, "Release ID is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NotConnected(constants.StorageTypeS3)
	}

	start := time.Now()
	body, err := s.encodeObject(release)
	if err != nil {
		s.incrementErrorCount()
		return err
	}

	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(s.generateKey(release.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(constants.MimeTypeJSON),
		Metadata: map[string]*string{
			"release-id":  aws.String(release.ID),
			"domain-size": aws.String(fmt.Sprintf("%d", release.DomainSize)),
		},
	}
	if s.config.UseCompression {
		input.ContentEncoding = aws.String("gzip")
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		s.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypeS3, "write")
	}

	s.incrementWriteOps()
	s.incrementBytesWritten(int64(len(body)))
	s.logger.WithFields(logrus.Fields{
		"release_id": release.ID,
		"bytes":      len(body),
		"duration":   time.Since(start),
	}).Debug("Release uploaded to S3")

	return nil
}

// Load downloads a release by ID
func (s *S3Storage) Load(ctx context.Context, id string) (*models.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NotConnected(constants.StorageTypeS3)
	}

	return s.load(ctx, id)
}

func (s *S3Storage) load(ctx context.Context, id string) (*models.Release, error) {
	buf := aws.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.generateKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.ReleaseNotFound(id)
		}
		s.incrementErrorCount()
		return nil, errors.WrapStorageError(err, constants.StorageTypeS3, "read")
	}

	s.incrementReadOps()
	s.incrementBytesRead(int64(len(buf.Bytes())))

	return s.decodeObject(buf.Bytes())
}

// List returns release summaries, newest first
func (s *S3Storage) List(ctx context.Context, filter *interfaces.ReleaseFilter) ([]models.ReleaseSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return nil, errors.NotConnected(constants.StorageTypeS3)
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(s.releasesPrefix()),
	}

	var ids []string
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				if id := s.extractIDFromKey(aws.StringValue(obj.Key)); id != "" {
					ids = append(ids, id)
				}
			}
			return true
		})
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapStorageError(err, constants.StorageTypeS3, "list")
	}

	summaries := make([]models.ReleaseSummary, 0, len(ids))
	for _, id := range ids {
		release, err := s.load(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("release_id", id).Warn("Failed to read release during list")
			continue
		}
		summaries = append(summaries, release.Summary())
	}

	return filter.Apply(summaries), nil
}

// Delete removes a release by ID
func (s *S3Storage) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NotConnected(constants.StorageTypeS3)
	}

	key := aws.String(s.generateKey(id))
	if _, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    key,
	}); err != nil {
		if isNotFound(err) {
			return errors.ReleaseNotFound(id)
		}
		s.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypeS3, "delete")
	}

	if _, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    key,
	}); err != nil {
		s.incrementErrorCount()
		return errors.WrapStorageError(err, constants.StorageTypeS3, "delete")
	}

	s.incrementDeleteOps()
	s.logger.WithField("release_id", id).Info("Release deleted from S3")
	return nil
}

// Helper methods

func (s *S3Storage) encodeObject(release *models.Release) ([]byte, error) {
	data, err := json.Marshal(&S3Object{
		Release:   release,
		Version:   objectVersion,
		UpdatedAt: time.Now().UTC(),
		Metadata: map[string]string{
			"content-type": constants.MimeTypeJSON,
			"release-id":   release.ID,
		},
	})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to serialize release")
	}

	if !s.config.UseCompression {
		return data, nil
	}

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	if _, err := gzWriter.Write(data); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "COMPRESSION_FAILED", "Failed to compress data")
	}
	if err := gzWriter.Close(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "COMPRESSION_FAILED", "Failed to compress data")
	}
	return buf.Bytes(), nil
}

func (s *S3Storage) decodeObject(data []byte) (*models.Release, error) {
	if s.config.UseCompression {
		gzReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DECOMPRESSION_FAILED", "Failed to decompress data")
		}
		defer gzReader.Close()

		if data, err = io.ReadAll(gzReader); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DECOMPRESSION_FAILED", "Failed to read decompressed data")
		}
	}

	var object S3Object
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeSerialization, "Failed to deserialize release")
	}
	if object.Release == nil {
		return nil, errors.NewStorageError(errors.CodeSerialization, "Object does not contain a release")
	}
	return object.Release, nil
}

func (s *S3Storage) releasesPrefix() string {
	prefix := s.config.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "releases/"
}

func (s *S3Storage) generateKey(id string) string {
	return path.Join(s.releasesPrefix(), fmt.Sprintf("%s.json", id))
}

func (s *S3Storage) extractIDFromKey(key string) string {
	// Extract ID from key like "prefix/releases/id.json"
	if !strings.HasPrefix(key, s.releasesPrefix()) {
		return ""
	}

	filename := strings.TrimPrefix(key, s.releasesPrefix())
	if strings.Contains(filename, "/") || !strings.HasSuffix(filename, ".json") {
		return ""
	}

	return strings.TrimSuffix(filename, ".json")
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return strings.Contains(err.Error(), "NoSuchKey")
}

func (s *S3Storage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementDeleteOps() {
	s.metrics.mu.Lock()
	s.metrics.deleteOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesRead(n int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesRead += n
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesWritten(n int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesWritten += n
	s.metrics.mu.Unlock()
}
