package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stackform-io/stackform/internal/ir"
)

// S3Config configures the remote state store.
type S3Config struct {
	Bucket        string
	Key           string
	Region        string
	DynamoDBTable string // enables locking when set
	Profile       string
	SSE           bool
}

// S3Store keeps state in an S3 object with optional DynamoDB advisory
// locking, mirroring the usual remote-state arrangement. Mutations write the
// whole object through so a crashed run loses nothing that completed.
type S3Store struct {
	cfg      S3Config
	s3Client *s3.Client
	dbClient *dynamodb.Client
	lockID   string

	mu      sync.RWMutex
	entries map[string]*ir.StateEntry
	serial  int
	lineage string
	loaded  bool
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 state store requires a bucket")
	}
	if cfg.Key == "" {
		cfg.Key = "stackform/state.json"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	s := &S3Store{
		cfg:      cfg,
		s3Client: s3.NewFromConfig(awsCfg),
		entries:  make(map[string]*ir.StateEntry),
	}
	if cfg.DynamoDBTable != "" {
		s.dbClient = dynamodb.NewFromConfig(awsCfg)
	}
	return s, nil
}

func (s *S3Store) Get(addr string) (*ir.StateEntry, bool) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		entry, ok := s.entries[addr]
		if !ok {
			return nil, false
		}
		return entry.Clone(), true
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(context.Background()); err != nil {
		return nil, false
	}
	entry, ok := s.entries[addr]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

func (s *S3Store) Put(entry *ir.StateEntry) error {
	if entry == nil || entry.Address == "" {
		return fmt.Errorf("state entry must carry an address")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(context.Background()); err != nil {
		return err
	}
	s.entries[entry.Address] = entry.Clone()
	return s.persist(context.Background())
}

func (s *S3Store) Remove(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(context.Background()); err != nil {
		return err
	}
	delete(s.entries, addr)
	return s.persist(context.Background())
}

func (s *S3Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(context.Background()); err != nil {
		return Snapshot{}
	}
	snap := make(Snapshot, len(s.entries))
	for addr, entry := range s.entries {
		snap[addr] = entry.Clone()
	}
	return snap
}

// Lock takes the DynamoDB advisory lock via conditional put, retrying until
// the timeout, then loads the current state object. Without a lock table the
// store still works but offers no cross-run exclusion.
func (s *S3Store) Lock(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if s.dbClient != nil {
		if err := s.acquireLock(ctx, timeout); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *S3Store) acquireLock(ctx context.Context, timeout time.Duration) error {
	s.lockID = fmt.Sprintf("stackform-%d-%d", os.Getpid(), time.Now().UnixNano())
	deadline := time.Now().Add(timeout)

	for {
		_, err := s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.cfg.DynamoDBTable),
			Item: map[string]dbtypes.AttributeValue{
				"LockID":  &dbtypes.AttributeValueMemberS{Value: s.cfg.Key},
				"Info":    &dbtypes.AttributeValueMemberS{Value: s.lockID},
				"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			},
			ConditionExpression: aws.String("attribute_not_exists(LockID)"),
		})
		if err == nil {
			return nil
		}

		var condFailed *dbtypes.ConditionalCheckFailedException
		if !errors.As(err, &condFailed) {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("state is locked by another run (DynamoDB table %q, LockID %q): %w",
				s.cfg.DynamoDBTable, s.cfg.Key, ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}

func (s *S3Store) Unlock() error {
	if s.dbClient == nil {
		return nil
	}
	_, err := s.dbClient.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.cfg.Key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// load fetches the state object once; a missing object is an empty state.
// Callers hold s.mu.
func (s *S3Store) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) || strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			s.entries = make(map[string]*ir.StateEntry)
			s.lineage = newLineage()
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read state from s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("failed to read S3 object body: %w", err)
	}
	content, err = DecryptState(content)
	if err != nil {
		return err
	}
	entries, serial, lineage, err := parseEntries(content)
	if err != nil {
		return err
	}
	s.entries = entries
	s.serial = serial
	if lineage == "" {
		lineage = newLineage()
	}
	s.lineage = lineage
	s.loaded = true
	return nil
}

// persist writes the full document back to S3. Callers hold s.mu.
func (s *S3Store) persist(ctx context.Context) error {
	s.serial++
	content, err := serializeEntries(s.entries, s.serial, s.lineage)
	if err != nil {
		return err
	}
	content, err = EncryptState(content)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
		Body:   bytes.NewReader(content),
	}
	if s.cfg.SSE {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", s.cfg.Bucket, s.cfg.Key, err)
	}
	return nil
}
