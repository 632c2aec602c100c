package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"pizzeria-bot/internal/domain"
)

const (
	pkPrefixChat = "CHAT#"
	skState      = "STATE#"

	// sessionTTL is the sliding conversation window: every append pushes
	// expiry out to now+sessionTTL.
	sessionTTL = time.Hour

	// maxAppendAttempts bounds the optimistic-retry loop on the
	// version-stamped session blob.
	maxAppendAttempts = 3
)

// ErrAppendContention is returned when concurrent appends to the same key
// exhaust the retry budget.
var ErrAppendContention = errors.New("repository: session append contention")

// dynamodbAPI is the minimal DynamoDB interface required by this package.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// SessionClient stores one conversation transcript per sender as a single
// versioned DynamoDB item. The turns attribute holds the JSON-serialized
// ordered history; the version attribute makes appends linearizable per key;
// the ttl attribute drives DynamoDB native expiry.
type SessionClient struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// NewSessionClient creates a session store backed by the given table.
func NewSessionClient(api dynamodbAPI, tableName string) (*SessionClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: session table name must not be empty")
	}
	return &SessionClient{api: api, tableName: tableName, now: time.Now}, nil
}

// chatPK returns the partition key for a session key.
func chatPK(key string) string {
	return pkPrefixChat + key
}

// Append adds one turn to the session and returns the full updated history.
// The read-modify-write is guarded by the item version: a concurrent append
// fails the condition and the loop re-reads, so no turn is lost. Every
// successful write restamps the TTL, keeping the expiry window sliding.
func (c *SessionClient) Append(ctx context.Context, key string, msg domain.ChatMessage) ([]domain.ChatMessage, error) {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		turns, version, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}

		turns = append(turns, msg)
		if err := c.put(ctx, key, turns, version); err != nil {
			var conflict *types.ConditionalCheckFailedException
			if errors.As(err, &conflict) {
				continue
			}
			return nil, err
		}
		return turns, nil
	}
	return nil, fmt.Errorf("%w for key %q", ErrAppendContention, key)
}

// Read returns the session history, or an empty history when the key is
// absent or expired. A corrupt turns blob is treated as an empty history
// rather than a failure.
func (c *SessionClient) Read(ctx context.Context, key string) ([]domain.ChatMessage, error) {
	turns, _, err := c.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// Clear removes the session. Deleting an absent key is a no-op.
func (c *SessionClient) Clear(ctx context.Context, key string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: chatPK(key)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: clear session: %w", err)
	}
	return nil
}

// load fetches the session item and returns its turns and version.
// Absent item: (nil, 0). Expired or corrupt item: empty turns with the
// stored version kept so a subsequent conditional put still lines up.
func (c *SessionClient) load(ctx context.Context, key string) ([]domain.ChatMessage, int64, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: chatPK(key)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("repository: read session: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, 0, nil
	}

	version := numAttrOrZero(out.Item, "version")

	// DynamoDB expires items lazily; filter here so the sliding window is
	// observable immediately.
	if expiry := numAttrOrZero(out.Item, "ttl"); expiry != 0 && expiry <= c.now().Unix() {
		return nil, version, nil
	}

	blob, ok := out.Item["turns"]
	blobStr, isStr := blob.(*types.AttributeValueMemberS)
	if !ok || !isStr {
		return nil, version, nil
	}

	var turns []domain.ChatMessage
	if err := json.Unmarshal([]byte(blobStr.Value), &turns); err != nil {
		// Fail open: a blob this process cannot decode must not take the
		// conversation down with it.
		return nil, version, nil
	}
	return turns, version, nil
}

// put writes the session item, guarded by the version observed at load time.
func (c *SessionClient) put(ctx context.Context, key string, turns []domain.ChatMessage, observedVersion int64) error {
	blob, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("repository: encode session: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":      &types.AttributeValueMemberS{Value: chatPK(key)},
			"SK":      &types.AttributeValueMemberS{Value: skState},
			"turns":   &types.AttributeValueMemberS{Value: string(blob)},
			"version": &types.AttributeValueMemberN{Value: strconv.FormatInt(observedVersion+1, 10)},
			"ttl":     &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().Add(sessionTTL).Unix(), 10)},
		},
	}
	if observedVersion == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("version = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(observedVersion, 10)},
		}
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return err
		}
		return fmt.Errorf("repository: write session: %w", err)
	}
	return nil
}

// numAttrOrZero decodes a numeric attribute, tolerating absence and junk.
func numAttrOrZero(item map[string]types.AttributeValue, key string) int64 {
	v, ok := item[key]
	if !ok {
		return 0
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
