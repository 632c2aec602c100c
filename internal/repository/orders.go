package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"pizzeria-bot/internal/domain"
)

const (
	pkPrefixOrder = "ORDER#"
	skPrefixTS    = "TS#"

	// channelPrefix is stripped from the session key before recording, so
	// order rows carry the bare phone number.
	channelPrefix = "whatsapp:"
)

// ErrOrdersDisabled reports that no orders table is configured. Persistence
// is optional; the conversation itself never depends on it.
var ErrOrdersDisabled = errors.New("repository: orders table not configured")

// OrderClient appends confirmed orders to a dedicated table. Rows are
// append-only: nothing in this system updates or deletes them.
type OrderClient struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// NewOrderClient creates the order sink. An empty table name yields a
// disabled sink whose Save always reports ErrOrdersDisabled.
func NewOrderClient(api dynamodbAPI, tableName string) (*OrderClient, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	return &OrderClient{
		api:       api,
		tableName: strings.TrimSpace(tableName),
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Enabled reports whether a table is configured.
func (c *OrderClient) Enabled() bool {
	return c.tableName != ""
}

// NormalizeSessionKey strips the messaging-channel prefix from a session key.
func NormalizeSessionKey(key string) string {
	return strings.TrimPrefix(key, channelPrefix)
}

// Save appends one order row keyed by the normalized sender and the write
// timestamp. Callers decide what a failure means for the session; Save itself
// only reports it.
func (c *OrderClient) Save(ctx context.Context, order domain.Order, sessionKey string, ts time.Time) error {
	if !c.Enabled() {
		return ErrOrdersDisabled
	}
	if ts.IsZero() {
		ts = c.now()
	}
	ts = ts.UTC()
	phone := NormalizeSessionKey(sessionKey)

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: pkPrefixOrder + phone},
			"SK":        &types.AttributeValueMemberS{Value: skPrefixTS + ts.Format(time.RFC3339Nano)},
			"orderId":   &types.AttributeValueMemberS{Value: c.newID()},
			"createdAt": &types.AttributeValueMemberS{Value: ts.Format(time.RFC3339)},
			"phone":     &types.AttributeValueMemberS{Value: phone},
			"pedido":    &types.AttributeValueMemberS{Value: order.Items},
			"endereco":  &types.AttributeValueMemberS{Value: order.Address},
			"pagamento": &types.AttributeValueMemberS{Value: order.Payment},
			"total":     &types.AttributeValueMemberS{Value: order.Total},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: save order: %w", err)
	}
	return nil
}
