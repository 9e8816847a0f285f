package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"vidhost/internal/video"
)

// videoIDIndex is the global secondary index keyed on video_id alone, used
// to resolve a record when the owner is not known up front.
const videoIDIndex = "VideoIdIndex"

// DynamoDB is the managed metadata store. The table is keyed on
// (user_id, video_id) with a GSI on video_id.
type DynamoDB struct {
	client    *dynamodb.Client
	tableName string
}

// videoItem is the DynamoDB item shape for one video record.
type videoItem struct {
	UserID         string            `dynamodbav:"user_id"`
	VideoID        string            `dynamodbav:"video_id"`
	Title          string            `dynamodbav:"video_title"`
	Description    string            `dynamodbav:"description"`
	SourceKey      string            `dynamodbav:"source_key"`
	Status         string            `dynamodbav:"status"`
	ThumbnailKey   string            `dynamodbav:"thumbnail_key"`
	ResolutionKeys map[string]string `dynamodbav:"resolution_keys"`
	CreatedAt      int64             `dynamodbav:"created_at"`
}

func (it videoItem) toVideo() video.Video {
	v := video.Video{
		ID:           it.VideoID,
		OwnerID:      it.UserID,
		Title:        it.Title,
		Description:  it.Description,
		SourceKey:    it.SourceKey,
		Status:       video.Status(it.Status),
		ThumbnailKey: it.ThumbnailKey,
		CreatedAt:    time.Unix(0, it.CreatedAt).UTC(),
	}
	if len(it.ResolutionKeys) > 0 {
		v.ResolutionKeys = it.ResolutionKeys
	}
	return v
}

// NewDynamoDB creates a DynamoDB-backed store using the default AWS
// credential chain.
func NewDynamoDB(ctx context.Context, tableName string) (*DynamoDB, error) {
	if tableName == "" {
		return nil, fmt.Errorf("dynamodb table name cannot be empty")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info().Str("table", tableName).Msg("metadata store ready")
	return &DynamoDB{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}, nil
}

// Create inserts the record with a conditional write on video_id.
func (s *DynamoDB) Create(ctx context.Context, v *video.Video) error {
	item := videoItem{
		UserID:         v.OwnerID,
		VideoID:        v.ID,
		Title:          v.Title,
		Description:    v.Description,
		SourceKey:      v.SourceKey,
		Status:         string(v.Status),
		ThumbnailKey:   v.ThumbnailKey,
		ResolutionKeys: map[string]string{},
		CreatedAt:      v.CreatedAt.UnixNano(),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(video_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrExists
		}
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// Get resolves the record through the video_id index.
func (s *DynamoDB) Get(ctx context.Context, videoID string) (*video.Video, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(videoIDIndex),
		KeyConditionExpression: aws.String("video_id = :vid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":vid": &types.AttributeValueMemberS{Value: videoID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query video: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}

	var item videoItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	v := item.toVideo()
	return &v, nil
}

// SetThumbnail records the thumbnail blob key.
func (s *DynamoDB) SetThumbnail(ctx context.Context, videoID, thumbnailKey string) error {
	return s.update(ctx, videoID, "SET thumbnail_key = :val", nil,
		map[string]types.AttributeValue{
			":val": &types.AttributeValueMemberS{Value: thumbnailKey},
		})
}

// AddRendition records one rendition entry inside the resolution_keys map.
// Distinct labels touch distinct map entries, so concurrent rendition
// updates do not clobber each other.
func (s *DynamoDB) AddRendition(ctx context.Context, videoID, label, key string) error {
	return s.update(ctx, videoID, "SET resolution_keys.#label = :val",
		map[string]string{"#label": label},
		map[string]types.AttributeValue{
			":val": &types.AttributeValueMemberS{Value: key},
		})
}

// SetStatus updates the lifecycle state.
func (s *DynamoDB) SetStatus(ctx context.Context, videoID string, status video.Status) error {
	return s.update(ctx, videoID, "SET #st = :val",
		map[string]string{"#st": "status"},
		map[string]types.AttributeValue{
			":val": &types.AttributeValueMemberS{Value: string(status)},
		})
}

// update resolves the owner through the GSI, then applies a single-field
// UpdateItem against the table keys.
func (s *DynamoDB) update(ctx context.Context, videoID, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	v, err := s.Get(ctx, videoID)
	if err != nil {
		return err
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id":  &types.AttributeValueMemberS{Value: v.OwnerID},
			"video_id": &types.AttributeValueMemberS{Value: videoID},
		},
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(video_id)"),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

// lastKey is the JSON shape of the continuation token, carrying the table
// keys from DynamoDB's LastEvaluatedKey.
type lastKey struct {
	UserID  string `json:"u"`
	VideoID string `json:"v"`
}

// List pages through records for one owner (Query) or globally (Scan).
func (s *DynamoDB) List(ctx context.Context, f Filter, p Page) ([]video.Video, string, error) {
	p = clampPage(p)

	var filters []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	if f.Status != "" {
		filters = append(filters, "#st = :status")
		names["#st"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(f.Status)}
	}
	if !f.CreatedBefore.IsZero() {
		filters = append(filters, "created_at <= :before")
		values[":before"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", f.CreatedBefore.UnixNano())}
	}
	if !f.CreatedAfter.IsZero() {
		filters = append(filters, "created_at >= :after")
		values[":after"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", f.CreatedAfter.UnixNano())}
	}

	var startKey map[string]types.AttributeValue
	if p.Cursor != "" {
		var err error
		startKey, err = decodeDynamoCursor(p.Cursor)
		if err != nil {
			return nil, "", err
		}
	}

	var items []map[string]types.AttributeValue
	var lastEvaluated map[string]types.AttributeValue

	if f.OwnerID != "" {
		// The range key is video_id, so pages come back in descending
		// id order within the owner partition, not by creation time.
		in := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("user_id = :uid"),
			Limit:                  aws.Int32(int32(p.Size)),
			ExclusiveStartKey:      startKey,
			ScanIndexForward:       aws.Bool(false),
		}
		values[":uid"] = &types.AttributeValueMemberS{Value: f.OwnerID}
		in.ExpressionAttributeValues = values
		if len(filters) > 0 {
			in.FilterExpression = aws.String(strings.Join(filters, " AND "))
		}
		if len(names) > 0 {
			in.ExpressionAttributeNames = names
		}
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, "", fmt.Errorf("failed to query videos: %w", err)
		}
		items, lastEvaluated = out.Items, out.LastEvaluatedKey
	} else {
		in := &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			Limit:             aws.Int32(int32(p.Size)),
			ExclusiveStartKey: startKey,
		}
		if len(filters) > 0 {
			in.FilterExpression = aws.String(strings.Join(filters, " AND "))
			in.ExpressionAttributeValues = values
		}
		if len(names) > 0 {
			in.ExpressionAttributeNames = names
		}
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan videos: %w", err)
		}
		items, lastEvaluated = out.Items, out.LastEvaluatedKey
	}

	var rawItems []videoItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rawItems); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal items: %w", err)
	}

	videos := make([]video.Video, 0, len(rawItems))
	for _, it := range rawItems {
		videos = append(videos, it.toVideo())
	}

	next, err := encodeDynamoCursor(lastEvaluated)
	if err != nil {
		return nil, "", err
	}
	return videos, next, nil
}

func encodeDynamoCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	var lk lastKey
	if v, ok := key["user_id"].(*types.AttributeValueMemberS); ok {
		lk.UserID = v.Value
	}
	if v, ok := key["video_id"].(*types.AttributeValueMemberS); ok {
		lk.VideoID = v.Value
	}
	raw, err := json.Marshal(lk)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeDynamoCursor(token string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	var lk lastKey
	if err := json.Unmarshal(raw, &lk); err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	if lk.VideoID == "" {
		return nil, fmt.Errorf("malformed cursor: empty video id")
	}
	return map[string]types.AttributeValue{
		"user_id":  &types.AttributeValueMemberS{Value: lk.UserID},
		"video_id": &types.AttributeValueMemberS{Value: lk.VideoID},
	}, nil
}

// Delete removes the record or returns ErrNotFound.
func (s *DynamoDB) Delete(ctx context.Context, videoID string) error {
	v, err := s.Get(ctx, videoID)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id":  &types.AttributeValueMemberS{Value: v.OwnerID},
			"video_id": &types.AttributeValueMemberS{Value: videoID},
		},
		ConditionExpression: aws.String("attribute_exists(video_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no persistent connection state.
func (s *DynamoDB) Close() error { return nil }
