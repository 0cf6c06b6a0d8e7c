package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/spacesedan/sentiflow-worker/internal/models"
)

const (
	BACKEND_DYNAMODB     = "dynamodb"
	DYNAMODB_BATCH_LIMIT = 25
	DYNAMODB_MAX_RETRIES = 3
)

// DynamoDBAPI is the part of *dynamodb.Client the store uses.
type DynamoDBAPI interface {
	dynamodb.ScanAPIClient
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore keeps results in a table keyed by the string attribute "id".
type DynamoDBStore struct {
	client  DynamoDBAPI
	table   string
	backoff time.Duration
	logger  *slog.Logger
}

func NewDynamoDBStore(client DynamoDBAPI, table string, logger *slog.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:  client,
		table:   table,
		backoff: 500 * time.Millisecond,
		logger:  logger,
	}
}

func (d *DynamoDBStore) Backend() string {
	return BACKEND_DYNAMODB
}

func (d *DynamoDBStore) Store(ctx context.Context, results []models.AnalysisResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	requests := make([]types.WriteRequest, 0, len(results))
	for _, r := range results {
		item, err := attributevalue.MarshalMap(r)
		if err != nil {
			return 0, fmt.Errorf("[DynamoDB] failed to marshal result %s: %w", r.ID, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}

	stored, err := d.batchWrite(ctx, requests)
	if err != nil {
		return stored, err
	}

	d.logger.Info("[DynamoDB] Successfully stored sentiment results",
		slog.Int("stored", stored))
	return stored, nil
}

// batchWrite sends requests in chunks of 25 and retries unprocessed items with
// exponential backoff. It returns how many requests the table accepted.
func (d *DynamoDBStore) batchWrite(ctx context.Context, requests []types.WriteRequest) (int, error) {
	written := 0
	for i := 0; i < len(requests); i += DYNAMODB_BATCH_LIMIT {
		select {
		case <-ctx.Done():
			d.logger.Warn("[DynamoDB] context canceled")
			return written, ctx.Err()
		default:
		}

		end := min(i+DYNAMODB_BATCH_LIMIT, len(requests))
		chunk := requests[i:end]

		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{d.table: chunk},
		})
		if err != nil {
			return written, fmt.Errorf("[DynamoDB] Failed to batch write: %w", err)
		}

		retryCount := 0
		backoff := d.backoff
		for len(out.UnprocessedItems[d.table]) > 0 && retryCount < DYNAMODB_MAX_RETRIES {
			time.Sleep(backoff)
			backoff *= 2

			d.logger.Warn("[DynamoDB] Retrying unprocessed items...",
				slog.Int("attempt", retryCount+1),
				slog.Int("remaining", len(out.UnprocessedItems[d.table])))

			out, err = d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: out.UnprocessedItems,
			})
			if err != nil {
				return written, fmt.Errorf("[DynamoDB] Retry error %w", err)
			}
			retryCount++
		}

		remaining := len(out.UnprocessedItems[d.table])
		written += len(chunk) - remaining
		if remaining > 0 {
			d.logger.Error("[DynamoDB] Some items failed after retries",
				slog.Int("remaining", remaining))
			return written, fmt.Errorf("[DynamoDB] %d items unprocessed after %d retries", remaining, DYNAMODB_MAX_RETRIES)
		}
	}
	return written, nil
}

func (d *DynamoDBStore) scan(ctx context.Context, filter Filter, projection string) ([]models.AnalysisResult, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(d.table)}
	if filter.Sentiment != "" {
		input.FilterExpression = aws.String("#s = :s")
		input.ExpressionAttributeNames = map[string]string{"#s": FIELD_SENTIMENT}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(filter.Sentiment)},
		}
	}
	if projection != "" {
		if input.ExpressionAttributeNames == nil {
			input.ExpressionAttributeNames = map[string]string{}
		}
		input.ExpressionAttributeNames["#p"] = projection
		input.ProjectionExpression = aws.String("#p")
	}

	var results []models.AnalysisResult
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] Scan failed: %w", err)
		}
		var page []models.AnalysisResult
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			d.logger.Error("[DynamoDB] Unable to unmarshal current page", slog.String("error", err.Error()))
			return nil, err
		}
		for _, r := range page {
			if filter.Matches(r) {
				results = append(results, r)
			}
		}
	}
	return results, nil
}

func (d *DynamoDBStore) Find(ctx context.Context, filter Filter) ([]models.AnalysisResult, error) {
	results, err := d.scan(ctx, filter, "")
	if err != nil {
		return nil, err
	}
	out := make([]models.AnalysisResult, 0, len(results))
	for _, r := range results {
		r.ID = ""
		out = append(out, r)
	}
	return out, nil
}

func (d *DynamoDBStore) Distinct(ctx context.Context, field string) ([]string, error) {
	if err := validateField(field); err != nil {
		return nil, err
	}
	results, err := d.scan(ctx, Filter{}, field)
	if err != nil {
		return nil, err
	}
	return distinctValues(results, field), nil
}

func (d *DynamoDBStore) Summarize(ctx context.Context, movieName string) ([]models.MovieSummary, error) {
	results, err := d.scan(ctx, Filter{MovieName: movieName}, "")
	if err != nil {
		return nil, err
	}
	return summarize(results), nil
}

func (d *DynamoDBStore) Count(ctx context.Context, filter Filter) (int64, error) {
	if filter.MovieName != "" {
		results, err := d.scan(ctx, filter, "")
		if err != nil {
			return 0, err
		}
		return int64(len(results)), nil
	}

	input := &dynamodb.ScanInput{
		TableName: aws.String(d.table),
		Select:    types.SelectCount,
	}
	if filter.Sentiment != "" {
		input.FilterExpression = aws.String("#s = :s")
		input.ExpressionAttributeNames = map[string]string{"#s": FIELD_SENTIMENT}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(filter.Sentiment)},
		}
	}

	var total int64
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("[DynamoDB] Count scan failed: %w", err)
		}
		total += int64(out.Count)
	}
	return total, nil
}

func (d *DynamoDBStore) Clear(ctx context.Context) (int64, error) {
	results, err := d.scan(ctx, Filter{}, "id")
	if err != nil {
		return 0, err
	}

	requests := make([]types.WriteRequest, 0, len(results))
	for _, r := range results {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: r.ID}},
		}})
	}

	deleted, err := d.batchWrite(ctx, requests)
	d.logger.Warn("[DynamoDB] Cleared results table", slog.Int("deleted", deleted))
	return int64(deleted), err
}

func (d *DynamoDBStore) Ping(ctx context.Context) error {
	out, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)})
	if err != nil {
		return fmt.Errorf("[DynamoDB] describe table failed: %w", err)
	}
	if out.Table != nil && out.Table.TableStatus != types.TableStatusActive {
		return fmt.Errorf("[DynamoDB] table %s is %s", d.table, out.Table.TableStatus)
	}
	return nil
}

func (d *DynamoDBStore) Close(ctx context.Context) error {
	return nil
}
