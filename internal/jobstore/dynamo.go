package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// JobItem is the DynamoDB record for a job.
type JobItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	GSI1PK         string `dynamodbav:"GSI1PK"`
	GSI1SK         string `dynamodbav:"GSI1SK"`
	JobID          string `dynamodbav:"jobId"`
	Status         string `dynamodbav:"status"`
	ScriptJSON     string `dynamodbav:"scriptParts"`
	OutputFile     string `dynamodbav:"outputFile,omitempty"`
	ArtifactURL    string `dynamodbav:"artifactUrl,omitempty"`
	ErrorMessage   string `dynamodbav:"errorMessage,omitempty"`
	CreatedAt      string `dynamodbav:"createdAt"`
	UpdatedAt      string `dynamodbav:"updatedAt"`
	TotalParts     int    `dynamodbav:"totalParts"`
	CompletedParts int    `dynamodbav:"completedParts"`
}

// DynamoStore keeps jobs in a single DynamoDB table with a GSI for
// newest-first listing.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	clock     func() time.Time
}

// NewDynamoStore creates a DynamoDB-backed store.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, clock: time.Now}
}

func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) Insert(ctx context.Context, job *Job) error {
	now := s.clock().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	av, err := s.marshal(job)
	if err != nil {
		return &StorageError{Op: "insert", Err: err}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("insert job %s: %w", job.ID, ErrDuplicateKey)
	}
	if err != nil {
		return &StorageError{Op: "insert", Err: fmt.Errorf("put job item: %w", err)}
	}
	return nil
}

func (s *DynamoStore) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = s.clock().UTC()

	av, err := s.marshal(job)
	if err != nil {
		return &StorageError{Op: "update", Err: err}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotFound)
	}
	if err != nil {
		return &StorageError{Op: "update", Err: fmt.Errorf("put job item: %w", err)}
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*Job, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       jobKey(id),
	})
	if err != nil {
		return nil, &StorageError{Op: "get", Err: fmt.Errorf("get job item: %w", err)}
	}
	if result.Item == nil {
		return nil, nil
	}

	var item JobItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, &StorageError{Op: "get", Err: fmt.Errorf("unmarshal job: %w", err)}
	}
	job, err := item.toJob()
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return job, nil
}

// List pages through GSI1 newest first until the index is exhausted.
func (s *DynamoStore) List(ctx context.Context) ([]Job, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "JOBS"},
		},
		ScanIndexForward: aws.Bool(false),
	}

	jobs := []Job{}
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, &StorageError{Op: "list", Err: fmt.Errorf("query jobs: %w", err)}
		}

		var items []JobItem
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
			return nil, &StorageError{Op: "list", Err: fmt.Errorf("unmarshal job list: %w", err)}
		}
		for _, item := range items {
			job, err := item.toJob()
			if err != nil {
				return nil, &StorageError{Op: "list", Err: err}
			}
			jobs = append(jobs, *job)
		}

		if len(result.LastEvaluatedKey) == 0 {
			return jobs, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func (s *DynamoStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    &s.tableName,
		Key:          jobKey(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, &StorageError{Op: "delete", Err: fmt.Errorf("delete job item: %w", err)}
	}
	return len(result.Attributes) > 0, nil
}

func (s *DynamoStore) marshal(job *Job) (map[string]types.AttributeValue, error) {
	parts, err := json.Marshal(job.ScriptParts)
	if err != nil {
		return nil, fmt.Errorf("marshal script parts: %w", err)
	}
	created := formatTime(job.CreatedAt)
	item := JobItem{
		PK:             "JOB#" + job.ID,
		SK:             "METADATA",
		GSI1PK:         "JOBS",
		GSI1SK:         created + "#" + job.ID,
		JobID:          job.ID,
		Status:         string(job.Status),
		ScriptJSON:     string(parts),
		OutputFile:     job.OutputFile,
		ArtifactURL:    job.ArtifactURL,
		ErrorMessage:   job.Error,
		CreatedAt:      created,
		UpdatedAt:      formatTime(job.UpdatedAt),
		TotalParts:     job.TotalParts,
		CompletedParts: job.CompletedParts,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal job item: %w", err)
	}
	return av, nil
}

func (item JobItem) toJob() (*Job, error) {
	job := &Job{
		ID:             item.JobID,
		Status:         JobStatus(item.Status),
		OutputFile:     item.OutputFile,
		ArtifactURL:    item.ArtifactURL,
		Error:          item.ErrorMessage,
		TotalParts:     item.TotalParts,
		CompletedParts: item.CompletedParts,
	}
	if err := json.Unmarshal([]byte(item.ScriptJSON), &job.ScriptParts); err != nil {
		return nil, fmt.Errorf("decode script parts of %s: %w", item.JobID, err)
	}
	var err error
	if job.CreatedAt, err = time.Parse(timeLayout, item.CreatedAt); err != nil {
		return nil, fmt.Errorf("decode createdAt of %s: %w", item.JobID, err)
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, item.UpdatedAt); err != nil {
		return nil, fmt.Errorf("decode updatedAt of %s: %w", item.JobID, err)
	}
	return job, nil
}

func jobKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "JOB#" + id},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
