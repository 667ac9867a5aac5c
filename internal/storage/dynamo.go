package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/pkg/logger"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore keeps campaigns, recipients and the run ledger in a single
// DynamoDB table keyed by PK/SK:
//
//	CAMPAIGN#<id>  META               campaign metadata
//	CAMPAIGN#<id>  RECIPIENT#<contact> recipient
//	SYNCRUN        <started>#<run id>  run summary
//
// A GSI on Email serves reporting lookups.
type DynamoStore struct {
	client DynamoAPI
	table  string
	log    *logger.Logger
}

// NewDynamoStore creates a store over an existing client.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, log: logger.With("component", "dynamo_store")}
}

// NewDynamoStoreFromConfig builds a store from the default AWS config.
func NewDynamoStoreFromConfig(ctx context.Context, table, region, profile string) (*DynamoStore, error) {
	cfg, err := LoadAWSConfig(ctx, region, profile)
	if err != nil {
		return nil, err
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

const (
	entityCampaign  = "campaign"
	entityRecipient = "recipient"
	metaSK          = "META"
	recipientPrefix = "RECIPIENT#"
	syncRunPK       = "SYNCRUN"

	// runSortLayout is fixed width so sort keys order the same as start times.
	runSortLayout = "2006-01-02T15:04:05.000000000Z"
)

func campaignPK(id string) string { return "CAMPAIGN#" + id }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

type campaignItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	Entity       string `dynamodbav:"Entity"`
	CampaignID   string `dynamodbav:"CampaignID"`
	Name         string `dynamodbav:"Name"`
	Subject      string `dynamodbav:"Subject"`
	FromName     string `dynamodbav:"FromName"`
	FromEmail    string `dynamodbav:"FromEmail"`
	Status       string `dynamodbav:"Status"`
	Stats        string `dynamodbav:"Stats"`
	CreatedAt    string `dynamodbav:"CreatedAt,omitempty"`
	SentAt       string `dynamodbav:"SentAt,omitempty"`
	LastSyncedAt string `dynamodbav:"LastSyncedAt,omitempty"`
}

type recipientItem struct {
	PK                 string            `dynamodbav:"PK"`
	SK                 string            `dynamodbav:"SK"`
	Entity             string            `dynamodbav:"Entity"`
	CampaignID         string            `dynamodbav:"CampaignID"`
	ContactID          string            `dynamodbav:"ContactID"`
	Email              string            `dynamodbav:"Email,omitempty"`
	SubscriptionStatus string            `dynamodbav:"SubscriptionStatus,omitempty"`
	Fields             map[string]string `dynamodbav:"Fields,omitempty"`
	Opened             bool              `dynamodbav:"Opened"`
	Clicked            bool              `dynamodbav:"Clicked"`
	Bounced            bool              `dynamodbav:"Bounced"`
	Complained         bool              `dynamodbav:"Complained"`
	Unsubscribed       bool              `dynamodbav:"Unsubscribed"`
}

type syncRunItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`
}

// updateBuilder accumulates a SET expression with placeholder names so
// reserved words like Status and Name are safe.
type updateBuilder struct {
	sets   []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func newUpdateBuilder() *updateBuilder {
	return &updateBuilder{names: map[string]string{}, values: map[string]types.AttributeValue{}}
}

func (b *updateBuilder) name(attr string) string {
	ph := "#" + strings.ToLower(attr)
	b.names[ph] = attr
	return ph
}

func (b *updateBuilder) set(attr string, v types.AttributeValue) {
	ph := ":" + strings.ToLower(attr)
	b.sets = append(b.sets, fmt.Sprintf("%s = %s", b.name(attr), ph))
	b.values[ph] = v
}

// setOr writes true outright and leaves an existing value alone otherwise,
// which is an atomic OR against whatever is stored.
func (b *updateBuilder) setOr(attr string, v bool) {
	n := b.name(attr)
	if v {
		b.values[":true"] = &types.AttributeValueMemberBOOL{Value: true}
		b.sets = append(b.sets, fmt.Sprintf("%s = :true", n))
		return
	}
	b.values[":false"] = &types.AttributeValueMemberBOOL{Value: false}
	b.sets = append(b.sets, fmt.Sprintf("%s = if_not_exists(%s, :false)", n, n))
}

func (b *updateBuilder) expression(removes ...string) string {
	expr := "SET " + strings.Join(b.sets, ", ")
	if len(removes) > 0 {
		rm := make([]string, 0, len(removes))
		for _, attr := range removes {
			rm = append(rm, b.name(attr))
		}
		expr += " REMOVE " + strings.Join(rm, ", ")
	}
	return expr
}

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

// recipientUpdate builds the merge update for one partial recipient. Empty
// descriptive fields are left out so they do not clobber stored values.
func recipientUpdate(r domain.Recipient) (string, map[string]string, map[string]types.AttributeValue, error) {
	b := newUpdateBuilder()
	b.set("Entity", str(entityRecipient))
	b.set("CampaignID", str(r.CampaignID))
	b.set("ContactID", str(r.ContactID))
	if r.Email != "" {
		b.set("Email", str(r.Email))
	}
	if r.Status != "" {
		b.set("SubscriptionStatus", str(r.Status))
	}
	if len(r.Fields) > 0 {
		av, err := attributevalue.Marshal(r.Fields)
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshaling custom fields: %w", err)
		}
		b.set("Fields", av)
	}
	e := r.Engagement
	b.setOr("Opened", e.Opened)
	b.setOr("Clicked", e.Clicked)
	b.setOr("Bounced", e.Bounced)
	b.setOr("Complained", e.Complained)
	b.setOr("Unsubscribed", e.Unsubscribed)
	return b.expression(), b.names, b.values, nil
}

// UpsertCampaign writes campaign metadata wholesale. LastSyncedAt is never
// part of the update.
func (s *DynamoStore) UpsertCampaign(ctx context.Context, c domain.Campaign) error {
	stats, err := json.Marshal(c.Stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	b := newUpdateBuilder()
	b.set("Entity", str(entityCampaign))
	b.set("CampaignID", str(c.ID))
	b.set("Name", str(c.Name))
	b.set("Subject", str(c.Subject))
	b.set("FromName", str(c.FromName))
	b.set("FromEmail", str(c.FromEmail))
	b.set("Status", str(string(c.Status)))
	b.set("Stats", str(string(stats)))

	var removes []string
	for _, ts := range []struct {
		attr string
		t    *time.Time
	}{{"CreatedAt", c.CreatedAt}, {"SentAt", c.SentAt}} {
		if ts.t == nil || ts.t.IsZero() {
			removes = append(removes, ts.attr)
			continue
		}
		b.set(ts.attr, str(ts.t.UTC().Format(time.RFC3339)))
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(campaignPK(c.ID), metaSK),
		UpdateExpression:          aws.String(b.expression(removes...)),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
	})
	if err != nil {
		return &domain.WriteError{CampaignID: c.ID, Err: fmt.Errorf("updating campaign in DynamoDB: %w", err)}
	}
	return nil
}

// UpsertRecipient merges one partial recipient with a single UpdateItem.
func (s *DynamoStore) UpsertRecipient(ctx context.Context, r domain.Recipient) error {
	expr, names, values, err := recipientUpdate(r)
	if err == nil {
		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.table),
			Key:                       key(campaignPK(r.CampaignID), recipientPrefix+r.ContactID),
			UpdateExpression:          aws.String(expr),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
	}
	if err != nil {
		return &domain.WriteError{CampaignID: r.CampaignID, ContactID: r.ContactID, Err: err}
	}
	return nil
}

// UpsertRecipients merges every item. DynamoDB has no multi-item update,
// so items are written one by one; failures are collected, not fatal.
func (s *DynamoStore) UpsertRecipients(ctx context.Context, items []domain.Recipient) (domain.BulkResult, error) {
	var res domain.BulkResult
	for _, item := range domain.CoalesceRecipients(items) {
		if err := s.UpsertRecipient(ctx, item); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			var we *domain.WriteError
			errors.As(err, &we)
			res.Failed = append(res.Failed, we)
			continue
		}
		res.Upserted++
	}
	if len(res.Failed) > 0 {
		s.log.Warn("recipient writes failed", "failed", len(res.Failed), "upserted", res.Upserted)
	}
	return res, nil
}

// Ping reads a fixed key to check the table is reachable.
func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       key(syncRunPK, "PING"),
	})
	return err
}

// GetCampaign loads one campaign.
func (s *DynamoStore) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       key(campaignPK(id), metaSK),
	})
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("getting campaign from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.Campaign{}, domain.ErrNotFound
	}
	var item campaignItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.Campaign{}, fmt.Errorf("unmarshaling campaign: %w", err)
	}
	return item.toDomain()
}

// ListCampaigns scans every campaign item, ordered by id.
func (s *DynamoStore) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          aws.String("#entity = :entity"),
		ExpressionAttributeNames:  map[string]string{"#entity": "Entity"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":entity": str(entityCampaign)},
	})

	var out []domain.Campaign
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning campaigns: %w", err)
		}
		var items []campaignItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshaling campaigns: %w", err)
		}
		for _, item := range items {
			c, err := item.toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListRecipients queries every recipient of a campaign, ordered by contact id.
func (s *DynamoStore) ListRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error) {
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     str(campaignPK(campaignID)),
			":prefix": str(recipientPrefix),
		},
	})

	var out []domain.Recipient
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying recipients: %w", err)
		}
		var items []recipientItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshaling recipients: %w", err)
		}
		for _, item := range items {
			out = append(out, item.toDomain())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

// LastSynced returns the last successful sync time of each given campaign.
func (s *DynamoStore) LastSynced(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(ids))
	for _, id := range ids {
		res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:                aws.String(s.table),
			Key:                      key(campaignPK(id), metaSK),
			ProjectionExpression:     aws.String("#ls"),
			ExpressionAttributeNames: map[string]string{"#ls": "LastSyncedAt"},
		})
		if err != nil {
			return nil, fmt.Errorf("getting last synced for %s: %w", id, err)
		}
		v, ok := res.Item["LastSyncedAt"].(*types.AttributeValueMemberS)
		if !ok || v.Value == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v.Value)
		if err != nil {
			s.log.Warn("unparseable last synced timestamp", "campaign_id", id, "value", v.Value)
			continue
		}
		out[id] = t
	}
	return out, nil
}

// MarkSynced stamps LastSyncedAt on an existing campaign.
func (s *DynamoStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       key(campaignPK(id), metaSK),
		UpdateExpression:          aws.String("SET #ls = :at"),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  map[string]string{"#ls": "LastSyncedAt"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":at": str(at.UTC().Format(time.RFC3339))},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("marking campaign synced: %w", err)
	}
	return nil
}

// RecordRun stores a run summary; writing the same run again replaces it.
func (s *DynamoStore) RecordRun(ctx context.Context, run domain.SyncRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling sync run: %w", err)
	}
	av, err := attributevalue.MarshalMap(syncRunItem{
		PK:        syncRunPK,
		SK:        runSK(run),
		Data:      string(data),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: av}); err != nil {
		return fmt.Errorf("putting sync run to DynamoDB: %w", err)
	}
	return nil
}

func runSK(run domain.SyncRun) string {
	return run.StartedAt.UTC().Format(runSortLayout) + "#" + run.ID
}

// LatestRun returns the most recently started run.
func (s *DynamoStore) LatestRun(ctx context.Context) (domain.SyncRun, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": str(syncRunPK)},
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("querying sync runs: %w", err)
	}
	if len(out.Items) == 0 {
		return domain.SyncRun{}, domain.ErrNotFound
	}
	var item syncRunItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return domain.SyncRun{}, fmt.Errorf("unmarshaling sync run: %w", err)
	}
	var run domain.SyncRun
	if err := json.Unmarshal([]byte(item.Data), &run); err != nil {
		return domain.SyncRun{}, fmt.Errorf("decoding sync run: %w", err)
	}
	return run, nil
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

func (item campaignItem) toDomain() (domain.Campaign, error) {
	c := domain.Campaign{
		ID:           item.CampaignID,
		Name:         item.Name,
		Subject:      item.Subject,
		FromName:     item.FromName,
		FromEmail:    item.FromEmail,
		Status:       domain.CampaignStatus(item.Status),
		CreatedAt:    parseTime(item.CreatedAt),
		SentAt:       parseTime(item.SentAt),
		LastSyncedAt: parseTime(item.LastSyncedAt),
	}
	if item.Stats != "" {
		if err := json.Unmarshal([]byte(item.Stats), &c.Stats); err != nil {
			return c, fmt.Errorf("decoding stats for campaign %s: %w", item.CampaignID, err)
		}
	}
	return c, nil
}

func (item recipientItem) toDomain() domain.Recipient {
	r := domain.Recipient{
		CampaignID: item.CampaignID,
		ContactID:  item.ContactID,
		Email:      item.Email,
		Status:     item.SubscriptionStatus,
		Engagement: domain.Engagement{
			Opened:       item.Opened,
			Clicked:      item.Clicked,
			Bounced:      item.Bounced,
			Complained:   item.Complained,
			Unsubscribed: item.Unsubscribed,
		},
	}
	if len(item.Fields) > 0 {
		r.Fields = item.Fields
	}
	return r
}
