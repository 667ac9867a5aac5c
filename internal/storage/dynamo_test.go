package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-sync/internal/domain"
)

type fakeDynamo struct {
	updates   []*dynamodb.UpdateItemInput
	puts      []*dynamodb.PutItemInput
	failSK    string
	updateErr error
	getItem   map[string]types.AttributeValue
	pages     [][]map[string]types.AttributeValue
	queries   int
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if sk, ok := in.Key["SK"].(*types.AttributeValueMemberS); ok && f.failSK != "" && sk.Value == f.failSK {
		return nil, errors.New("ProvisionedThroughputExceededException")
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	i := f.queries
	f.queries++
	out := &dynamodb.QueryOutput{Items: f.pages[i]}
	if i+1 < len(f.pages) {
		out.LastEvaluatedKey = key("CAMPAIGN#1", "cursor")
	}
	return out, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return &dynamodb.ScanOutput{}, nil
}

func TestRecipientUpdate_OrMergesFlags(t *testing.T) {
	expr, names, values, err := recipientUpdate(domain.Recipient{
		CampaignID: "1",
		ContactID:  "c",
		Engagement: domain.Engagement{Bounced: true},
	})
	require.NoError(t, err)

	assert.Contains(t, expr, "#bounced = :true")
	assert.Contains(t, expr, "#opened = if_not_exists(#opened, :false)")
	assert.NotContains(t, expr, "#email")
	assert.NotContains(t, expr, "#fields")
	assert.Equal(t, "Bounced", names["#bounced"])
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: true}, values[":true"])
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: false}, values[":false"])
}

func TestRecipientUpdate_DescriptiveFields(t *testing.T) {
	expr, _, values, err := recipientUpdate(domain.Recipient{
		CampaignID: "1",
		ContactID:  "c",
		Email:      "a@example.com",
		Status:     "active",
		Fields:     map[string]string{"zip": "43215"},
	})
	require.NoError(t, err)

	assert.Contains(t, expr, "#email = :email")
	assert.Contains(t, expr, "#subscriptionstatus = :subscriptionstatus")
	assert.NotContains(t, expr, ":true")
	fields, ok := values[":fields"].(*types.AttributeValueMemberM)
	require.True(t, ok)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "43215"}, fields.Value["zip"])
}

func TestDynamoUpsertRecipients_ReportsFailures(t *testing.T) {
	fake := &fakeDynamo{failSK: "RECIPIENT#bad"}
	store := NewDynamoStore(fake, "engagement")

	res, err := store.UpsertRecipients(context.Background(), []domain.Recipient{
		{CampaignID: "1", ContactID: "good"},
		{CampaignID: "1", ContactID: "bad"},
		{CampaignID: "1", ContactID: "good", Engagement: domain.Engagement{Opened: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad", res.Failed[0].ContactID)
	assert.Len(t, fake.updates, 2)
	assert.Contains(t, *fake.updates[0].UpdateExpression, "#opened = :true")
}

func TestDynamoUpsertCampaign_NeverTouchesLastSynced(t *testing.T) {
	fake := &fakeDynamo{}
	store := NewDynamoStore(fake, "engagement")

	sent := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertCampaign(context.Background(), domain.Campaign{ID: "9", Name: "May", SentAt: &sent}))

	require.Len(t, fake.updates, 1)
	expr := *fake.updates[0].UpdateExpression
	assert.NotContains(t, expr, "lastsynced")
	assert.Contains(t, expr, "#sentat = :sentat")
	assert.True(t, strings.HasSuffix(expr, "REMOVE #createdat"), expr)
	assert.Equal(t, "Status", fake.updates[0].ExpressionAttributeNames["#status"])
}

func TestDynamoUpsertCampaign_WriteError(t *testing.T) {
	store := NewDynamoStore(&fakeDynamo{updateErr: errors.New("boom")}, "engagement")
	err := store.UpsertCampaign(context.Background(), domain.Campaign{ID: "9"})
	var we *domain.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "9", we.CampaignID)
}

func TestDynamoListRecipients_FollowsPages(t *testing.T) {
	page := func(ids ...string) []map[string]types.AttributeValue {
		var items []map[string]types.AttributeValue
		for _, id := range ids {
			av, err := attributevalue.MarshalMap(recipientItem{
				PK: "CAMPAIGN#1", SK: recipientPrefix + id, Entity: entityRecipient,
				CampaignID: "1", ContactID: id, Clicked: id == "a",
			})
			require.NoError(t, err)
			items = append(items, av)
		}
		return items
	}
	fake := &fakeDynamo{pages: [][]map[string]types.AttributeValue{page("b", "a"), page("c")}}
	store := NewDynamoStore(fake, "engagement")

	got, err := store.ListRecipients(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ContactID)
	assert.True(t, got[0].Engagement.Clicked)
	assert.Equal(t, 2, fake.queries)
}

func TestDynamoGetCampaign(t *testing.T) {
	av, err := attributevalue.MarshalMap(campaignItem{
		PK: "CAMPAIGN#5", SK: metaSK, Entity: entityCampaign, CampaignID: "5", Name: "Winter",
		Status: "sent", Stats: `{"opened":{"unique":3,"total":4}}`, LastSyncedAt: "2025-01-02T03:04:05Z",
	})
	require.NoError(t, err)
	store := NewDynamoStore(&fakeDynamo{getItem: av}, "engagement")

	c, err := store.GetCampaign(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "Winter", c.Name)
	assert.Equal(t, int64(4), c.Stats.Opened.Total)
	require.NotNil(t, c.LastSyncedAt)

	_, err = NewDynamoStore(&fakeDynamo{}, "engagement").GetCampaign(context.Background(), "6")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDynamoMarkSynced_MissingCampaign(t *testing.T) {
	store := NewDynamoStore(&fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}, "engagement")
	err := store.MarkSynced(context.Background(), "404", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDynamoRecordRun(t *testing.T) {
	fake := &fakeDynamo{}
	store := NewDynamoStore(fake, "engagement")
	started := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordRun(context.Background(), domain.SyncRun{ID: "r1", Mode: domain.SyncFull, StartedAt: started}))
	require.Len(t, fake.puts, 1)
	var item syncRunItem
	require.NoError(t, attributevalue.UnmarshalMap(fake.puts[0].Item, &item))
	assert.Equal(t, syncRunPK, item.PK)
	assert.Equal(t, "2025-06-01T00:00:00.000000000Z#r1", item.SK)
	assert.Contains(t, item.Data, `"mode":"full"`)
}

func TestRunSK_OrdersByStartTime(t *testing.T) {
	whole := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fraction := whole.Add(100 * time.Millisecond)
	later := whole.Add(time.Second)

	a := runSK(domain.SyncRun{ID: "a", StartedAt: whole})
	b := runSK(domain.SyncRun{ID: "b", StartedAt: fraction})
	c := runSK(domain.SyncRun{ID: "c", StartedAt: later})
	assert.Less(t, a, b)
	assert.Less(t, b, c)
	assert.Len(t, b, len(a))
}

func TestDynamoPing(t *testing.T) {
	store := NewDynamoStore(&fakeDynamo{}, "engagement")
	assert.NoError(t, store.Ping(context.Background()))
}
