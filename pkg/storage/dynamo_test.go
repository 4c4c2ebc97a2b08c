package storage

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/common-fate/boundary/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemCarriesRetentionTTL(t *testing.T) {
	req := request.Request{
		ID:        "bnd_test1",
		Status:    request.StatusActive,
		ExpiresAt: 1770000000,
	}
	av, err := attributevalue.MarshalMap(item{
		Request: req,
		TTL:     req.ExpiresAt + int64(retentionWindow.Seconds()),
	})
	require.NoError(t, err)

	// embedded request fields are flattened into top-level attributes,
	// which the ExpirationIndex GSI depends on
	assert.Contains(t, av, "request_id")
	assert.Contains(t, av, "status")
	assert.Contains(t, av, "expires_at")

	ttl, ok := av["ttl"].(*ddbtypes.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1777776000", ttl.Value) // expiry + 90 days
}

func TestUnmarshalRecords(t *testing.T) {
	items := []map[string]ddbtypes.AttributeValue{
		{
			"request_id": &ddbtypes.AttributeValueMemberS{Value: "bnd_1"},
			"status":     &ddbtypes.AttributeValueMemberS{Value: "ACTIVE"},
			"expires_at": &ddbtypes.AttributeValueMemberN{Value: "1770000000"},
		},
	}

	records, err := unmarshalRecords(items)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bnd_1", records[0].ID)
	assert.Equal(t, request.StatusActive, records[0].Status)
	assert.Equal(t, int64(1770000000), records[0].ExpiresAt)
}
