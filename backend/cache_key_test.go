package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-backend/client"
	"github.com/saiset-co/sai-backend/types"
)

func receiptKey(t *testing.T, receipt ReceiptBody) CacheKey {
	t.Helper()
	req := client.NewRequest(types.MethodPost, client.PostReceiptPath(), receipt)
	key, err := bodyCacheKey(opPostReceipt, req, receipt.AppUserID)
	require.NoError(t, err)
	return key
}

func attributesKey(t *testing.T, appUserID string, attributes SubscriberAttributes) CacheKey {
	t.Helper()
	req := client.NewRequest(types.MethodPost, client.PostAttributesPath(appUserID), AttributesBody{Attributes: attributes})
	key, err := bodyCacheKey(opPostAttributes, req, appUserID)
	require.NoError(t, err)
	return key
}

func TestNewCacheKey(t *testing.T) {
	assert.Equal(t, CacheKey("getThing:user1"), NewCacheKey("getThing", "user1"))
	assert.Equal(t, CacheKey("getCustomerInfo:user1"), NewCacheKey(opGetCustomerInfo, "user1"))
	assert.Equal(t, CacheKey("logIn:old:new"), NewCacheKey(opLogIn, "old", "new"))
	assert.Equal(t, CacheKey("healthCheck"), NewCacheKey(opHealthCheck))
	assert.Equal(t, "logIn", operationName(NewCacheKey(opLogIn, "old", "new")))
}

func TestLogInKeysDistinguishUsers(t *testing.T) {
	assert.NotEqual(t, NewCacheKey(opLogIn, "old", "new1"), NewCacheKey(opLogIn, "old", "new2"))
	assert.NotEqual(t, NewCacheKey(opLogIn, "a", "b"), NewCacheKey(opLogIn, "b", "a"))
}

func TestReceiptKeys(t *testing.T) {
	base := ReceiptBody{
		FetchToken: "token",
		AppUserID:  "user1",
		ProductIDs: []string{"monthly"},
		Attributes: SubscriberAttributes{"$email": {Value: "a@b.c", UpdatedAtMs: 1}},
	}

	same := base
	same.Attributes = SubscriberAttributes{"$email": {Value: "a@b.c", UpdatedAtMs: 99}}
	assert.Equal(t, receiptKey(t, base), receiptKey(t, same), "attribute timestamps are volatile")

	withTransaction := base
	withTransaction.TransactionID = "tx-1"
	assert.NotEqual(t, receiptKey(t, base), receiptKey(t, withTransaction))

	otherTransaction := base
	otherTransaction.TransactionID = "tx-2"
	assert.NotEqual(t, receiptKey(t, withTransaction), receiptKey(t, otherTransaction))

	changedAttribute := base
	changedAttribute.Attributes = SubscriberAttributes{"$email": {Value: "x@b.c", UpdatedAtMs: 1}}
	assert.NotEqual(t, receiptKey(t, base), receiptKey(t, changedAttribute))

	otherUser := base
	otherUser.AppUserID = "user2"
	assert.NotEqual(t, receiptKey(t, base), receiptKey(t, otherUser))
}

func TestAttributeKeys(t *testing.T) {
	first := attributesKey(t, "user1", SubscriberAttributes{"$email": {Value: "a@b.c", UpdatedAtMs: 1}})
	second := attributesKey(t, "user1", SubscriberAttributes{"$email": {Value: "a@b.c", UpdatedAtMs: 2}})
	third := attributesKey(t, "user1", SubscriberAttributes{"$email": {Value: "x@b.c", UpdatedAtMs: 1}})
	fourth := attributesKey(t, "user2", SubscriberAttributes{"$email": {Value: "a@b.c", UpdatedAtMs: 1}})

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, third)
	assert.NotEqual(t, first, fourth)
	assert.Equal(t, opPostAttributes, operationName(first))
}

func TestBodyCacheKeyRejectsUnencodableBody(t *testing.T) {
	req := client.NewRequest(types.MethodPost, client.PostReceiptPath(), make(chan int))

	_, err := bodyCacheKey(opPostReceipt, req, "user1")
	assert.ErrorIs(t, err, types.ErrRequestBuildFailed)
	backendErr, ok := types.AsBackendError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindInternal, backendErr.Kind)
}
