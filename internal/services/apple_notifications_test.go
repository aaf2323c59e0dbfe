package services

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iaperrors "iapBack/internal/errors"
	"iapBack/internal/models"
)

func signedNotificationBody(t *testing.T, chain *testAppleChain, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(models.ResponseBodyV2{SignedPayload: chain.sign(t, withAud(t, payload))})
	require.NoError(t, err)
	return body
}

func renewalPayload(signedTxn, signedRenewal string) models.ResponseBodyV2DecodedPayload {
	return models.ResponseBodyV2DecodedPayload{
		NotificationType: models.AppleNotificationDidRenew,
		NotificationUUID: "002e14d5-51f5-4503-b5a8-c3a1af68eb20",
		Version:          "2.0",
		SignedDate:       testNow.UnixMilli(),
		Data: &models.AppleNotificationData{
			BundleID:              "com.example.app",
			Environment:           models.AppleEnvironmentProduction,
			SignedTransactionInfo: signedTxn,
			SignedRenewalInfo:     signedRenewal,
		},
	}
}

func TestAppleNotificationParserCompactNestedPayloads(t *testing.T) {
	chain := newTestAppleChain(t)
	txn := appleTxn(models.AppleTypeAutoRenewable)
	renewal := models.JWSRenewalInfoDecodedPayload{AutoRenewProductID: "pro_monthly", AutoRenewStatus: 1, ProductID: "pro_monthly"}
	body := signedNotificationBody(t, chain, renewalPayload(chain.sign(t, txn), chain.sign(t, renewal)))

	got, err := NewAppleNotificationParser(chain.verifier(), "").Parse(body)
	require.NoError(t, err)
	assert.Equal(t, models.AppleNotificationDidRenew, got.Payload.NotificationType)
	require.NotNil(t, got.Transaction)
	assert.Equal(t, txn.TransactionID, got.Transaction.TransactionID)
	require.NotNil(t, got.Renewal)
	assert.Equal(t, 1, got.Renewal.AutoRenewStatus)
}

func TestAppleNotificationParserGeneralJSONNestedPayload(t *testing.T) {
	chain := newTestAppleChain(t)
	raw, err := json.Marshal(appleTxn(models.AppleTypeConsumable))
	require.NoError(t, err)
	body := signedNotificationBody(t, chain, renewalPayload(generalJWS(string(raw)), ""))

	got, err := NewAppleNotificationParser(chain.verifier(), "").Parse(body)
	require.NoError(t, err)
	require.NotNil(t, got.Transaction)
	assert.Equal(t, models.AppleTypeConsumable, got.Transaction.Type)
	assert.Nil(t, got.Renewal)
}

func TestAppleNotificationParserTestNotification(t *testing.T) {
	chain := newTestAppleChain(t)
	body := signedNotificationBody(t, chain, models.ResponseBodyV2DecodedPayload{
		NotificationType: models.AppleNotificationTest,
		NotificationUUID: "9ad56bd2-0bc6-42e0-af24-fd996d87a1e6",
	})

	got, err := NewAppleNotificationParser(chain.verifier(), "").Parse(body)
	require.NoError(t, err)
	assert.Nil(t, got.Transaction)
	assert.Nil(t, got.Payload.Data)
}

func TestAppleNotificationParserErrors(t *testing.T) {
	chain := newTestAppleChain(t)
	parser := NewAppleNotificationParser(chain.verifier(), "")

	_, err := parser.Parse([]byte(`{"signedPayload":`))
	assert.True(t, errors.Is(err, iaperrors.ErrParse), "malformed envelope")

	_, err = parser.Parse([]byte(`{}`))
	assert.True(t, errors.Is(err, iaperrors.ErrParse), "missing signedPayload")

	forged := signedNotificationBody(t, newTestAppleChain(t), renewalPayload("", ""))
	_, err = parser.Parse(forged)
	assert.True(t, errors.Is(err, iaperrors.ErrInvalidAppleSignature), "untrusted chain")

	both := renewalPayload("", "")
	both.Summary = &models.AppleNotificationSummary{RequestIdentifier: "r-1"}
	_, err = parser.Parse(signedNotificationBody(t, chain, both))
	assert.True(t, errors.Is(err, iaperrors.ErrParse), "data and summary")

	badNested := renewalPayload("not.a.jws", "")
	_, err = parser.Parse(signedNotificationBody(t, chain, badNested))
	assert.True(t, errors.Is(err, iaperrors.ErrInvalidJWS), "nested garbage")
}

func TestAppleNotificationParserAudience(t *testing.T) {
	chain := newTestAppleChain(t)
	body := signedNotificationBody(t, chain, renewalPayload("", ""))

	_, err := NewAppleNotificationParser(chain.verifier(), "com.example.other-audience").Parse(body)
	assert.True(t, errors.Is(err, iaperrors.ErrInvalidAppleSignature))
}

func appleEvent(notificationType, subtype string, txn *models.JWSTransactionDecodedPayload) *AppleNotification {
	p := models.ResponseBodyV2DecodedPayload{
		NotificationType: notificationType,
		Subtype:          subtype,
		NotificationUUID: "uuid-" + notificationType,
		SignedDate:       testNow.UnixMilli(),
	}
	if txn != nil {
		p.Data = &models.AppleNotificationData{BundleID: "com.example.app"}
	}
	return &AppleNotification{Payload: p, Transaction: txn}
}

func subscriptionTxn() *models.JWSTransactionDecodedPayload {
	txn := appleTxn(models.AppleTypeAutoRenewable)
	txn.ExpiresDate = ptr(testNow.Add(30 * 24 * time.Hour).UnixMilli())
	return txn
}

func TestAppleNotificationDispatchTable(t *testing.T) {
	cases := []struct {
		typ, subtype string
		kind         models.NotificationKind
		reason       models.EndReasonKind
	}{
		{models.AppleNotificationTest, "", models.NotificationKindTest, ""},
		{models.AppleNotificationSubscribed, models.AppleSubtypeInitialBuy, models.NotificationKindSubscriptionStarted, ""},
		{models.AppleNotificationSubscribed, models.AppleSubtypeResubscribe, models.NotificationKindSubscriptionStarted, ""},
		{models.AppleNotificationDidRenew, "", models.NotificationKindSubscriptionExpiryChanged, ""},
		{models.AppleNotificationDidRenew, models.AppleSubtypeBillingRecovery, models.NotificationKindSubscriptionExpiryChanged, ""},
		{models.AppleNotificationDidFailToRenew, models.AppleSubtypeGracePeriod, models.NotificationKindSubscriptionExpiryChanged, ""},
		{models.AppleNotificationRefundReversed, "", models.NotificationKindSubscriptionExpiryChanged, ""},
		{models.AppleNotificationRenewalExtended, "", models.NotificationKindSubscriptionExpiryChanged, ""},
		{models.AppleNotificationDidFailToRenew, "", models.NotificationKindSubscriptionEnded, models.EndReasonUnknown},
		{models.AppleNotificationDidFailToRenew, models.AppleSubtypeBillingRetry, models.NotificationKindSubscriptionEnded, models.EndReasonFailedToRenew},
		{models.AppleNotificationExpired, models.AppleSubtypeVoluntary, models.NotificationKindSubscriptionEnded, models.EndReasonCancelled},
		{models.AppleNotificationExpired, models.AppleSubtypeBillingRetry, models.NotificationKindSubscriptionEnded, models.EndReasonFailedToRenew},
		{models.AppleNotificationExpired, models.AppleSubtypePriceIncrease, models.NotificationKindSubscriptionEnded, models.EndReasonDeclinedPriceIncrease},
		{models.AppleNotificationExpired, models.AppleSubtypeProductNotForSale, models.NotificationKindSubscriptionEnded, models.EndReasonUnknown},
		{models.AppleNotificationGracePeriodExpired, "", models.NotificationKindSubscriptionEnded, models.EndReasonFailedToRenew},
		{models.AppleNotificationRefund, "", models.NotificationKindSubscriptionEnded, models.EndReasonVoided},
		{models.AppleNotificationRevoke, "", models.NotificationKindSubscriptionEnded, models.EndReasonVoided},
		// Vendor-taxonomy sensitive: RENEWAL_EXTENSION and CONSUMPTION_REQUEST
		// do not move the expiry, RENEWAL_EXTENDED does.
		{models.AppleNotificationRenewalExtension, models.AppleSubtypeSummary, models.NotificationKindOther, ""},
		{models.AppleNotificationConsumptionRequest, "", models.NotificationKindOther, ""},
		{models.AppleNotificationDidChangeRenewalPref, models.AppleSubtypeUpgrade, models.NotificationKindOther, ""},
		{models.AppleNotificationDidChangeRenewalStatus, models.AppleSubtypeAutoRenewDisabled, models.NotificationKindOther, ""},
		{models.AppleNotificationOfferRedeemed, "", models.NotificationKindOther, ""},
		{models.AppleNotificationPriceIncrease, models.AppleSubtypePending, models.NotificationKindOther, ""},
		{models.AppleNotificationRefundDeclined, "", models.NotificationKindOther, ""},
		{models.AppleNotificationExternalPurchaseToken, models.AppleSubtypeUnreported, models.NotificationKindOther, ""},
		{models.AppleNotificationOneTimeCharge, "", models.NotificationKindOther, ""},
		{"SOMETHING_NEW", "", models.NotificationKindOther, ""},
	}
	for _, tc := range cases {
		name := tc.typ + "/" + tc.subtype
		n, err := mapAppleNotification(appleEvent(tc.typ, tc.subtype, subscriptionTxn()), testNow)
		require.NoError(t, err, name)
		require.NotNil(t, n.Details, name)
		assert.Equal(t, tc.kind, n.Details.Kind(), name)
		assert.Equal(t, "uuid-"+tc.typ, n.NotificationID, name)
		if tc.reason != "" {
			ended, ok := n.Details.(models.SubscriptionEnded)
			require.True(t, ok, name)
			assert.Equal(t, tc.reason, ended.Reason.Kind, name)
		}
	}
}

func TestAppleDidRenewCarriesRenewalID(t *testing.T) {
	txn := subscriptionTxn()
	txn.TransactionID = "2000000999"

	n, err := mapAppleNotification(appleEvent(models.AppleNotificationDidRenew, "", txn), testNow)
	require.NoError(t, err)
	changed, ok := n.Details.(models.SubscriptionExpiryChanged)
	require.True(t, ok)
	require.NotNil(t, changed.RenewalID)
	assert.Equal(t, "2000000999", *changed.RenewalID)
	assert.Equal(t, models.AppStoreTransactionID(txn.OriginalTransactionID), changed.PurchaseID)
	assert.Equal(t, models.SubscriptionID("pro_monthly"), changed.ProductID)

	n, err = mapAppleNotification(appleEvent(models.AppleNotificationRenewalExtended, "", txn), testNow)
	require.NoError(t, err)
	assert.Nil(t, n.Details.(models.SubscriptionExpiryChanged).RenewalID)
}

func TestAppleRefundDispatchesOnProductType(t *testing.T) {
	consumable := appleTxn(models.AppleTypeConsumable)
	consumable.RevocationReason = ptr(1)
	n, err := mapAppleNotification(appleEvent(models.AppleNotificationRefund, "", consumable), testNow)
	require.NoError(t, err)
	cv, ok := n.Details.(models.ConsumableVoided)
	require.True(t, ok)
	assert.True(t, cv.IsRefunded)
	assert.False(t, cv.Details.IsActive)
	require.NotNil(t, cv.Reason)

	nonConsumable := appleTxn(models.AppleTypeNonConsumable)
	n, err = mapAppleNotification(appleEvent(models.AppleNotificationRevoke, "", nonConsumable), testNow)
	require.NoError(t, err)
	nv, ok := n.Details.(models.NonConsumableVoided)
	require.True(t, ok)
	assert.False(t, nv.IsRefunded, "family sharing revocation is not a refund")

	n, err = mapAppleNotification(appleEvent(models.AppleNotificationRefund, "", subscriptionTxn()), testNow)
	require.NoError(t, err)
	ended := n.Details.(models.SubscriptionEnded)
	assert.Equal(t, models.SubscriptionEndReason{Kind: models.EndReasonVoided, IsRefunded: true}, ended.Reason)
}

func TestAppleNotificationMissingTransaction(t *testing.T) {
	for _, typ := range []string{
		models.AppleNotificationSubscribed,
		models.AppleNotificationDidRenew,
		models.AppleNotificationExpired,
		models.AppleNotificationRefund,
	} {
		_, err := mapAppleNotification(appleEvent(typ, "", nil), testNow)
		assert.True(t, errors.Is(err, iaperrors.ErrInvalidResponse), typ)
	}

	n, err := mapAppleNotification(appleEvent(models.AppleNotificationConsumptionRequest, "", nil), testNow)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationKindOther, n.Details.Kind())
}
