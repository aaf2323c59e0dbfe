package models

import "time"

// App Store Server API and App Store Server Notifications V2 payloads.
// Timestamps are milliseconds since the epoch.

const (
	AppleEnvironmentProduction = "Production"
	AppleEnvironmentSandbox    = "Sandbox"
)

const (
	AppleTypeAutoRenewable = "Auto-Renewable Subscription"
	AppleTypeNonConsumable = "Non-Consumable"
	AppleTypeConsumable    = "Consumable"
	AppleTypeNonRenewing   = "Non-Renewing Subscription"
)

const (
	AppleOwnershipFamilyShared = "FAMILY_SHARED"
	AppleOwnershipPurchased    = "PURCHASED"
)

// JWSTransactionDecodedPayload is the payload of signedTransactionInfo.
type JWSTransactionDecodedPayload struct {
	AppAccountToken             string `json:"appAccountToken,omitempty"`
	BundleID                    string `json:"bundleId"`
	Currency                    string `json:"currency,omitempty"`
	Environment                 string `json:"environment"`
	ExpiresDate                 *int64 `json:"expiresDate,omitempty"`
	InAppOwnershipType          string `json:"inAppOwnershipType,omitempty"`
	IsUpgraded                  bool   `json:"isUpgraded,omitempty"`
	OfferDiscountType           string `json:"offerDiscountType,omitempty"`
	OfferIdentifier             string `json:"offerIdentifier,omitempty"`
	OfferType                   *int   `json:"offerType,omitempty"`
	OriginalPurchaseDate        *int64 `json:"originalPurchaseDate,omitempty"`
	OriginalTransactionID       string `json:"originalTransactionId"`
	Price                       *int64 `json:"price,omitempty"`
	ProductID                   string `json:"productId"`
	PurchaseDate                int64  `json:"purchaseDate"`
	Quantity                    int64  `json:"quantity,omitempty"`
	RevocationDate              *int64 `json:"revocationDate,omitempty"`
	RevocationReason            *int   `json:"revocationReason,omitempty"`
	SignedDate                  int64  `json:"signedDate"`
	Storefront                  string `json:"storefront,omitempty"`
	StorefrontID                string `json:"storefrontId,omitempty"`
	SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier,omitempty"`
	TransactionID               string `json:"transactionId"`
	TransactionReason           string `json:"transactionReason,omitempty"`
	Type                        string `json:"type,omitempty"`
	WebOrderLineItemID          string `json:"webOrderLineItemId,omitempty"`
}

// JWSRenewalInfoDecodedPayload is the payload of signedRenewalInfo.
type JWSRenewalInfoDecodedPayload struct {
	AutoRenewProductID          string   `json:"autoRenewProductId"`
	AutoRenewStatus             int      `json:"autoRenewStatus"`
	Currency                    string   `json:"currency,omitempty"`
	EligibleWinBackOfferIDs     []string `json:"eligibleWinBackOfferIds,omitempty"`
	Environment                 string   `json:"environment"`
	ExpirationIntent            *int     `json:"expirationIntent,omitempty"`
	GracePeriodExpiresDate      *int64   `json:"gracePeriodExpiresDate,omitempty"`
	IsInBillingRetryPeriod      bool     `json:"isInBillingRetryPeriod,omitempty"`
	OfferIdentifier             string   `json:"offerIdentifier,omitempty"`
	OfferType                   *int     `json:"offerType,omitempty"`
	OriginalTransactionID       string   `json:"originalTransactionId,omitempty"`
	PriceIncreaseStatus         *int     `json:"priceIncreaseStatus,omitempty"`
	ProductID                   string   `json:"productId"`
	RecentSubscriptionStartDate *int64   `json:"recentSubscriptionStartDate,omitempty"`
	RenewalDate                 *int64   `json:"renewalDate,omitempty"`
	RenewalPrice                *int64   `json:"renewalPrice,omitempty"`
	SignedDate                  int64    `json:"signedDate"`
}

// TransactionInfoResponse is returned by GET /inApps/v1/transactions/{id}.
type TransactionInfoResponse struct {
	SignedTransactionInfo string `json:"signedTransactionInfo"`
}

// SendTestNotificationResponse is returned by POST /inApps/v1/notifications/test.
type SendTestNotificationResponse struct {
	TestNotificationToken string `json:"testNotificationToken"`
}

// ResponseBodyV2 is the body Apple POSTs to the notification endpoint.
type ResponseBodyV2 struct {
	SignedPayload string `json:"signedPayload"`
}

// Apple notification types and subtypes.
const (
	AppleNotificationConsumptionRequest     = "CONSUMPTION_REQUEST"
	AppleNotificationDidChangeRenewalPref   = "DID_CHANGE_RENEWAL_PREF"
	AppleNotificationDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	AppleNotificationDidFailToRenew         = "DID_FAIL_TO_RENEW"
	AppleNotificationDidRenew               = "DID_RENEW"
	AppleNotificationExpired                = "EXPIRED"
	AppleNotificationExternalPurchaseToken  = "EXTERNAL_PURCHASE_TOKEN"
	AppleNotificationGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	AppleNotificationOfferRedeemed          = "OFFER_REDEEMED"
	AppleNotificationOneTimeCharge          = "ONE_TIME_CHARGE"
	AppleNotificationPriceIncrease          = "PRICE_INCREASE"
	AppleNotificationRefund                 = "REFUND"
	AppleNotificationRefundDeclined         = "REFUND_DECLINED"
	AppleNotificationRefundReversed         = "REFUND_REVERSED"
	AppleNotificationRenewalExtended        = "RENEWAL_EXTENDED"
	AppleNotificationRenewalExtension       = "RENEWAL_EXTENSION"
	AppleNotificationRevoke                 = "REVOKE"
	AppleNotificationSubscribed             = "SUBSCRIBED"
	AppleNotificationTest                   = "TEST"

	AppleSubtypeAccepted          = "ACCEPTED"
	AppleSubtypeAutoRenewDisabled = "AUTO_RENEW_DISABLED"
	AppleSubtypeAutoRenewEnabled  = "AUTO_RENEW_ENABLED"
	AppleSubtypeBillingRecovery   = "BILLING_RECOVERY"
	AppleSubtypeBillingRetry      = "BILLING_RETRY"
	AppleSubtypeDowngrade         = "DOWNGRADE"
	AppleSubtypeFailure           = "FAILURE"
	AppleSubtypeGracePeriod       = "GRACE_PERIOD"
	AppleSubtypeInitialBuy        = "INITIAL_BUY"
	AppleSubtypePending           = "PENDING"
	AppleSubtypePriceIncrease     = "PRICE_INCREASE"
	AppleSubtypeProductNotForSale = "PRODUCT_NOT_FOR_SALE"
	AppleSubtypeResubscribe       = "RESUBSCRIBE"
	AppleSubtypeSummary           = "SUMMARY"
	AppleSubtypeUpgrade           = "UPGRADE"
	AppleSubtypeUnreported        = "UNREPORTED"
	AppleSubtypeVoluntary         = "VOLUNTARY"
)

// ResponseBodyV2DecodedPayload is the verified payload of signedPayload.
// At most one of Data, Summary and ExternalPurchaseToken is present.
type ResponseBodyV2DecodedPayload struct {
	NotificationType      string                      `json:"notificationType"`
	Subtype               string                      `json:"subtype,omitempty"`
	Data                  *AppleNotificationData      `json:"data,omitempty"`
	Summary               *AppleNotificationSummary   `json:"summary,omitempty"`
	ExternalPurchaseToken *AppleExternalPurchaseToken `json:"externalPurchaseToken,omitempty"`
	Version               string                      `json:"version"`
	SignedDate            int64                       `json:"signedDate"`
	NotificationUUID      string                      `json:"notificationUUID"`
}

type AppleNotificationData struct {
	AppAppleID               int64  `json:"appAppleId,omitempty"`
	BundleID                 string `json:"bundleId"`
	BundleVersion            string `json:"bundleVersion,omitempty"`
	ConsumptionRequestReason string `json:"consumptionRequestReason,omitempty"`
	Environment              string `json:"environment"`
	SignedRenewalInfo        string `json:"signedRenewalInfo,omitempty"`
	SignedTransactionInfo    string `json:"signedTransactionInfo,omitempty"`
	Status                   *int   `json:"status,omitempty"`
}

type AppleNotificationSummary struct {
	RequestIdentifier      string   `json:"requestIdentifier"`
	Environment            string   `json:"environment"`
	AppAppleID             int64    `json:"appAppleId,omitempty"`
	BundleID               string   `json:"bundleId"`
	ProductID              string   `json:"productId"`
	StorefrontCountryCodes []string `json:"storefrontCountryCodes,omitempty"`
	FailedCount            int64    `json:"failedCount"`
	SucceededCount         int64    `json:"succeededCount"`
}

type AppleExternalPurchaseToken struct {
	ExternalPurchaseID string `json:"externalPurchaseId"`
	TokenCreationDate  int64  `json:"tokenCreationDate"`
	AppAppleID         int64  `json:"appAppleId,omitempty"`
	BundleID           string `json:"bundleId"`
}

// MillisToTime converts an App Store millisecond timestamp.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
