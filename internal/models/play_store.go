package models

// Google Play Developer API enumerations used by the normalizer. The REST
// payloads themselves are the androidpublisher/v3 types.

const (
	PlayPurchaseStatePurchased = 0
	PlayPurchaseStateCanceled  = 1
	PlayPurchaseStatePending   = 2

	PlayPurchaseTypeTest     = 0
	PlayPurchaseTypePromo    = 1
	PlayPurchaseTypeRewarded = 2

	PlayConsumptionStateConsumed = 1
	PlayAcknowledgementStateDone = 1
)

const (
	PlaySubscriptionStateActive        = "SUBSCRIPTION_STATE_ACTIVE"
	PlaySubscriptionStateCanceled      = "SUBSCRIPTION_STATE_CANCELED"
	PlaySubscriptionStateInGracePeriod = "SUBSCRIPTION_STATE_IN_GRACE_PERIOD"
	PlaySubscriptionStateOnHold        = "SUBSCRIPTION_STATE_ON_HOLD"
	PlaySubscriptionStatePaused        = "SUBSCRIPTION_STATE_PAUSED"
	PlaySubscriptionStateExpired       = "SUBSCRIPTION_STATE_EXPIRED"
	PlaySubscriptionStatePending       = "SUBSCRIPTION_STATE_PENDING"

	PlayAcknowledgementStateAcknowledged = "ACKNOWLEDGEMENT_STATE_ACKNOWLEDGED"
	PlayAcknowledgementStatePending      = "ACKNOWLEDGEMENT_STATE_PENDING"
)
