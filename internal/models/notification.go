package models

import (
	"encoding/json"
	"time"
)

// IapUpdateNotification is a vendor notification mapped into the common model.
type IapUpdateNotification struct {
	NotificationID string              `json:"notification_id"`
	Time           time.Time           `json:"time"`
	Details        NotificationDetails `json:"details"`
}

func (n IapUpdateNotification) MarshalJSON() ([]byte, error) {
	type details struct {
		Kind NotificationKind    `json:"kind"`
		Data NotificationDetails `json:"data,omitempty"`
	}
	out := struct {
		NotificationID string    `json:"notification_id"`
		Time           time.Time `json:"time"`
		Details        details   `json:"details"`
	}{NotificationID: n.NotificationID, Time: n.Time}
	if n.Details != nil {
		out.Details = details{Kind: n.Details.Kind(), Data: n.Details}
	}
	return json.Marshal(out)
}

// NotificationKind is the wire name of a NotificationDetails variant.
type NotificationKind string

const (
	NotificationKindTest                         NotificationKind = "test"
	NotificationKindConsumableVoided             NotificationKind = "consumable_voided"
	NotificationKindNonConsumableVoided          NotificationKind = "non_consumable_voided"
	NotificationKindUnknownOneTimePurchaseVoided NotificationKind = "unknown_one_time_purchase_voided"
	NotificationKindSubscriptionStarted          NotificationKind = "subscription_started"
	NotificationKindSubscriptionEnded            NotificationKind = "subscription_ended"
	NotificationKindSubscriptionExpiryChanged    NotificationKind = "subscription_expiry_changed"
	NotificationKindOther                        NotificationKind = "other"
)

// NotificationDetails is a closed union; only the types in this file
// implement it.
type NotificationDetails interface {
	Kind() NotificationKind
	isNotificationDetails()
}

type TestNotification struct{}

type ConsumableVoided struct {
	ApplicationID string     `json:"application_id"`
	ProductID     ProductID  `json:"product_id"`
	PurchaseID    PurchaseID `json:"purchase_id"`
	Details       IapDetails `json:"details"`
	IsRefunded    bool       `json:"is_refunded"`
	Reason        *string    `json:"reason,omitempty"`
}

type NonConsumableVoided struct {
	ApplicationID string     `json:"application_id"`
	ProductID     ProductID  `json:"product_id"`
	PurchaseID    PurchaseID `json:"purchase_id"`
	Details       IapDetails `json:"details"`
	IsRefunded    bool       `json:"is_refunded"`
	Reason        *string    `json:"reason,omitempty"`
}

// UnknownOneTimePurchaseVoided is emitted when the vendor does not say
// whether the voided one-time purchase was consumable.
type UnknownOneTimePurchaseVoided struct {
	ApplicationID string     `json:"application_id"`
	PurchaseID    PurchaseID `json:"purchase_id"`
	IsRefunded    bool       `json:"is_refunded"`
	Reason        *string    `json:"reason,omitempty"`
}

type SubscriptionStarted struct {
	ApplicationID string     `json:"application_id"`
	ProductID     ProductID  `json:"product_id"`
	PurchaseID    PurchaseID `json:"purchase_id"`
	Details       IapDetails `json:"details"`
}

type SubscriptionEnded struct {
	ApplicationID string                `json:"application_id"`
	ProductID     ProductID             `json:"product_id"`
	PurchaseID    PurchaseID            `json:"purchase_id"`
	Details       IapDetails            `json:"details"`
	Reason        SubscriptionEndReason `json:"reason"`
}

type SubscriptionExpiryChanged struct {
	ApplicationID string     `json:"application_id"`
	ProductID     ProductID  `json:"product_id"`
	PurchaseID    PurchaseID `json:"purchase_id"`
	Details       IapDetails `json:"details"`
	// RenewalID is set when the change was caused by a successful renewal.
	RenewalID *string `json:"renewal_id,omitempty"`
}

type OtherNotification struct{}

func (TestNotification) Kind() NotificationKind { return NotificationKindTest }
func (ConsumableVoided) Kind() NotificationKind { return NotificationKindConsumableVoided }
func (NonConsumableVoided) Kind() NotificationKind {
	return NotificationKindNonConsumableVoided
}
func (UnknownOneTimePurchaseVoided) Kind() NotificationKind {
	return NotificationKindUnknownOneTimePurchaseVoided
}
func (SubscriptionStarted) Kind() NotificationKind { return NotificationKindSubscriptionStarted }
func (SubscriptionEnded) Kind() NotificationKind   { return NotificationKindSubscriptionEnded }
func (SubscriptionExpiryChanged) Kind() NotificationKind {
	return NotificationKindSubscriptionExpiryChanged
}
func (OtherNotification) Kind() NotificationKind { return NotificationKindOther }

func (TestNotification) isNotificationDetails()             {}
func (ConsumableVoided) isNotificationDetails()             {}
func (NonConsumableVoided) isNotificationDetails()          {}
func (UnknownOneTimePurchaseVoided) isNotificationDetails() {}
func (SubscriptionStarted) isNotificationDetails()          {}
func (SubscriptionEnded) isNotificationDetails()            {}
func (SubscriptionExpiryChanged) isNotificationDetails()    {}
func (OtherNotification) isNotificationDetails()            {}

// EndReasonKind enumerates why a subscription ended.
type EndReasonKind string

const (
	EndReasonPaused                EndReasonKind = "paused"
	EndReasonCancelled             EndReasonKind = "cancelled"
	EndReasonFailedToRenew         EndReasonKind = "failed_to_renew"
	EndReasonVoided                EndReasonKind = "voided"
	EndReasonDeclinedPriceIncrease EndReasonKind = "declined_price_increase"
	EndReasonUnknown               EndReasonKind = "unknown"
)

// SubscriptionEndReason carries Details only for Cancelled and IsRefunded
// only for Voided.
type SubscriptionEndReason struct {
	Kind       EndReasonKind `json:"kind"`
	Details    *string       `json:"details,omitempty"`
	IsRefunded bool          `json:"is_refunded,omitempty"`
}
