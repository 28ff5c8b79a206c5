package backend

import (
	"github.com/saiset-co/sai-backend/utils"
)

type SubscriberAttribute struct {
	Value       string `json:"value"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// SubscriberAttributes maps attribute names to values. Update timestamps
// are volatile and never distinguish two requests.
type SubscriberAttributes map[string]SubscriberAttribute

func (a SubscriberAttributes) identity() map[string]string {
	values := make(map[string]string, len(a))
	for name, attr := range a {
		values[name] = attr.Value
	}
	return values
}

type LogInBody struct {
	AppUserID    string `json:"app_user_id"`
	NewAppUserID string `json:"new_app_user_id"`
}

type ReceiptBody struct {
	FetchToken          string               `json:"fetch_token"`
	AppUserID           string               `json:"app_user_id"`
	ProductIDs          []string             `json:"product_ids,omitempty"`
	TransactionID       string               `json:"transaction_id,omitempty"`
	PresentedOfferingID string               `json:"presented_offering_identifier,omitempty"`
	IsRestore           bool                 `json:"is_restore"`
	ObserverMode        bool                 `json:"observer_mode"`
	Price               float64              `json:"price,omitempty"`
	Currency            string               `json:"currency,omitempty"`
	Attributes          SubscriberAttributes `json:"attributes,omitempty"`
}

func (b ReceiptBody) CacheIdentityBody() interface{} {
	body, err := utils.StripFields(b, "attributes")
	if err != nil {
		return b
	}
	if len(b.Attributes) > 0 {
		body["attributes"] = b.Attributes.identity()
	}
	return body
}

type AttributesBody struct {
	Attributes SubscriberAttributes `json:"attributes"`
}

func (b AttributesBody) CacheIdentityBody() interface{} {
	return map[string]interface{}{"attributes": b.Attributes.identity()}
}

type DiagnosticsEntry map[string]interface{}

type DiagnosticsBody struct {
	Entries []DiagnosticsEntry `json:"entries"`
}
