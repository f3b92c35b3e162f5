// internal/workers/orders/create-shipment/models.go
package createshipment

type Input struct {
	OrderID string `json:"orderId"`
	Note    string `json:"note,omitempty"`
}

type Output struct {
	OrderID          string `json:"orderId"`
	TrackingCode     string `json:"trackingCode"`
	Fee              int64  `json:"shippingFee"`
	ExpectedDelivery string `json:"expectedDelivery,omitempty"`
	Status           string `json:"orderStatus"`
	// AlreadyShipped is set when the order carried a tracking code before
	// this job ran.
	AlreadyShipped bool `json:"alreadyShipped"`
}

const inputSchema = `{
  "type": "object",
  "required": ["orderId"],
  "properties": {
    "orderId": {"type": "string", "minLength": 1},
    "note": {"type": "string", "maxLength": 500}
  }
}`
