// internal/workers/orders/sync-order-sheet/models.go
package syncordersheet

type Input struct {
	// Limit caps how many pending orders one job appends; zero uses the
	// configured batch size.
	Limit int `json:"limit,omitempty"`
}

type Output struct {
	Synced   int    `json:"synced"`
	SyncedAt string `json:"syncedAt"`
}

const inputSchema = `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "minimum": 0, "maximum": 1000}
  }
}`
