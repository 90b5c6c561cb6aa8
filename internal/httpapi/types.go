package httpapi

// Response is the envelope every endpoint returns, grounded on the
// pack's gin-based KV server response shape.
type Response struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Metadata *Metadata   `json:"metadata,omitempty"`
	Error    *APIError   `json:"error,omitempty"`
}

type Metadata struct {
	Version         string  `json:"version"`
	ExecutionTimeMs float64 `json:"execution_time_ms"`
	Timestamp       string  `json:"timestamp"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PutRequest is the body of PUT /kv/:key. Value is base64-free: it is
// carried as a JSON string, so binary values are out of scope for this
// demo surface (the core engine itself has no such restriction).
type PutRequest struct {
	Value string `json:"value" binding:"required"`
}

type KVEntry struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}
