package messaging

import "context"

// HealthChecker reports the state of a broker connection.
type HealthChecker interface {
	IsConnected() bool
}

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// CheckClientHealth inspects the connection state of client.
func CheckClientHealth(ctx context.Context, client HealthChecker) HealthStatus {
	status := HealthStatus{}

	if client == nil {
		status.Error = "client is nil"
		return status
	}
	if err := ctx.Err(); err != nil {
		status.Error = err.Error()
		return status
	}

	status.Connected = client.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
	}
	return status
}
