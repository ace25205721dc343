package realtime

// State is the lifecycle position of the push channel.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateReconnecting State = "reconnecting"
	StateGaveUp       State = "gave_up"
)

// Status is the externally visible snapshot of the client.
type Status struct {
	State    State `json:"state"`
	Attempts int   `json:"attempts"`
}
