package models

// SendMessageRequest is the payload for POST /messages/send. Channel and
// CANID are pointers so a missing field can be told apart from a zero value.
type SendMessageRequest struct {
	Channel *int   `json:"channel"`
	CANID   *int   `json:"can_id"`
	DLC     int    `json:"dlc"`
	Data    []int  `json:"data,omitempty"`
	Byte0   int    `json:"byte0"`
	Byte1   int    `json:"byte1"`
	Byte2   int    `json:"byte2"`
	Byte3   int    `json:"byte3"`
	Byte4   int    `json:"byte4"`
	Byte5   int    `json:"byte5"`
	Byte6   int    `json:"byte6"`
	Byte7   int    `json:"byte7"`
	Bitrate *int   `json:"bitrate,omitempty"`
}

// MonitorStartRequest is the payload for POST /monitoring/start.
type MonitorStartRequest struct {
	Channel  *int `json:"channel"`
	Duration int  `json:"duration"`
}

// StatusResponse is the generic success/info/error envelope.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ChannelsResponse lists every available channel.
type ChannelsResponse struct {
	Status        string        `json:"status"`
	TotalChannels int           `json:"total_channels"`
	Channels      []ChannelInfo `json:"channels"`
}

// MessagesResponse returns the captured message buffer.
type MessagesResponse struct {
	Status        string            `json:"status"`
	TotalMessages int               `json:"total_messages"`
	Messages      []CapturedMessage `json:"messages"`
}

// MonitoringStatusResponse is the capture registry snapshot.
type MonitoringStatusResponse struct {
	Status            string `json:"status"`
	MonitoringActive  bool   `json:"monitoring_active"`
	StoredMessages    int    `json:"stored_messages"`
	MaxStoredMessages int    `json:"max_stored_messages"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}
