package health

import "time"

type healthResponse struct {
	Status      string    `json:"status"`
	Storage     string    `json:"storage"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}
