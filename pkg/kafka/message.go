package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/feralops/clowder/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	Intake *models.IntakeMessage
}

// ParseIntakeMessage parses the message value as an intake submission
func (m *IncomingMessage) ParseIntakeMessage() error {
	var msg models.IntakeMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	if msg.Source == "" {
		msg.Source = m.Headers["source"]
	}
	if msg.Source == "" {
		return fmt.Errorf("intake message missing source")
	}
	if msg.ContactName == "" {
		return fmt.Errorf("intake message missing contact_name")
	}
	m.Intake = &msg
	return nil
}

// GetSource returns the originating system for the submission
func (m *IncomingMessage) GetSource() string {
	if m.Intake != nil && m.Intake.Source != "" {
		return m.Intake.Source
	}
	return m.Headers["source"]
}
