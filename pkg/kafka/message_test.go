package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntakeMessage(t *testing.T) {
	tests := []struct {
		name           string
		value          string
		headers        map[string]string
		expectedErr    string
		expectedSource string
	}{
		{
			name:           "complete message",
			value:          `{"source": "web-form", "contact_name": "Pat Smith", "cat_count": 3}`,
			expectedSource: "web-form",
		},
		{
			name:           "source falls back to the header",
			value:          `{"contact_name": "Pat Smith"}`,
			headers:        map[string]string{"source": "hotline"},
			expectedSource: "hotline",
		},
		{
			name:        "missing source everywhere",
			value:       `{"contact_name": "Pat Smith"}`,
			expectedErr: "intake message missing source",
		},
		{
			name:        "missing contact name",
			value:       `{"source": "web-form"}`,
			expectedErr: "intake message missing contact_name",
		},
		{
			name:        "malformed json",
			value:       `{"source": `,
			expectedErr: "unexpected end of JSON input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &IncomingMessage{
				Value:   []byte(tt.value),
				Headers: tt.headers,
			}

			err := msg.ParseIntakeMessage()
			if tt.expectedErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErr)
				assert.Nil(t, msg.Intake)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, msg.Intake)
			assert.Equal(t, tt.expectedSource, msg.Intake.Source)
			assert.Equal(t, "Pat Smith", msg.Intake.ContactName)
		})
	}
}

func TestGetSource(t *testing.T) {
	unparsed := &IncomingMessage{
		Headers: map[string]string{"source": "hotline"},
	}
	assert.Equal(t, "hotline", unparsed.GetSource(), "unparsed messages fall back to the header")

	parsed := &IncomingMessage{
		Value:   []byte(`{"source": "web-form", "contact_name": "Pat"}`),
		Headers: map[string]string{"source": "hotline"},
	}
	require.NoError(t, parsed.ParseIntakeMessage())
	assert.Equal(t, "web-form", parsed.GetSource(), "the parsed payload wins over the header")
}
