package llm

import (
	"time"

	"github.com/sirupsen/logrus"
)

// NewLLMClient returns a MockClient when mock is set, otherwise a real HTTP client.
func NewLLMClient(log logrus.FieldLogger, mock bool, baseURL, apiKey string, timeout time.Duration) Client {
	if mock {
		log.Warn("PRISM_MODE=MOCK detected, using mock completion client")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
