package logging

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// RedactHook masks registered secrets in log messages and string fields.
type RedactHook struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewRedactHook() *RedactHook {
	return &RedactHook{secrets: make(map[string]string)}
}

// Register adds a secret. Empty strings are ignored.
func (h *RedactHook) Register(secret string) {
	if secret == "" {
		return
	}
	h.mu.Lock()
	h.secrets[secret] = Mask(secret)
	h.mu.Unlock()
}

func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *RedactHook) Fire(entry *logrus.Entry) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.secrets) == 0 {
		return nil
	}

	entry.Message = h.redact(entry.Message)
	for k, v := range entry.Data {
		if s, ok := v.(string); ok {
			entry.Data[k] = h.redact(s)
		}
	}
	return nil
}

func (h *RedactHook) redact(s string) string {
	for secret, masked := range h.secrets {
		s = strings.ReplaceAll(s, secret, masked)
	}
	return s
}

// Mask keeps the first two characters of s.
func Mask(s string) string {
	if len(s) <= 2 {
		return "…"
	}
	return s[:2] + "…"
}
