package mail

import (
	"testing"

	"github.com/yourusername/chartsnap/pkg/model"
)

func TestInterpolateTemplate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		vars     map[string]string
		expected string
	}{
		{
			name:     "single placeholder",
			text:     "Chart for {{snapshot.name}}",
			vars:     map[string]string{"snapshot.name": "weekly revenue"},
			expected: "Chart for weekly revenue",
		},
		{
			name: "multiple placeholders",
			text: "{{snapshot.name}} ({{chart.type}})",
			vars: map[string]string{
				"snapshot.name": "sales",
				"chart.type":    "bar",
			},
			expected: "sales (bar)",
		},
		{
			name:     "unknown placeholder left intact",
			text:     "Hello {{unknown}}",
			vars:     map[string]string{"snapshot.name": "x"},
			expected: "Hello {{unknown}}",
		},
		{
			name:     "no placeholders",
			text:     "plain text",
			vars:     map[string]string{"snapshot.name": "x"},
			expected: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InterpolateTemplate(tt.text, tt.vars)
			if got != tt.expected {
				t.Errorf("InterpolateTemplate() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSendChartValidation(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n")

	t.Run("no recipients", func(t *testing.T) {
		mailer := NewMailer(model.SMTPConfig{Host: "smtp.example.com", Port: 587})
		err := mailer.SendChart(model.Recipients{}, "subject", "body", png, "chart.png")
		if err == nil {
			t.Error("expected error for empty recipients")
		}
	})

	t.Run("no host", func(t *testing.T) {
		mailer := NewMailer(model.SMTPConfig{})
		err := mailer.SendChart(model.Recipients{To: []string{"a@example.com"}}, "subject", "body", png, "chart.png")
		if err == nil {
			t.Error("expected error for missing SMTP host")
		}
	})
}
