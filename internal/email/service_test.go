package email

import (
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if got := svc.IsConfigured(); got != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSendEmailUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"a@b.com"}, "subject", "body"); err == nil {
		t.Error("sending without configuration should fail")
	}
	if err := svc.SendHTMLEmail([]string{"a@b.com"}, "subject", "<p>body</p>"); err == nil {
		t.Error("sending without configuration should fail")
	}
}

func TestWelcomeTemplateRenders(t *testing.T) {
	html, err := renderTemplate(welcomeEmailTemplate, WelcomeData{
		AppName:  "Quorum",
		UserName: "alice",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "alice") || !strings.Contains(html, "Quorum") {
		t.Errorf("template missing fields:\n%s", html)
	}
}

func TestTimeoutNoticeTemplateRenders(t *testing.T) {
	until := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	html, err := renderTemplate(timeoutNoticeTemplate, TimeoutNoticeData{
		AppName:  "Quorum",
		UserName: "alice",
		Reason:   "spam",
		Until:    until.Format("Jan 2, 2006 at 15:04 MST"),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "spam") || !strings.Contains(html, "Sep 1, 2026") {
		t.Errorf("template missing fields:\n%s", html)
	}

	// A missing reason drops the whole line.
	html, err = renderTemplate(timeoutNoticeTemplate, TimeoutNoticeData{
		AppName:  "Quorum",
		UserName: "alice",
		Until:    until.Format("Jan 2, 2006 at 15:04 MST"),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "Reason:") {
		t.Errorf("empty reason should not render the reason line:\n%s", html)
	}
}
