package alerting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

// RuleSpec is the YAML form of an alert rule.
type RuleSpec struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Conditions models.Conditions `yaml:"conditions"`
	Channels   map[string]bool   `yaml:"channels"`
	Recipients RecipientSpec     `yaml:"recipients"`
	Active     *bool             `yaml:"active"`
}

// RecipientSpec lists recipients per channel.
type RecipientSpec struct {
	WhatsAppNumbers []string `yaml:"whatsapp_numbers"`
	Emails          []string `yaml:"emails"`
	SlackWebhooks   []string `yaml:"slack_webhooks"`
}

// RulesConfig is the top-level structure of a rules file.
type RulesConfig struct {
	Rules []*RuleSpec `yaml:"rules"`
}

// Validate checks if the rule spec is well-formed.
func (s *RuleSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if s.Kind == "" {
		return fmt.Errorf("rule kind is required")
	}
	if !models.ParseRuleKind(s.Kind).Known() {
		return fmt.Errorf("invalid rule kind: %s", s.Kind)
	}
	if t := s.Conditions.Threshold; t != nil && (*t <= 0 || *t > 100) {
		return fmt.Errorf("threshold must be in (0, 100], got %v", *t)
	}
	for name := range s.Channels {
		switch models.Channel(strings.ToLower(name)) {
		case models.ChannelWhatsApp, models.ChannelEmail, models.ChannelSlack:
		default:
			return fmt.Errorf("invalid channel: %s", name)
		}
	}
	for _, n := range s.Recipients.WhatsAppNumbers {
		if !strings.HasPrefix(n, "+") {
			return fmt.Errorf("whatsapp number must start with +: %s", n)
		}
	}
	for _, u := range s.Recipients.SlackWebhooks {
		if !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("slack webhook must be an https URL: %s", u)
		}
	}
	return nil
}

// ToRule converts s into a rule owned by tenantID.
func (s *RuleSpec) ToRule(tenantID string) *models.AlertRule {
	rule := models.NewAlertRule(tenantID, s.Name, models.ParseRuleKind(s.Kind))
	rule.ID = s.ID
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.Conditions = s.Conditions
	if s.Active != nil {
		rule.Active = *s.Active
	}

	recipients := map[models.Channel][]string{
		models.ChannelWhatsApp: s.Recipients.WhatsAppNumbers,
		models.ChannelEmail:    s.Recipients.Emails,
		models.ChannelSlack:    s.Recipients.SlackWebhooks,
	}
	for name, on := range s.Channels {
		ch := models.Channel(strings.ToLower(name))
		if on {
			rule.Routing.Enable(ch)
		}
	}
	for ch, list := range recipients {
		for _, rcpt := range list {
			rule.Routing.Recipients[ch] = append(rule.Routing.Recipients[ch], strings.TrimSpace(rcpt))
		}
	}
	return rule
}

// LoadRulesFromFile loads rule specs from a YAML file.
func LoadRulesFromFile(path string) ([]*RuleSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads rule specs from a reader.
func LoadRules(r io.Reader) ([]*RuleSpec, error) {
	var config RulesConfig
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}

	if err := ValidateRules(config.Rules); err != nil {
		return nil, err
	}
	return config.Rules, nil
}

// ValidateRules validates every spec and reports the first failure by index.
func ValidateRules(specs []*RuleSpec) error {
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
	}
	return nil
}
