package collab

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"text/template"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/lgops/internal/domain"
)

// StaticConfig is a ConfigProvider over in-process defaults with
// optional per-customer overrides.
type StaticConfig struct {
	mu        sync.RWMutex
	defaults  map[string]string
	overrides map[uuid.UUID]map[string]string
}

// DefaultThresholds are the shipped day-threshold and capability
// defaults, applied when no customer override exists.
func DefaultThresholds() map[string]string {
	return map[string]string{
		KeyDualControl:        "true",
		KeyCancelWindowDays:   "3",
		KeyAmendGraceDays:     "35",
		KeyPrintReminderDays:  "2",
		KeyPrintEscalateDays:  "5",
		KeyAutoRenewDays:      "30",
		KeyForcedRenewDays:    "15",
		KeyRenewFirstOffset:   "7",
		KeyRenewSecondOffset:  "3",
		KeyUndeliveredMinDays: "3",
		KeyUndeliveredMaxDays: "30",
		KeyBankReminderDays:   "10",
		KeyStaleApprovalDays:  "30",
	}
}

func NewStaticConfig(defaults map[string]string) *StaticConfig {
	if defaults == nil {
		defaults = DefaultThresholds()
	}
	return &StaticConfig{
		defaults:  defaults,
		overrides: make(map[uuid.UUID]map[string]string),
	}
}

// Override sets a per-customer value.
func (c *StaticConfig) Override(customerID uuid.UUID, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.overrides[customerID]
	if m == nil {
		m = make(map[string]string)
		c.overrides[customerID] = m
	}
	m[key] = value
}

func (c *StaticConfig) EffectiveConfig(_ context.Context, customerID uuid.UUID, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.overrides[customerID]; ok {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	v, ok := c.defaults[key]
	return v, ok
}

// Days reads an integer day threshold, falling back to def when the key
// is missing or malformed.
func Days(ctx context.Context, cfg ConfigProvider, customerID uuid.UUID, key string, def int) int {
	v, ok := cfg.EffectiveConfig(ctx, customerID, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Flag reads a boolean capability flag, defaulting to false.
func Flag(ctx context.Context, cfg ConfigProvider, customerID uuid.UUID, key string) bool {
	v, ok := cfg.EffectiveConfig(ctx, customerID, key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// TemplateRenderer renders letters with text/template. Template bodies
// are registered by id; missing placeholders render empty.
type TemplateRenderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func NewTemplateRenderer() *TemplateRenderer {
	r := &TemplateRenderer{templates: make(map[string]*template.Template)}
	r.Register("default", defaultLetterTemplate)
	return r
}

func (r *TemplateRenderer) Register(id, body string) error {
	t, err := template.New(id).Parse(body)
	if err != nil {
		return fmt.Errorf("parse letter template %s: %w", id, err)
	}
	r.mu.Lock()
	r.templates[id] = t
	r.mu.Unlock()
	return nil
}

func (r *TemplateRenderer) RenderLetter(_ context.Context, templateID string, placeholders map[string]string) ([]byte, error) {
	r.mu.RLock()
	t, ok := r.templates[templateID]
	if !ok {
		t = r.templates["default"]
	}
	r.mu.RUnlock()
	if t == nil {
		return nil, &domain.CollaboratorFailure{Op: "render", Err: fmt.Errorf("no template %q", templateID)}
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, placeholders); err != nil {
		return nil, &domain.CollaboratorFailure{Op: "render", Err: err}
	}
	return buf.Bytes(), nil
}

const defaultLetterTemplate = `To: {{.issuing_bank}}
Re: Letter of Guarantee {{.lg_number}} / {{.serial}}
Beneficiary: {{.beneficiary_name}}
Amount: {{.currency}} {{.amount_formatted}}

{{.body}}
`

// MemoryDocumentStore is the default DocumentStore, holding uploaded
// documents in process. Real deployments swap in an object store.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]storedDocument
}

type storedDocument struct {
	meta DocumentMeta
	data []byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[uuid.UUID]storedDocument)}
}

func (s *MemoryDocumentStore) CreateDocument(_ context.Context, meta DocumentMeta, data []byte) (uuid.UUID, error) {
	if len(data) == 0 {
		return uuid.Nil, &domain.CollaboratorFailure{Op: "document", Err: fmt.Errorf("empty document body")}
	}
	id := uuid.New()
	s.mu.Lock()
	s.docs[id] = storedDocument{meta: meta, data: data}
	s.mu.Unlock()
	return id, nil
}

// GetDocument returns the stored bytes, or false when the id is unknown.
func (s *MemoryDocumentStore) GetDocument(id uuid.UUID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	return doc.data, ok
}

// LogNotifier is the default NotificationSender: it writes the intended
// notification to the structured log and reports success. Real outbound
// transport is wired by the embedding application.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n *LogNotifier) Send(_ context.Context, to, cc []string, subject, body string, data map[string]string) bool {
	fields := logrus.Fields{"to": to, "cc": cc, "subject": subject}
	for _, k := range sortedKeys(data) {
		fields["data_"+k] = data[k]
	}
	n.Log.WithFields(fields).Info("notification dispatched")
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
