package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/workmesh/workmesh/pkg/models"
)

// ─── Capability Version ──────────────────────────────────────

func TestParseCapabilityVersion(t *testing.T) {
	v, err := models.ParseCapabilityVersion("1.2.3")
	if err != nil {
		t.Fatalf("ParseCapabilityVersion() error = %v", err)
	}
	if v.Major != 1 || v.Minor != 2 || v.Patch != 3 {
		t.Errorf("ParseCapabilityVersion() = %v, want 1.2.3", v)
	}
	if v.String() != "1.2.3" {
		t.Errorf("String() = %q, want %q", v.String(), "1.2.3")
	}
}

func TestParseCapabilityVersion_Malformed(t *testing.T) {
	for _, in := range []string{"", "1", "1.2", "1.2.3.4", "a.b.c", "1.x.3", "-1.0.0"} {
		if _, err := models.ParseCapabilityVersion(in); err == nil {
			t.Errorf("ParseCapabilityVersion(%q) = nil error, want validation failure", in)
		}
	}
}

func TestNewCapabilityVersion_Negative(t *testing.T) {
	if _, err := models.NewCapabilityVersion(1, -1, 0); err == nil {
		t.Error("NewCapabilityVersion(1,-1,0) = nil error, want validation failure")
	}
}

func TestVersionCompatibility(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.0.0", "1.9.7", true},
		{"1.0.0", "2.0.0", false},
		{"0.1.0", "0.5.3", true},
		{"3.2.1", "3.2.1", true},
	}
	for _, tt := range tests {
		a, _ := models.ParseCapabilityVersion(tt.a)
		b, _ := models.ParseCapabilityVersion(tt.b)
		if got := a.IsCompatibleWith(b); got != tt.want {
			t.Errorf("%s.IsCompatibleWith(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// ─── IO Contract ─────────────────────────────────────────────

func TestNewIOContract(t *testing.T) {
	in := models.Schema{"type": "object"}
	out := models.Schema{"type": "string"}

	c, err := models.NewIOContract(in, out, nil)
	if err != nil {
		t.Fatalf("NewIOContract() error = %v", err)
	}
	if c.Input.Type() != "object" || c.Output.Type() != "string" {
		t.Errorf("contract schema types = %q/%q, want object/string", c.Input.Type(), c.Output.Type())
	}
}

func TestNewIOContract_MissingTypeTag(t *testing.T) {
	ok := models.Schema{"type": "object"}
	bad := models.Schema{"properties": map[string]interface{}{}}

	if _, err := models.NewIOContract(bad, ok, nil); err == nil {
		t.Error("NewIOContract() with untyped input schema: want validation failure")
	}
	if _, err := models.NewIOContract(ok, bad, nil); err == nil {
		t.Error("NewIOContract() with untyped output schema: want validation failure")
	}
}

// ─── Capability Definition ───────────────────────────────────

func testContract(t *testing.T) models.IOContract {
	t.Helper()
	c, err := models.NewIOContract(models.Schema{"type": "object"}, models.Schema{"type": "object"}, nil)
	if err != nil {
		t.Fatalf("NewIOContract() error = %v", err)
	}
	return c
}

func TestNewCapabilityDefinition(t *testing.T) {
	v, _ := models.ParseCapabilityVersion("1.0.0")
	def, err := models.NewCapabilityDefinition("email.classify", v, "Email Classifier", testContract(t))
	if err != nil {
		t.Fatalf("NewCapabilityDefinition() error = %v", err)
	}
	if def.ID != "email.classify" {
		t.Errorf("ID = %q, want %q", def.ID, "email.classify")
	}
}

func TestNewCapabilityDefinition_BadID(t *testing.T) {
	v, _ := models.ParseCapabilityVersion("1.0.0")
	for _, id := range []string{"", "classify", ".classify", "classify.", "a..b"} {
		if _, err := models.NewCapabilityDefinition(id, v, "x", testContract(t)); err == nil {
			t.Errorf("NewCapabilityDefinition(%q) = nil error, want validation failure", id)
		}
	}
}

func TestDefinitionCompatibility(t *testing.T) {
	v1, _ := models.ParseCapabilityVersion("1.0.0")
	v1b, _ := models.ParseCapabilityVersion("1.4.2")
	v2, _ := models.ParseCapabilityVersion("2.0.0")

	a, _ := models.NewCapabilityDefinition("email.classify", v1, "A", testContract(t))
	b, _ := models.NewCapabilityDefinition("email.classify", v1b, "B", testContract(t))
	c, _ := models.NewCapabilityDefinition("email.classify", v2, "C", testContract(t))

	if !a.IsCompatibleWith(b) {
		t.Error("1.0.0 should be compatible with 1.4.2")
	}
	if a.IsCompatibleWith(c) {
		t.Error("1.0.0 should not be compatible with 2.0.0")
	}
}

func TestSchemaFromDefinition(t *testing.T) {
	v, _ := models.ParseCapabilityVersion("1.0.0")
	def, _ := models.NewCapabilityDefinition("classify.email", v, "Email Classifier", testContract(t))
	def.RequiresGPU = true

	s := models.SchemaFromDefinition(def)
	if s.Verb != "classify" || s.Name != "email" {
		t.Errorf("SchemaFromDefinition() verb/name = %q/%q, want classify/email", s.Verb, s.Name)
	}
	if s.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", s.Version)
	}
	if !s.RequiresGPU {
		t.Error("RequiresGPU not carried over")
	}
	if s.Key() != "classify:email" {
		t.Errorf("Key() = %q, want classify:email", s.Key())
	}
}

// ─── Capability Schema ───────────────────────────────────────

func TestCapabilitySchemaValidate(t *testing.T) {
	if err := (models.CapabilitySchema{Name: "email", Verb: "classify"}).Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
	if err := (models.CapabilitySchema{Name: "email"}).Validate(); err == nil {
		t.Error("Validate() missing verb: want error")
	}
	if err := (models.CapabilitySchema{Verb: "classify"}).Validate(); err == nil {
		t.Error("Validate() missing name: want error")
	}
}

// Extension block fields must survive a serialization round trip even
// though routing ignores them.
func TestCapabilityExtensionsRoundTrip(t *testing.T) {
	in := models.CapabilitySchema{
		Name:           "email",
		Verb:           "classify",
		Version:        "1.0.0",
		MaxConcurrency: 4,
		Extensions: &models.CapabilityExtensions{
			RuntimeHints:         map[string]string{"runtime": "gpu-a100"},
			Resources:            &models.ResourceConstraints{MaxMemoryMB: 2048},
			SLO:                  &models.SLOTargets{P99LatencyMS: 500, Availability: 0.999},
			IdentityRef:          "spiffe://mesh/classifier",
			DependsOn:            []string{"embed:text"},
			CostPerCall:          0.002,
			BidTokens:            7,
			PreferredControllers: []string{"ctl-1", "ctl-2"},
		},
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var out models.CapabilitySchema
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	ext := out.Extensions
	if ext == nil {
		t.Fatal("extension block dropped in round trip")
	}
	if ext.RuntimeHints["runtime"] != "gpu-a100" || ext.Resources.MaxMemoryMB != 2048 ||
		ext.SLO.P99LatencyMS != 500 || ext.IdentityRef != "spiffe://mesh/classifier" ||
		len(ext.DependsOn) != 1 || ext.CostPerCall != 0.002 || ext.BidTokens != 7 ||
		len(ext.PreferredControllers) != 2 {
		t.Errorf("extension block mutated in round trip: %+v", ext)
	}
}

// ─── Worker Endpoint ─────────────────────────────────────────

func TestWorkerEndpointIsHealthy(t *testing.T) {
	w := &models.WorkerEndpoint{
		WorkerID:      "w1",
		LastHeartbeat: time.Now().Add(-30 * time.Second),
	}
	if !w.IsHealthy(time.Minute) {
		t.Error("IsHealthy(1m) = false for 30s-old heartbeat, want true")
	}
	if w.IsHealthy(10 * time.Second) {
		t.Error("IsHealthy(10s) = true for 30s-old heartbeat, want false")
	}
}
