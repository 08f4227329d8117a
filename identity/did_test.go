package identity

import "testing"

func TestDIDString(t *testing.T) {
	d := NewDID("genomics", "annotator", "1.2.0")
	want := "did:agent:genomics/annotator-1.2.0"
	if d.String() != want {
		t.Errorf("String() = %s, want %s", d.String(), want)
	}
}

func TestNewDIDDefaultVersion(t *testing.T) {
	d := NewDID("genomics", "annotator", "")
	if d.Version != "1.0.0" {
		t.Errorf("Version = %s, want 1.0.0", d.Version)
	}
}

func TestParseDID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    DID
		wantErr bool
	}{
		{
			name: "canonical",
			in:   "did:agent:genomics/annotator-1.0.0",
			want: DID{Method: "agent", Namespace: "genomics", AgentName: "annotator", Version: "1.0.0"},
		},
		{
			name: "hyphenated agent name",
			in:   "did:agent:lab/variant-caller-2.1.0",
			want: DID{Method: "agent", Namespace: "lab", AgentName: "variant-caller", Version: "2.1.0"},
		},
		{name: "missing did prefix", in: "agent:genomics/annotator-1.0.0", wantErr: true},
		{name: "missing namespace", in: "did:agent:annotator-1.0.0", wantErr: true},
		{name: "missing version", in: "did:agent:genomics/annotator", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseDID(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDIDRoundTrip(t *testing.T) {
	d := NewDID("genomics", "annotator", "1.0.0")
	got, err := ParseDID(d.String())
	if err != nil {
		t.Fatalf("ParseDID(%q) error = %v", d.String(), err)
	}
	if got != d {
		t.Errorf("round trip = %+v, want %+v", got, d)
	}
}
