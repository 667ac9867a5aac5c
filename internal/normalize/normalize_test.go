package normalize

import "testing"

func TestAddress(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"suffix rewrite", "123 Main Street", "123 main st"},
		{"punctuation and spacing", "  123   Main St.,  ", "123 main st"},
		{"directional", "400 North High Street", "400 n high st"},
		{"compound directional", "12 Northwest Boulevard Apt #4", "12 nw blvd apt 4"},
		{"accents folded", "9 Rue Château Avenue", "9 rue chateau ave"},
		{"hyphen splits", "55-B Oak Lane", "55 b oak ln"},
		{"empty", "", ""},
		{"only punctuation", "#.,!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Address(tt.raw); got != tt.want {
				t.Errorf("Address(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestAddress_Idempotent(t *testing.T) {
	for _, raw := range []string{"123 Main Street", "400 North High St. Suite 200", "P.O. Box 12"} {
		once := Address(raw)
		if twice := Address(once); twice != once {
			t.Errorf("Address not idempotent for %q: %q then %q", raw, once, twice)
		}
	}
}

func TestPartialAddress(t *testing.T) {
	if got, ok := PartialAddress("123 Main Street Apt 4"); !ok || got != "123 main" {
		t.Errorf("PartialAddress = %q, %v", got, ok)
	}
	if _, ok := PartialAddress("Main Street"); ok {
		t.Error("address without house number should have no partial key")
	}
	if _, ok := PartialAddress("123"); ok {
		t.Error("single token should have no partial key")
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"1-614-555-1234", "6145551234", true},
		{"(614) 555-1234", "6145551234", true},
		{"+1 614 555 1234", "6145551234", true},
		{"555-1234", "", false},
		{"2-614-555-1234", "", false},
		{"", "", false},
		{"614555123456", "", false},
	}
	for _, tt := range tests {
		got, ok := Phone(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Phone(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestPartialPhone(t *testing.T) {
	if got, ok := PartialPhone("555-1234"); !ok || got != "5551234" {
		t.Errorf("PartialPhone = %q, %v", got, ok)
	}
	if got, ok := PartialPhone("1-614-555-1234"); !ok || got != "5551234" {
		t.Errorf("PartialPhone = %q, %v", got, ok)
	}
	if _, ok := PartialPhone("12345"); ok {
		t.Error("short number should have no partial key")
	}
}

func TestPostalCode(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"43215", "43215", true},
		{"43215-1234", "43215", true},
		{"432151234", "43215", true},
		{"43215.0", "43215", true},
		{"2134", "02134", true},
		{"", "", false},
		{"ABCDE", "", false},
	}
	for _, tt := range tests {
		got, ok := PostalCode(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("PostalCode(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestEmail(t *testing.T) {
	if got := Email("  <Jane.Doe@Example.COM> "); got != "jane.doe@example.com" {
		t.Errorf("Email = %q", got)
	}
}
